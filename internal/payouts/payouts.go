// Package payouts submits payout (pull payment) requests to the payment
// platform's API.
package payouts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

// HTTPClient creates pull payments over the payment platform's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	return &HTTPClient{baseURL: baseURL, apiKey: apiKey, http: rc.StandardClient()}
}

// CreatePayout submits the request and returns the platform's payout id.
func (c *HTTPClient) CreatePayout(ctx context.Context, req domain.PayoutRequest) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return "", fmt.Errorf("encode payout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pull-payments", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "token "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("create pull payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg bytes.Buffer
		msg.ReadFrom(resp.Body)
		return "", fmt.Errorf("create pull payment: status %d: %s", resp.StatusCode, msg.String())
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode pull payment response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("pull payment response carries no id")
	}
	return out.ID, nil
}
