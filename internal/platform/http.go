package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

// HTTPClient implements OrderClient against the platform's admin REST API.
// Transient failures (5xx, connection resets) are retried by the underlying
// retryable client; 4xx responses surface as *APIError.
type HTTPClient struct {
	baseURL     string
	accessToken string
	http        *http.Client
	logger      *zap.Logger
}

// APIError is a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api: status %d: %s", e.StatusCode, e.Body)
}

func NewHTTPClient(baseURL, accessToken string, logger *zap.Logger) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil // zap below, not retryablehttp's own logger
	return &HTTPClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		http:        rc.StandardClient(),
		logger:      logger,
	}
}

func (c *HTTPClient) GetOrder(ctx context.Context, id int64, withTransactions bool) (*domain.Order, error) {
	path := fmt.Sprintf("/orders/%d.json", id)
	if withTransactions {
		path += "?transactions=true"
	}
	var resp struct {
		Order *domain.Order `json:"order"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Order, nil
}

func (c *HTTPClient) GetOrderByCheckoutToken(ctx context.Context, token string) (*domain.Order, error) {
	path := "/orders.json?transactions=true&checkout_token=" + url.QueryEscape(token)
	var resp struct {
		Orders []domain.Order `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Orders) == 0 {
		return nil, nil
	}
	return &resp.Orders[0], nil
}

func (c *HTTPClient) CaptureOrder(ctx context.Context, req CaptureRequest) (*domain.OrderTransaction, error) {
	body := map[string]any{
		"transaction": map[string]any{
			"kind":      "capture",
			"parent_id": req.ParentTransactionID,
			"amount":    strconv.FormatFloat(req.Amount, 'f', -1, 64),
			"currency":  req.Currency,
		},
	}
	var resp struct {
		Transaction *domain.OrderTransaction `json:"transaction"`
	}
	path := fmt.Sprintf("/orders/%d/transactions.json", req.OrderID)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	c.logger.Info("captured ordertransaction",
		zap.Int64("order_id", req.OrderID),
		zap.Float64("amount", req.Amount),
		zap.String("currency", req.Currency))
	return resp.Transaction, nil
}

func (c *HTTPClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	body := map[string]any{
		"reason":     string(req.Reason),
		"email":      req.NotifyCustomer,
		"restock":    req.Restock,
		"refund":     req.Refund,
		"staff_note": req.StaffNote,
	}
	path := fmt.Sprintf("/orders/%d/cancel.json", req.OrderID)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return err
	}
	c.logger.Info("cancelled order",
		zap.Int64("order_id", req.OrderID),
		zap.Bool("refund", req.Refund))
	return nil
}

func (c *HTTPClient) UpdateOrderMetafields(ctx context.Context, orderID int64, fields []Metafield) error {
	body := map[string]any{"metafields": fields}
	path := fmt.Sprintf("/orders/%d/metafields.json", orderID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg bytes.Buffer
		msg.ReadFrom(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: msg.String()}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func notFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}
