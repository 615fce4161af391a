// Package rates resolves fiat/crypto exchange rates for refund payouts.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BidAsk is a two-sided quote for a currency pair. Payouts are computed
// against the bid so the merchant never pays out above market.
type BidAsk struct {
	Bid float64
	Ask float64
}

// Source fetches a quote for converting one unit of `from` into `to`.
type Source interface {
	FetchRate(ctx context.Context, from, to string) (BidAsk, error)
}

// Divisibility returns the number of decimal places a currency settles in.
func Divisibility(code string) int {
	switch strings.ToUpper(code) {
	case "BTC":
		return 8
	case "LTC", "ETH":
		return 8
	case "JPY", "KRW":
		return 0
	default:
		return 2
	}
}

// Round rounds an amount to a currency divisibility.
func Round(v float64, divisibility int) float64 {
	p := math.Pow10(divisibility)
	return math.Round(v*p) / p
}

// Static is a fixed-rate source for development and tests, keyed by
// "FROM/TO" pair.
type Static map[string]BidAsk

func (s Static) FetchRate(_ context.Context, from, to string) (BidAsk, error) {
	if ba, ok := s[pairKey(from, to)]; ok {
		return ba, nil
	}
	return BidAsk{}, fmt.Errorf("no rate configured for %s/%s", from, to)
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}

// HTTPSource fetches quotes from the payment platform's rates endpoint.
type HTTPSource struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPSource(baseURL, apiKey string) *HTTPSource {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	return &HTTPSource{baseURL: baseURL, apiKey: apiKey, http: rc.StandardClient()}
}

func (s *HTTPSource) FetchRate(ctx context.Context, from, to string) (BidAsk, error) {
	u := fmt.Sprintf("%s/rates?currencyPair=%s_%s",
		s.baseURL, url.QueryEscape(strings.ToUpper(from)), url.QueryEscape(strings.ToUpper(to)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return BidAsk{}, fmt.Errorf("build rate request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "token "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return BidAsk{}, fmt.Errorf("fetch rate %s/%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return BidAsk{}, fmt.Errorf("fetch rate %s/%s: status %d", from, to, resp.StatusCode)
	}

	var out struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BidAsk{}, fmt.Errorf("decode rate response: %w", err)
	}
	if out.Bid <= 0 {
		return BidAsk{}, fmt.Errorf("rate %s/%s has no usable bid", from, to)
	}
	return BidAsk{Bid: out.Bid, Ask: out.Ask}, nil
}

// Cached wraps a Source with a TTL'd LRU so a burst of refunds does not
// hammer the rate provider. Entries expire; a stale cache never outlives
// its TTL.
type Cached struct {
	src   Source
	cache *expirable.LRU[string, BidAsk]
}

func NewCached(src Source, size int, ttl time.Duration) *Cached {
	return &Cached{
		src:   src,
		cache: expirable.NewLRU[string, BidAsk](size, nil, ttl),
	}
}

func (c *Cached) FetchRate(ctx context.Context, from, to string) (BidAsk, error) {
	key := pairKey(from, to)
	if ba, ok := c.cache.Get(key); ok {
		return ba, nil
	}
	ba, err := c.src.FetchRate(ctx, from, to)
	if err != nil {
		return BidAsk{}, err
	}
	c.cache.Add(key, ba)
	return ba, nil
}
