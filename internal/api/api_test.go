package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/checkout"
	"github.com/btcpayserver/shopify-bridge/internal/domain"
	"github.com/btcpayserver/shopify-bridge/internal/events"
	"github.com/btcpayserver/shopify-bridge/internal/keylock"
	"github.com/btcpayserver/shopify-bridge/internal/platform"
	"github.com/btcpayserver/shopify-bridge/internal/rates"
	"github.com/btcpayserver/shopify-bridge/internal/refund"
	"github.com/btcpayserver/shopify-bridge/internal/repository"
	"github.com/btcpayserver/shopify-bridge/internal/webhook"
)

const testSecret = "whsec_test"

type stubPayouts struct {
	mu       sync.Mutex
	requests []domain.PayoutRequest
}

func (s *stubPayouts) CreatePayout(_ context.Context, req domain.PayoutRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return "pp-api", nil
}

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, string, string, string) error { return nil }

type fixture struct {
	srv      *httptest.Server
	client   *platform.Fake
	invoices *repository.InvoiceRepo
	refunds  *repository.RefundRepo
	payouts  *stubPayouts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		client:   platform.NewFake(),
		invoices: repository.NewInvoiceRepo(db),
		refunds:  repository.NewRefundRepo(db),
		payouts:  &stubPayouts{},
	}

	locks := keylock.New()
	logger := zap.NewNop()
	checkoutSvc := checkout.NewService(locks, f.client, f.invoices, "https://shop.example", logger)
	refundSvc := refund.NewService(locks, f.client, f.invoices, f.refunds,
		rates.Static{"BTC/USD": {Bid: 50000, Ask: 50100}},
		f.payouts, stubNotifier{}, refund.Options{
			Mode:          refund.ModeCurrentRate,
			PayoutMethods: []string{"BTC-CHAIN"},
			ClaimBaseURL:  "https://pay.example/pull-payments",
		}, logger)
	bus := events.NewBus(8, logger)

	router := NewRouter(testSecret, "https://pay.example",
		checkoutSvc, refundSvc, bus, f.invoices, f.refunds, logger)
	f.srv = httptest.NewServer(router)
	t.Cleanup(f.srv.Close)
	return f
}

// seedSettled creates a settled invoice linked to an order on the fake
// platform, the state a refund webhook expects to find.
func (f *fixture) seedSettled(t *testing.T, orderID int64) *domain.Invoice {
	t.Helper()
	inv := &domain.Invoice{
		ID:              "inv-" + domain.OrderTag(orderID),
		Status:          domain.InvoiceSettled,
		ExceptionStatus: domain.ExceptionNone,
		Currency:        "USD",
		Amount:          100,
		PaidAmount:      100,
		PaymentCurrency: "BTC",
		PaymentRate:     40000,
		PaidCrypto:      0.0025,
		Tags:            []string{domain.OrderTag(orderID)},
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, f.invoices.Create(context.Background(), inv))
	f.client.PutOrder(&domain.Order{
		ID:            orderID,
		Name:          "#1001",
		CustomerEmail: "buyer@example.com",
		Metafields:    map[string]string{"custom.btcpay_invoice_id": inv.ID},
	})
	return inv
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (f *fixture) postWebhook(t *testing.T, path string, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set(webhook.HeaderSignature, signature)
	}
	req.Header.Set(webhook.HeaderTopic, "refunds/create")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func refundBody(t *testing.T, orderID int64, subtotal float64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"order_id":          orderID,
		"refund_line_items": []map[string]any{{"subtotal": subtotal}},
	})
	require.NoError(t, err)
	return body
}

func TestRefundWebhookMissingSignature(t *testing.T) {
	f := newFixture(t)
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", refundBody(t, 1, -50), "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefundWebhookBadSignature(t *testing.T) {
	f := newFixture(t)
	body := refundBody(t, 1, -50)
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(append(body, '!')))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefundWebhookMalformedPayload(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"refund_line_items": []}`) // no order_id
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefundWebhookSettles(t *testing.T) {
	f := newFixture(t)
	inv := f.seedSettled(t, 20)

	body := refundBody(t, 20, -100)
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	m := decodeBody(t, resp)
	assert.Equal(t, "pp-api", m["payout_id"])
	assert.NotEmpty(t, m["refund_id"])

	rec, err := f.refunds.GetByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "pp-api", rec.PayoutID)
}

func TestRefundWebhookUnknownOrder(t *testing.T) {
	f := newFixture(t)
	body := refundBody(t, 404, -50)
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefundWebhookRedeliveryIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.seedSettled(t, 21)

	body := refundBody(t, 21, -100)
	first := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	require.Equal(t, http.StatusOK, second.StatusCode)
	m := decodeBody(t, second)
	assert.Contains(t, m["skipped"], "already has a refund")

	// Still exactly one payout.
	f.payouts.mu.Lock()
	defer f.payouts.mu.Unlock()
	assert.Len(t, f.payouts.requests, 1)
}

func TestRefundWebhookBeforeSettlementIsRejected(t *testing.T) {
	f := newFixture(t)
	inv := f.seedSettled(t, 22)
	require.NoError(t, f.invoices.UpdateStatus(context.Background(), inv.ID,
		domain.InvoiceNew, domain.ExceptionNone))

	// The invoice hasn't settled yet: reject so the platform redelivers
	// once it has.
	body := refundBody(t, 22, -100)
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.payouts.mu.Lock()
	assert.Empty(t, f.payouts.requests)
	f.payouts.mu.Unlock()

	// After settlement the identical redelivery succeeds.
	require.NoError(t, f.invoices.UpdateStatus(context.Background(), inv.ID,
		domain.InvoiceSettled, domain.ExceptionNone))
	retry := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	assert.Equal(t, http.StatusOK, retry.StatusCode)
}

func TestRefundWebhookUnlinkedOrderIsRejected(t *testing.T) {
	f := newFixture(t)
	// Order exists but no invoice was ever created for it.
	f.client.PutOrder(&domain.Order{ID: 23, Name: "#1023"})

	body := refundBody(t, 23, -50)
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenericWebhookAck(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"id": 99}`)
	resp := f.postWebhook(t, "/api/v1/webhooks", body, sign(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCheckoutCreatesInvoice(t *testing.T) {
	f := newFixture(t)
	f.client.PutOrder(&domain.Order{
		ID:                  30,
		Name:                "#1030",
		CheckoutToken:       "tok-30",
		PaymentGatewayNames: []string{"BTCPay Server"},
		TotalOutstanding:    domain.Money{Amount: 75, Currency: "USD"},
		Transactions: []domain.OrderTransaction{{
			ID:                 "t1",
			Kind:               domain.KindSale,
			Status:             domain.TxSuccess,
			Amount:             domain.Money{Amount: 75, Currency: "USD"},
			Gateway:            "btcpay",
			ManuallyCapturable: true,
		}},
	})

	resp, err := f.srv.Client().Get(f.srv.URL + "/api/v1/checkout?checkout_token=tok-30")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	m := decodeBody(t, resp)
	assert.Equal(t, true, m["created"])
	assert.NotEmpty(t, m["invoice_id"])
}

func TestCheckoutRedirects(t *testing.T) {
	f := newFixture(t)
	f.client.PutOrder(&domain.Order{
		ID:                  31,
		Name:                "#1031",
		CheckoutToken:       "tok-31",
		PaymentGatewayNames: []string{"btcpay"},
		TotalOutstanding:    domain.Money{Amount: 10, Currency: "USD"},
		Transactions: []domain.OrderTransaction{{
			ID: "t1", Kind: domain.KindSale, Status: domain.TxSuccess,
			Amount: domain.Money{Amount: 10, Currency: "USD"}, ManuallyCapturable: true,
		}},
	})

	clientNoRedirect := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := clientNoRedirect.Get(f.srv.URL + "/api/v1/checkout?checkout_token=tok-31&redirect=true")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "https://pay.example/i/")
}

func TestCheckoutUnknownToken(t *testing.T) {
	f := newFixture(t)
	resp, err := f.srv.Client().Get(f.srv.URL + "/api/v1/checkout?checkout_token=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvoiceEventUpdatesStatus(t *testing.T) {
	f := newFixture(t)
	inv := f.seedSettled(t, 40)
	require.NoError(t, f.invoices.UpdateStatus(context.Background(), inv.ID,
		domain.InvoiceNew, domain.ExceptionNone))

	payload, err := json.Marshal(map[string]any{
		"event":            events.InvoiceSettled,
		"paid_amount":      100.0,
		"payment_currency": "BTC",
		"paid_crypto":      0.0025,
		"rate":             40000.0,
	})
	require.NoError(t, err)

	resp, err := f.srv.Client().Post(
		f.srv.URL+"/api/v1/invoices/"+inv.ID+"/events", "application/json",
		bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	got, err := f.invoices.GetByID(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSettled, got.Status)
	assert.Equal(t, 40000.0, got.PaymentRate)
}

func TestInvoiceEventUnknownInvoice(t *testing.T) {
	f := newFixture(t)
	resp, err := f.srv.Client().Post(
		f.srv.URL+"/api/v1/invoices/missing/events", "application/json",
		bytes.NewReader([]byte(`{"event":"invoice_settled"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetInvoiceWithLogsAndRefund(t *testing.T) {
	f := newFixture(t)
	inv := f.seedSettled(t, 50)

	body := refundBody(t, 50, -100)
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	get, err := f.srv.Client().Get(f.srv.URL + "/api/v1/invoices/" + inv.ID)
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)

	m := decodeBody(t, get)
	assert.NotNil(t, m["invoice"])
	assert.NotNil(t, m["refund"])
}

func TestListRefunds(t *testing.T) {
	f := newFixture(t)
	f.seedSettled(t, 60)

	body := refundBody(t, 60, -100)
	resp := f.postWebhook(t, "/api/v1/webhooks/refunds", body, sign(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list, err := f.srv.Client().Get(f.srv.URL + "/api/v1/refunds")
	require.NoError(t, err)
	defer list.Body.Close()
	require.Equal(t, http.StatusOK, list.StatusCode)

	m := decodeBody(t, list)
	assert.Equal(t, float64(1), m["total"])
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := f.srv.Client().Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
