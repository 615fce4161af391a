package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/checkout"
	"github.com/btcpayserver/shopify-bridge/internal/domain"
	"github.com/btcpayserver/shopify-bridge/internal/events"
	"github.com/btcpayserver/shopify-bridge/internal/metrics"
	"github.com/btcpayserver/shopify-bridge/internal/refund"
	"github.com/btcpayserver/shopify-bridge/internal/repository"
	"github.com/btcpayserver/shopify-bridge/internal/webhook"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	webhookSecret string
	publicURL     string

	checkout *checkout.Service
	refunds  *refund.Service
	bus      *events.Bus

	invoiceRepo *repository.InvoiceRepo
	refundRepo  *repository.RefundRepo

	logger *zap.Logger
}

// --- helpers ---

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// --- HandleRefundWebhook ---

// HandleRefundWebhook authenticates a refund notification and hands it to
// the settlement engine. The platform retries deliveries that do not get a
// 2xx: recoverable precondition failures reject so redelivery picks them
// up once the state catches up, while failures that can never succeed
// answer 200 with a skip reason instead of provoking an endless retry
// loop.
func (h *Handlers) HandleRefundWebhook(w http.ResponseWriter, r *http.Request) {
	env, err := webhook.ReadEnvelope(r)
	if err != nil {
		if errors.Is(err, webhook.ErrMissingSignature) {
			metrics.WebhookRequests.WithLabelValues("refunds/create", "unauthorized").Inc()
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		metrics.WebhookRequests.WithLabelValues("refunds/create", "bad_request").Inc()
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !env.Verify(h.webhookSecret) {
		metrics.WebhookRequests.WithLabelValues("refunds/create", "unauthorized").Inc()
		h.writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	n, err := env.DecodeRefund()
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("refunds/create", "bad_request").Inc()
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.refunds.Settle(r.Context(), n)
	switch {
	case err == nil:
		metrics.WebhookRequests.WithLabelValues("refunds/create", "accepted").Inc()
		h.writeJSON(w, http.StatusOK, map[string]string{
			"refund_id": rec.ID,
			"payout_id": rec.PayoutID,
		})
	case errors.Is(err, domain.ErrOrderNotFound):
		metrics.WebhookRequests.WithLabelValues("refunds/create", "not_found").Inc()
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoLinkedInvoice),
		errors.Is(err, domain.ErrRefundNotAllowed):
		// Recoverable: the invoice may settle, or the checkout link may
		// appear, before the platform redelivers. Reject so it retries.
		metrics.WebhookRequests.WithLabelValues("refunds/create", "bad_request").Inc()
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNothingToRefund),
		errors.Is(err, domain.ErrAlreadyRefunded),
		errors.Is(err, domain.ErrSpreadConsumedPayout):
		// Redelivering the same notification cannot change any of these.
		metrics.WebhookRequests.WithLabelValues("refunds/create", "skipped").Inc()
		h.writeJSON(w, http.StatusOK, map[string]string{"skipped": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.WebhookRequests.WithLabelValues("refunds/create", "error").Inc()
		h.writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		metrics.WebhookRequests.WithLabelValues("refunds/create", "error").Inc()
		h.logger.Error("refund settlement failed",
			zap.Int64("order_id", n.OrderID), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "refund settlement failed")
	}
}

// --- HandleWebhook ---

// HandleWebhook acknowledges any other subscribed topic. The platform
// removes subscriptions whose endpoint keeps failing, so topics we do not
// act on still need an authenticated 200.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	env, err := webhook.ReadEnvelope(r)
	if err != nil {
		if errors.Is(err, webhook.ErrMissingSignature) {
			metrics.WebhookRequests.WithLabelValues("unknown", "unauthorized").Inc()
			h.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		metrics.WebhookRequests.WithLabelValues("unknown", "bad_request").Inc()
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !env.Verify(h.webhookSecret) {
		metrics.WebhookRequests.WithLabelValues(env.Topic, "unauthorized").Inc()
		h.writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}
	metrics.WebhookRequests.WithLabelValues(env.Topic, "accepted").Inc()
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- HandleCheckout ---

// HandleCheckout resolves a checkout token to its invoice, creating one if
// the order has none yet, and either redirects the buyer to the invoice
// checkout page or answers with the invoice id.
func (h *Handlers) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("checkout_token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "checkout_token is required")
		return
	}

	inv, created, err := h.checkout.Resolve(r.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnknownCheckoutToken),
		errors.Is(err, domain.ErrNotBridgeGateway):
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, domain.ErrOrderNotCapturable):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		h.logger.Error("checkout resolution failed", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "could not resolve checkout")
		return
	}

	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, h.invoiceCheckoutURL(inv.ID), http.StatusFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoice_id": inv.ID,
		"created":    created,
	})
}

func (h *Handlers) invoiceCheckoutURL(invoiceID string) string {
	return fmt.Sprintf("%s/i/%s", h.publicURL, url.PathEscape(invoiceID))
}

// --- HandleInvoiceEvent ---

type invoiceEventRequest struct {
	Event           string  `json:"event"`
	ExceptionStatus string  `json:"exception_status"`
	PaidAmount      float64 `json:"paid_amount"`
	PaymentCurrency string  `json:"payment_currency"`
	PaidCrypto      float64 `json:"paid_crypto"`
	Rate            float64 `json:"rate"`
}

// HandleInvoiceEvent receives an invoice lifecycle event from the payment
// platform, mirrors the new status into the local ledger and publishes the
// event for the reconciliation worker.
func (h *Handlers) HandleInvoiceEvent(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "id")

	var req invoiceEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid event payload: "+err.Error())
		return
	}
	if req.Event == "" {
		h.writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	if _, err := h.invoiceRepo.GetByID(r.Context(), invoiceID); err != nil {
		h.writeError(w, http.StatusNotFound, "invoice not found")
		return
	}

	if status, ok := events.StatusForEvent(req.Event); ok {
		exception := domain.ExceptionStatus(req.ExceptionStatus)
		if exception == "" {
			exception = domain.ExceptionNone
		}
		if err := h.invoiceRepo.UpdateStatus(r.Context(), invoiceID, status, exception); err != nil {
			h.logger.Error("update invoice status",
				zap.String("invoice_id", invoiceID), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "could not update invoice")
			return
		}
	}
	if req.PaidAmount > 0 {
		err := h.invoiceRepo.RecordPayment(r.Context(), invoiceID,
			req.PaidAmount, req.PaymentCurrency, req.PaidCrypto, req.Rate)
		if err != nil {
			h.logger.Error("record invoice payment",
				zap.String("invoice_id", invoiceID), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "could not record payment")
			return
		}
	}

	ev := events.InvoiceEvent{InvoiceID: invoiceID, Name: req.Event}
	if err := h.bus.Publish(r.Context(), ev); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "event queue unavailable")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// --- GetInvoice ---

func (h *Handlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := h.invoiceRepo.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	logs, err := h.invoiceRepo.Logs(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec, err := h.refundRepo.GetByInvoice(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"invoice": inv,
		"logs":    logs,
		"refund":  rec,
	})
}

// --- ListRefunds ---

func (h *Handlers) ListRefunds(w http.ResponseWriter, r *http.Request) {
	records, err := h.refundRepo.List(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"refunds": records,
		"total":   len(records),
	})
}

// --- Healthz ---

func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
