package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/checkout"
	"github.com/btcpayserver/shopify-bridge/internal/events"
	"github.com/btcpayserver/shopify-bridge/internal/refund"
	"github.com/btcpayserver/shopify-bridge/internal/repository"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	webhookSecret, publicURL string,
	checkoutSvc *checkout.Service,
	refundSvc *refund.Service,
	bus *events.Bus,
	invoiceRepo *repository.InvoiceRepo,
	refundRepo *repository.RefundRepo,
	logger *zap.Logger,
) http.Handler {
	h := &Handlers{
		webhookSecret: webhookSecret,
		publicURL:     publicURL,
		checkout:      checkoutSvc,
		refunds:       refundSvc,
		bus:           bus,
		invoiceRepo:   invoiceRepo,
		refundRepo:    refundRepo,
		logger:        logger,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Webhooks from the commerce platform.
		r.Post("/webhooks/refunds", h.HandleRefundWebhook)
		r.Post("/webhooks", h.HandleWebhook)

		// Buyer-facing checkout hand-off.
		r.Get("/checkout", h.HandleCheckout)

		// Invoice lifecycle events from the payment platform.
		r.Post("/invoices/{id}/events", h.HandleInvoiceEvent)

		// Inspection.
		r.Get("/invoices/{id}", h.GetInvoice)
		r.Get("/refunds", h.ListRefunds)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Healthz)

	return r
}
