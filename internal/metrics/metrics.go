// Package metrics exposes the bridge's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequests counts webhook deliveries by topic and outcome
	// (accepted, unauthorized, bad_request, not_found, error).
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_webhook_requests_total",
		Help: "Webhook deliveries by topic and outcome.",
	}, []string{"topic", "outcome"})

	// OrderActions counts capture/cancel mutations issued to the commerce
	// platform and whether they succeeded.
	OrderActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_order_actions_total",
		Help: "Order mutations issued to the commerce platform.",
	}, []string{"action", "result"})

	// InvoicesCreated counts invoices created at checkout.
	InvoicesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_invoices_created_total",
		Help: "Invoices created for commerce platform orders.",
	})

	// PayoutsCreated counts refund payouts submitted to the payment
	// platform.
	PayoutsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_payouts_created_total",
		Help: "Refund payouts created.",
	})
)
