// Package events carries invoice lifecycle events from the payment platform
// host into the reconciliation engine.
//
// The host publishes onto an explicit Bus handed to it at construction;
// there is no ambient global subscription. A single consumer goroutine
// drains the queue and invokes the registered handler.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

// Lifecycle event names delivered by the payment platform.
const (
	InvoiceSettled         = "invoice_settled"
	InvoiceConfirmed       = "invoice_confirmed"
	InvoiceInvalid         = "invoice_invalid"
	InvoiceExpired         = "invoice_expired"
	InvoiceFailedToConfirm = "invoice_failed_to_confirm"
)

// Reconcilable reports whether an event name should trigger reconciliation.
func Reconcilable(name string) bool {
	switch name {
	case InvoiceSettled, InvoiceConfirmed, InvoiceInvalid, InvoiceExpired, InvoiceFailedToConfirm:
		return true
	}
	return false
}

// StatusForEvent maps a lifecycle event name to the invoice status it
// implies, so the host-facing event endpoint can keep the local ledger in
// step with the payment platform.
func StatusForEvent(name string) (domain.InvoiceStatus, bool) {
	switch name {
	case InvoiceSettled:
		return domain.InvoiceSettled, true
	case InvoiceConfirmed:
		return domain.InvoiceProcessing, true
	case InvoiceInvalid, InvoiceFailedToConfirm:
		return domain.InvoiceInvalid, true
	case InvoiceExpired:
		return domain.InvoiceExpired, true
	}
	return "", false
}

// InvoiceEvent is one lifecycle transition of an invoice.
type InvoiceEvent struct {
	InvoiceID string `json:"invoice_id"`
	Name      string `json:"name"`
}

// Handler processes one event. Errors are logged, not retried: the engine
// is best-effort and the next qualifying transition retries naturally.
type Handler func(ctx context.Context, ev InvoiceEvent) error

// Bus is a bounded in-process event queue.
type Bus struct {
	ch     chan InvoiceEvent
	logger *zap.Logger
}

func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{ch: make(chan InvoiceEvent, buffer), logger: logger}
}

// Publish enqueues an event, blocking if the queue is full until ctx is
// done.
func (b *Bus) Publish(ctx context.Context, ev InvoiceEvent) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until ctx is cancelled. It is meant to be started
// once, from main.
func (b *Bus) Run(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.ch:
			if err := handler(ctx, ev); err != nil {
				b.logger.Error("invoice event handler failed",
					zap.String("invoice_id", ev.InvoiceID),
					zap.String("event", ev.Name),
					zap.Error(err))
			}
		}
	}
}
