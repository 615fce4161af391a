// Package reconciliation keeps an order's capture/cancel state consistent
// with its invoice's lifecycle.
package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
	"github.com/btcpayserver/shopify-bridge/internal/events"
	"github.com/btcpayserver/shopify-bridge/internal/keylock"
	"github.com/btcpayserver/shopify-bridge/internal/metrics"
	"github.com/btcpayserver/shopify-bridge/internal/platform"
)

// InvoiceStore is the slice of the invoice repository the engine needs: it
// reads invoices and appends log entries, nothing else.
type InvoiceStore interface {
	GetByID(ctx context.Context, id string) (*domain.Invoice, error)
	AppendLog(ctx context.Context, invoiceID string, severity domain.EventSeverity, message string) error
}

type Service struct {
	locks    *keylock.KeyedLock
	client   platform.OrderClient
	invoices InvoiceStore
	logger   *zap.Logger
}

func NewService(locks *keylock.KeyedLock, client platform.OrderClient, invoices InvoiceStore, logger *zap.Logger) *Service {
	return &Service{locks: locks, client: client, invoices: invoices, logger: logger}
}

// HandleInvoiceEvent is wired as the events.Handler in main. It resolves
// the invoice, extracts the linked order id from its tags, and reconciles.
func (s *Service) HandleInvoiceEvent(ctx context.Context, ev events.InvoiceEvent) error {
	if !events.Reconcilable(ev.Name) {
		return nil
	}
	inv, err := s.invoices.GetByID(ctx, ev.InvoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("load invoice %s: %w", ev.InvoiceID, err)
	}
	orderID := inv.OrderID()
	if orderID == 0 {
		// Invoice wasn't created by the checkout endpoint; not ours.
		return nil
	}
	return s.Reconcile(ctx, orderID, inv)
}

// Reconcile fetches the order fresh, decides on at most one mutation, and
// executes it. Platform call failures are logged against the invoice and do
// not propagate: the next qualifying lifecycle event retries naturally.
// Lock acquisition failure (cancellation) does propagate, so the caller can
// tell a timeout from a domain rejection.
func (s *Service) Reconcile(ctx context.Context, orderID int64, inv *domain.Invoice) error {
	release, err := s.locks.Acquire(ctx, domain.OrderTag(orderID))
	if err != nil {
		return fmt.Errorf("acquire order lock: %w", err)
	}
	defer release()

	order, err := s.client.GetOrder(ctx, orderID, true)
	if err != nil {
		s.appendLog(ctx, inv.ID, domain.SeverityError, "Failed to fetch the order: "+err.Error())
		return nil
	}

	d := Decide(order, inv)
	for _, line := range d.Logs {
		s.appendLog(ctx, inv.ID, line.Severity, line.Message)
	}

	switch d.Outcome {
	case OutcomeCapture:
		_, err := s.client.CaptureOrder(ctx, platform.CaptureRequest{
			OrderID:             orderID,
			ParentTransactionID: d.ParentTransactionID,
			Amount:              d.Amount,
			Currency:            d.Currency,
		})
		if err != nil {
			metrics.OrderActions.WithLabelValues("capture", "error").Inc()
			s.appendLog(ctx, inv.ID, domain.SeverityError, "Failed to capture the order. "+err.Error())
			return nil
		}
		metrics.OrderActions.WithLabelValues("capture", "ok").Inc()
		s.appendLog(ctx, inv.ID, domain.SeverityInfo, "Successfully captured the order.")
		s.logger.Info("order captured",
			zap.Int64("order_id", orderID),
			zap.String("invoice_id", inv.ID),
			zap.Float64("amount", d.Amount),
			zap.String("currency", d.Currency))

	case OutcomeCancel:
		err := s.client.CancelOrder(ctx, platform.CancelRequest{
			OrderID:        orderID,
			Reason:         domain.CancelReasonDeclined,
			NotifyCustomer: false,
			Restock:        true,
			Refund:         d.RefundPriorCapture,
			StaffNote:      StaffNote(inv.ID),
		})
		if err != nil {
			metrics.OrderActions.WithLabelValues("cancel", "error").Inc()
			s.appendLog(ctx, inv.ID, domain.SeverityError, "Failed to cancel the order. "+err.Error())
			return nil
		}
		metrics.OrderActions.WithLabelValues("cancel", "ok").Inc()
		s.appendLog(ctx, inv.ID, domain.SeverityWarning, "Order cancelled.")
		s.logger.Info("order cancelled",
			zap.Int64("order_id", orderID),
			zap.String("invoice_id", inv.ID),
			zap.Bool("refund", d.RefundPriorCapture))
	}

	return nil
}

func (s *Service) appendLog(ctx context.Context, invoiceID string, sev domain.EventSeverity, msg string) {
	if err := s.invoices.AppendLog(ctx, invoiceID, sev, msg); err != nil {
		s.logger.Warn("failed to append invoice log",
			zap.String("invoice_id", invoiceID), zap.Error(err))
	}
}
