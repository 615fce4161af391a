package reconciliation

import (
	"fmt"
	"strings"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

// Outcome is the single mutation (if any) the engine should issue.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCapture
	OutcomeCancel
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCapture:
		return "capture"
	case OutcomeCancel:
		return "cancel"
	default:
		return "none"
	}
}

// LogLine is a decision rationale destined for the invoice ledger.
type LogLine struct {
	Severity domain.EventSeverity
	Message  string
}

// Decision is the result of inspecting an order's transaction history
// against an invoice's lifecycle state. It is computed without I/O so the
// branch logic can be tested against literal history fixtures.
type Decision struct {
	Outcome             Outcome
	ParentTransactionID string
	Amount              float64
	Currency            string
	// RefundPriorCapture asks the cancel call to also refund a still-active
	// capture.
	RefundPriorCapture bool
	Logs               []LogLine
}

func none(logs ...LogLine) Decision {
	return Decision{Outcome: OutcomeNone, Logs: logs}
}

// Decide maps (order history, invoice state) to at most one order mutation.
//
// The order's transaction history is the source of truth: a capture is only
// issued if the aggregate shows no active capture, and a cancel only if the
// order isn't cancelled yet. Replaying the same lifecycle event therefore
// produces no second mutation.
func Decide(order *domain.Order, inv *domain.Invoice) Decision {
	if order == nil {
		// Nothing to reconcile; the order may legitimately not exist yet.
		return none()
	}

	base := order.BaseTransaction()
	if base == nil {
		// Order isn't awaiting settlement.
		return none()
	}

	if !strings.EqualFold(inv.Currency, base.Amount.Currency) {
		// An invoice paid in a foreign currency must never settle the
		// order.
		return none(LogLine{domain.SeverityError, "Currency mismatch between the invoice and the order transaction."})
	}

	canRefund := order.CanRefund()

	switch {
	case paidInFull(inv):
		if canRefund {
			if order.CancelledAt != nil {
				return none(LogLine{domain.SeverityWarning,
					"The order has already been cancelled, but the invoice has been successfully paid."})
			}
			return none(LogLine{domain.SeverityWarning,
				"A transaction was previously recorded against the order. Skipping."})
		}
		amount := inv.PaidAmount
		if amount == 0 {
			amount = inv.Amount
		}
		return Decision{
			Outcome:             OutcomeCapture,
			ParentTransactionID: base.ID,
			Amount:              amount,
			Currency:            inv.Currency,
		}

	case paymentFailed(inv):
		if order.CancelledAt != nil {
			return none()
		}
		return Decision{
			Outcome:            OutcomeCancel,
			RefundPriorCapture: canRefund,
		}

	default:
		return none()
	}
}

// paidInFull covers invoices whose collected funds should be captured:
// settled (and processing, which settles momentarily), or expired while
// holding a partial payment worth capturing.
func paidInFull(inv *domain.Invoice) bool {
	switch inv.Status {
	case domain.InvoiceSettled, domain.InvoiceProcessing:
		return true
	case domain.InvoiceExpired:
		return inv.ExceptionStatus == domain.ExceptionPaidPartial
	default:
		return false
	}
}

// paymentFailed covers invoices that will never be paid: the order should
// be cancelled, refunding any prior capture.
func paymentFailed(inv *domain.Invoice) bool {
	switch inv.Status {
	case domain.InvoiceInvalid:
		return true
	case domain.InvoiceExpired:
		return inv.ExceptionStatus != domain.ExceptionPaidPartial
	default:
		return false
	}
}

// StaffNote is the note attached to platform-side cancellations.
func StaffNote(invoiceID string) string {
	return fmt.Sprintf("Invoice %s expired or invalid", invoiceID)
}
