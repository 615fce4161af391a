package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type InvoiceStatus string

const (
	InvoiceNew        InvoiceStatus = "new"
	InvoiceProcessing InvoiceStatus = "processing"
	InvoiceSettled    InvoiceStatus = "settled"
	InvoiceInvalid    InvoiceStatus = "invalid"
	InvoiceExpired    InvoiceStatus = "expired"
)

// ExceptionStatus qualifies expired/settled invoices that did not follow the
// happy path.
type ExceptionStatus string

const (
	ExceptionNone        ExceptionStatus = "none"
	ExceptionPaidPartial ExceptionStatus = "paid_partial"
	ExceptionPaidLate    ExceptionStatus = "paid_late"
	ExceptionPaidOver    ExceptionStatus = "paid_over"
)

// OrderTagPrefix prefixes the internal search tag that links an invoice to a
// commerce platform order.
const OrderTagPrefix = "shopify-"

// OrderTag returns the search tag for an order id.
func OrderTag(orderID int64) string {
	return fmt.Sprintf("%s%d", OrderTagPrefix, orderID)
}

// Invoice is the local payment platform's invoice. The bridge creates one
// per order at checkout, and afterwards only reads it and appends log
// entries; the payment platform owns its lifecycle.
type Invoice struct {
	ID              string            `json:"id"`
	Status          InvoiceStatus     `json:"status"`
	ExceptionStatus ExceptionStatus   `json:"exception_status"`
	Currency        string            `json:"currency"`
	Amount          float64           `json:"amount"`
	PaidAmount      float64           `json:"paid_amount"`
	PaymentCurrency string            `json:"payment_currency,omitempty"`
	PaymentRate     float64           `json:"payment_rate,omitempty"`
	PaidCrypto      float64           `json:"paid_crypto,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// OrderID extracts the linked order id from the invoice's internal tags, or
// 0 if the invoice is not linked to an order.
func (i *Invoice) OrderID() int64 {
	for _, tag := range i.Tags {
		if !strings.HasPrefix(tag, OrderTagPrefix) {
			continue
		}
		if id, err := strconv.ParseInt(strings.TrimPrefix(tag, OrderTagPrefix), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// CanRefund reports whether the invoice's current state can accept a refund:
// fully settled, or expired while holding a partial payment.
func (i *Invoice) CanRefund() bool {
	switch i.Status {
	case InvoiceSettled:
		return true
	case InvoiceExpired:
		return i.ExceptionStatus == ExceptionPaidPartial
	default:
		return false
	}
}

// EventSeverity classifies invoice log entries.
type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// LogEntry is a structured note appended to an invoice's ledger, recording a
// reconciliation decision or failure.
type LogEntry struct {
	InvoiceID string        `json:"invoice_id"`
	Severity  EventSeverity `json:"severity"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}
