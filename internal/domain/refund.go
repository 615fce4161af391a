package domain

import (
	"math"
	"time"
)

// RefundRecord links one invoice to one payout. At most one record ever
// exists per invoice; the refund engine checks before creating a payout and
// the repository enforces it with a unique constraint.
type RefundRecord struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoice_id"`
	PayoutID  string    `json:"payout_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PayoutRequest asks the payment platform to disburse funds to a claimant.
// Transient: not persisted beyond submission.
type PayoutRequest struct {
	Name          string   `json:"name"`
	Currency      string   `json:"currency"`
	Amount        float64  `json:"amount"`
	PayoutMethods []string `json:"payout_methods"`
	AutoApprove   bool     `json:"auto_approve"`
	Description   string   `json:"description,omitempty"`
}

// RefundLineItem carries the refunded subtotal of one order line.
type RefundLineItem struct {
	Subtotal float64 `json:"subtotal"`
}

// OrderAdjustment is an order-level amount correction. Only adjustments
// carrying a refund id count towards the refund total.
type OrderAdjustment struct {
	RefundID *int64  `json:"refund_id"`
	Amount   float64 `json:"amount"`
}

// RefundNotification is the typed payload of a refund webhook.
type RefundNotification struct {
	OrderID         int64             `json:"order_id"`
	RefundLineItems []RefundLineItem  `json:"refund_line_items"`
	OrderAdjustments []OrderAdjustment `json:"order_adjustments"`
}

// Total sums the absolute refunded line subtotals and the absolute amounts
// of refund-linked adjustments, in the order's presentment currency.
func (n *RefundNotification) Total() float64 {
	var total float64
	for _, li := range n.RefundLineItems {
		total += math.Abs(li.Subtotal)
	}
	for _, adj := range n.OrderAdjustments {
		if adj.RefundID != nil {
			total += math.Abs(adj.Amount)
		}
	}
	return total
}
