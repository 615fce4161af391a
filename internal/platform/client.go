// Package platform talks to the commerce platform's order API.
//
// The platform owns the order record. Callers are expected to hold the
// order's key lock and to re-check the transaction history before issuing a
// mutation; the calls themselves carry no idempotency key.
package platform

import (
	"context"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

// CaptureRequest marks a previously authorized sale as collected funds.
type CaptureRequest struct {
	OrderID             int64   `json:"order_id"`
	ParentTransactionID string  `json:"parent_transaction_id"`
	Amount              float64 `json:"amount"`
	Currency            string  `json:"currency"`
}

// CancelRequest terminates an order, optionally refunding prior captures.
type CancelRequest struct {
	OrderID        int64               `json:"order_id"`
	Reason         domain.CancelReason `json:"reason"`
	NotifyCustomer bool                `json:"notify_customer"`
	Restock        bool                `json:"restock"`
	Refund         bool                `json:"refund"`
	StaffNote      string              `json:"staff_note,omitempty"`
}

// Metafield is a key/value annotation stored on the platform's order.
type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// OrderClient is the bridge's view of the platform API.
//
// GetOrder and GetOrderByCheckoutToken return (nil, nil) when no such order
// exists: absence is an expected condition, not an error.
type OrderClient interface {
	GetOrder(ctx context.Context, id int64, withTransactions bool) (*domain.Order, error)
	GetOrderByCheckoutToken(ctx context.Context, token string) (*domain.Order, error)
	CaptureOrder(ctx context.Context, req CaptureRequest) (*domain.OrderTransaction, error)
	CancelOrder(ctx context.Context, req CancelRequest) error
	UpdateOrderMetafields(ctx context.Context, orderID int64, fields []Metafield) error
}
