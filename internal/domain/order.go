package domain

import (
	"strings"
	"time"
)

type TransactionKind string

const (
	KindSale    TransactionKind = "SALE"
	KindCapture TransactionKind = "CAPTURE"
	KindVoid    TransactionKind = "VOID"
	KindRefund  TransactionKind = "REFUND"
)

type TransactionStatus string

const (
	TxPending TransactionStatus = "PENDING"
	TxSuccess TransactionStatus = "SUCCESS"
	TxFailure TransactionStatus = "FAILURE"
)

// Money is an amount in a presentment currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// OrderTransaction is one entry of an order's append-only payment history.
// The bridge never edits existing transactions, it only causes the platform
// to append new ones via capture/cancel calls.
type OrderTransaction struct {
	ID                  string            `json:"id"`
	Kind                TransactionKind   `json:"kind"`
	Status              TransactionStatus `json:"status"`
	Amount              Money             `json:"amount"`
	Gateway             string            `json:"gateway"`
	ParentTransactionID string            `json:"parent_transaction_id,omitempty"`
	ManuallyCapturable  bool              `json:"manually_capturable"`
	ProcessedAt         time.Time         `json:"processed_at"`
}

// IsManuallyCapturableSale reports whether the transaction is an authorized
// sale still awaiting an explicit capture.
func (t OrderTransaction) IsManuallyCapturableSale() bool {
	return t.Kind == KindSale && t.ManuallyCapturable
}

// Order is the commerce platform's order record. The platform owns it; the
// bridge reads it fresh inside every critical section and never caches it.
type Order struct {
	ID                  int64              `json:"id"`
	Name                string             `json:"name"`
	CheckoutToken       string             `json:"checkout_token,omitempty"`
	CancelledAt         *time.Time         `json:"cancelled_at,omitempty"`
	PaymentGatewayNames []string           `json:"payment_gateway_names"`
	TotalOutstanding    Money              `json:"total_outstanding"`
	CustomerEmail       string             `json:"customer_email,omitempty"`
	StatusPageURL       string             `json:"status_page_url,omitempty"`
	Transactions        []OrderTransaction `json:"transactions,omitempty"`
	Metafields          map[string]string  `json:"metafields,omitempty"`
}

// BaseTransaction returns the most recent manually-capturable sale, or nil
// if the order is not awaiting settlement.
func (o *Order) BaseTransaction() *OrderTransaction {
	for i := len(o.Transactions) - 1; i >= 0; i-- {
		if o.Transactions[i].IsManuallyCapturableSale() {
			return &o.Transactions[i]
		}
	}
	return nil
}

func (o *Order) countSuccessful(kind TransactionKind) int {
	n := 0
	for _, t := range o.Transactions {
		if t.Kind == kind && t.Status == TxSuccess {
			n++
		}
	}
	return n
}

// SuccessfulCaptures counts capture transactions that went through.
func (o *Order) SuccessfulCaptures() int { return o.countSuccessful(KindCapture) }

// SuccessfulRefunds counts refund transactions that went through.
func (o *Order) SuccessfulRefunds() int { return o.countSuccessful(KindRefund) }

// CanRefund reports whether a prior capture is still active, i.e. there is
// captured money on the order that a cancellation must also refund.
func (o *Order) CanRefund() bool {
	captures := o.SuccessfulCaptures()
	return captures > 0 && captures > o.SuccessfulRefunds()
}

// GatewayKeyword identifies orders checked out through this bridge's payment
// option. Matching is by gateway-name keyword; it only gates checkout, the
// reconciliation path relies on the structural capturable-sale flag instead.
const GatewayKeyword = "btcpay"

// IsBridgeGateway reports whether a gateway name belongs to the bridge.
func IsBridgeGateway(name string) bool {
	return strings.Contains(strings.ToLower(name), GatewayKeyword)
}

// PaidThroughBridge reports whether any of the order's gateways is ours.
func (o *Order) PaidThroughBridge() bool {
	for _, g := range o.PaymentGatewayNames {
		if IsBridgeGateway(g) {
			return true
		}
	}
	return false
}

// CancelReason values accepted by the platform's order cancel call.
type CancelReason string

const (
	CancelReasonDeclined CancelReason = "DECLINED"
	CancelReasonCustomer CancelReason = "CUSTOMER"
	CancelReasonOther    CancelReason = "OTHER"
)
