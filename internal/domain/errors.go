package domain

import "errors"

// Domain precondition failures. Handlers translate these into HTTP
// rejections; none of them indicates a bug or warrants a retry by us.
var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrUnknownCheckoutToken = errors.New("no order matches the checkout token")
	ErrNotBridgeGateway     = errors.New("order was not placed through the bridge payment option")
	ErrOrderNotCapturable   = errors.New("order has no capturable sale transaction")
	ErrCurrencyMismatch     = errors.New("invoice currency does not match the order transaction currency")
	ErrNoLinkedInvoice      = errors.New("no invoice is linked to the order")
	ErrAlreadyRefunded      = errors.New("invoice already has a refund")
	ErrRefundNotAllowed     = errors.New("invoice state cannot accept a refund")
	ErrNothingToRefund      = errors.New("refund notification carries no refundable amount")
	ErrSpreadConsumedPayout = errors.New("configured spread reduces the payout to zero or below")
)
