// Package refund settles externally-notified refunds into payouts on the
// payment platform.
package refund

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
	"github.com/btcpayserver/shopify-bridge/internal/keylock"
	"github.com/btcpayserver/shopify-bridge/internal/metrics"
	"github.com/btcpayserver/shopify-bridge/internal/platform"
	"github.com/btcpayserver/shopify-bridge/internal/rates"
)

// Mode selects how the payout amount is derived from the refund total.
type Mode string

const (
	// ModeRateThen divides by the rate recorded when the invoice was paid.
	ModeRateThen Mode = "rate_then"
	// ModeCurrentRate divides by a freshly fetched bid.
	ModeCurrentRate Mode = "current_rate"
	// ModeFiat pays out in the invoice currency and leaves claim approval
	// to the merchant.
	ModeFiat Mode = "fiat"
)

// Options is the merchant's refund configuration.
type Options struct {
	Mode          Mode
	SpreadPercent float64
	PayoutMethods []string
	// ClaimBaseURL prefixes payout ids into buyer-facing claim links.
	ClaimBaseURL string
}

// PayoutClient submits payout requests to the payment platform.
type PayoutClient interface {
	CreatePayout(ctx context.Context, req domain.PayoutRequest) (payoutID string, err error)
}

// Notifier delivers the claim link to the buyer. Delivery mechanics are an
// external concern; failures here never undo the settled refund.
type Notifier interface {
	Notify(ctx context.Context, recipient, orderName, claimURL string) error
}

// InvoiceStore is the slice of the invoice repository the engine needs.
type InvoiceStore interface {
	GetByID(ctx context.Context, id string) (*domain.Invoice, error)
	FindByTag(ctx context.Context, tag string) ([]domain.Invoice, error)
	AppendLog(ctx context.Context, invoiceID string, severity domain.EventSeverity, message string) error
}

// RefundStore persists invoice-to-payout links.
type RefundStore interface {
	Create(ctx context.Context, rec *domain.RefundRecord) error
	ExistsForInvoice(ctx context.Context, invoiceID string) (bool, error)
}

type Service struct {
	locks    *keylock.KeyedLock
	client   platform.OrderClient
	invoices InvoiceStore
	refunds  RefundStore
	rates    rates.Source
	payouts  PayoutClient
	notifier Notifier
	opts     Options
	logger   *zap.Logger
}

func NewService(
	locks *keylock.KeyedLock,
	client platform.OrderClient,
	invoices InvoiceStore,
	refunds RefundStore,
	rateSource rates.Source,
	payouts PayoutClient,
	notifier Notifier,
	opts Options,
	logger *zap.Logger,
) *Service {
	return &Service{
		locks:    locks,
		client:   client,
		invoices: invoices,
		refunds:  refunds,
		rates:    rateSource,
		payouts:  payouts,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
	}
}

// Settle turns a verified refund notification into exactly one payout and
// one refund record. Any failure after the preconditions aborts the whole
// operation; the platform's own webhook retry governs redelivery.
func (s *Service) Settle(ctx context.Context, n *domain.RefundNotification) (*domain.RefundRecord, error) {
	total := n.Total()
	if total <= 0 {
		return nil, domain.ErrNothingToRefund
	}

	// Refunds and captures on the same order must never interleave.
	release, err := s.locks.Acquire(ctx, domain.OrderTag(n.OrderID))
	if err != nil {
		return nil, fmt.Errorf("acquire order lock: %w", err)
	}
	defer release()

	order, err := s.client.GetOrder(ctx, n.OrderID, true)
	if err != nil {
		return nil, fmt.Errorf("fetch order %d: %w", n.OrderID, err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	inv, err := s.linkedInvoice(ctx, order)
	if err != nil {
		return nil, err
	}

	exists, err := s.refunds.ExistsForInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing refund: %w", err)
	}
	if exists {
		return nil, domain.ErrAlreadyRefunded
	}
	if !inv.CanRefund() {
		return nil, domain.ErrRefundNotAllowed
	}

	req, divisibility, err := s.buildPayout(ctx, inv, total)
	if err != nil {
		s.appendLog(ctx, inv.ID, domain.SeverityError, "Refund rejected: "+err.Error())
		return nil, err
	}

	if s.opts.SpreadPercent > 0 {
		reduced := req.Amount - req.Amount*s.opts.SpreadPercent/100
		req.Amount = rates.Round(reduced, divisibility)
		if req.Amount <= 0 {
			s.appendLog(ctx, inv.ID, domain.SeverityError,
				fmt.Sprintf("Refund rejected: the %.2f%% spread reduces the payout to nothing.", s.opts.SpreadPercent))
			return nil, domain.ErrSpreadConsumedPayout
		}
	}

	payoutID, err := s.payouts.CreatePayout(ctx, req)
	if err != nil {
		s.appendLog(ctx, inv.ID, domain.SeverityError, "Failed to create the refund payout: "+err.Error())
		return nil, fmt.Errorf("create payout: %w", err)
	}
	metrics.PayoutsCreated.Inc()

	rec := &domain.RefundRecord{
		ID:        uuid.NewString(),
		InvoiceID: inv.ID,
		PayoutID:  payoutID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.refunds.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist refund record: %w", err)
	}

	s.appendLog(ctx, inv.ID, domain.SeverityInfo,
		fmt.Sprintf("Refund payout created: %s %.8g %s.", payoutID, req.Amount, req.Currency))
	s.logger.Info("refund settled",
		zap.Int64("order_id", n.OrderID),
		zap.String("invoice_id", inv.ID),
		zap.String("payout_id", payoutID),
		zap.Float64("amount", req.Amount),
		zap.String("currency", req.Currency))

	claimURL := s.opts.ClaimBaseURL + "/" + payoutID
	if err := s.notifier.Notify(ctx, order.CustomerEmail, order.Name, claimURL); err != nil {
		s.logger.Warn("failed to notify buyer of refund claim link",
			zap.Int64("order_id", n.OrderID), zap.Error(err))
	}
	return rec, nil
}

// linkedInvoice resolves the invoice for an order, preferring the direct
// metafield cross-reference written at checkout and falling back to the
// internal search tag.
func (s *Service) linkedInvoice(ctx context.Context, order *domain.Order) (*domain.Invoice, error) {
	if id, ok := order.Metafields["custom.btcpay_invoice_id"]; ok && id != "" {
		inv, err := s.invoices.GetByID(ctx, id)
		if err == nil {
			return inv, nil
		}
		// Stale metafield; fall through to the tag search.
	}
	found, err := s.invoices.FindByTag(ctx, domain.OrderTag(order.ID))
	if err != nil {
		return nil, fmt.Errorf("search invoices: %w", err)
	}
	if len(found) == 0 {
		return nil, domain.ErrNoLinkedInvoice
	}
	return &found[0], nil
}

// buildPayout computes the payout request per the configured mode, rounded
// to the payout currency's divisibility.
func (s *Service) buildPayout(ctx context.Context, inv *domain.Invoice, total float64) (domain.PayoutRequest, int, error) {
	req := domain.PayoutRequest{
		Name:          "Refund " + inv.ID,
		PayoutMethods: s.opts.PayoutMethods,
	}

	var divisibility int
	switch s.opts.Mode {
	case ModeRateThen:
		if inv.PaymentCurrency == "" || inv.PaymentRate <= 0 {
			return req, 0, fmt.Errorf("invoice %s has no recorded payment rate", inv.ID)
		}
		divisibility = rates.Divisibility(inv.PaymentCurrency)
		req.Currency = inv.PaymentCurrency
		req.Amount = rates.Round(total/inv.PaymentRate, divisibility)
		req.AutoApprove = true

	case ModeCurrentRate:
		if inv.PaymentCurrency == "" {
			return req, 0, fmt.Errorf("invoice %s has no recorded payment currency", inv.ID)
		}
		ba, err := s.rates.FetchRate(ctx, inv.PaymentCurrency, inv.Currency)
		if err != nil {
			return req, 0, fmt.Errorf("fetch %s/%s rate: %w", inv.PaymentCurrency, inv.Currency, err)
		}
		if ba.Bid <= 0 {
			return req, 0, fmt.Errorf("no usable bid for %s/%s", inv.PaymentCurrency, inv.Currency)
		}
		divisibility = rates.Divisibility(inv.PaymentCurrency)
		req.Currency = inv.PaymentCurrency
		req.Amount = rates.Round(total/ba.Bid, divisibility)
		req.AutoApprove = true

	case ModeFiat:
		divisibility = rates.Divisibility(inv.Currency)
		req.Currency = inv.Currency
		req.Amount = rates.Round(total, divisibility)
		req.AutoApprove = false

	default:
		return req, 0, fmt.Errorf("no refund mode configured")
	}
	return req, divisibility, nil
}

func (s *Service) appendLog(ctx context.Context, invoiceID string, sev domain.EventSeverity, msg string) {
	if err := s.invoices.AppendLog(ctx, invoiceID, sev, msg); err != nil {
		s.logger.Warn("failed to append invoice log",
			zap.String("invoice_id", invoiceID), zap.Error(err))
	}
}
