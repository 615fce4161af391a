// Package checkout turns a buyer's arrival at checkout into exactly one
// invoice per order.
package checkout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
	"github.com/btcpayserver/shopify-bridge/internal/keylock"
	"github.com/btcpayserver/shopify-bridge/internal/metrics"
	"github.com/btcpayserver/shopify-bridge/internal/platform"
)

// InvoiceStore is the slice of the invoice repository checkout needs.
type InvoiceStore interface {
	Create(ctx context.Context, inv *domain.Invoice) error
	FindByTag(ctx context.Context, tag string) ([]domain.Invoice, error)
}

type Service struct {
	locks    *keylock.KeyedLock
	client   platform.OrderClient
	invoices InvoiceStore
	shopURL  string
	logger   *zap.Logger
}

func NewService(locks *keylock.KeyedLock, client platform.OrderClient, invoices InvoiceStore, shopURL string, logger *zap.Logger) *Service {
	return &Service{locks: locks, client: client, invoices: invoices, shopURL: shopURL, logger: logger}
}

// Resolve maps a checkout token to the order's invoice, creating it on
// first arrival. The search-then-create sequence runs under the order's key
// lock, so N concurrent hits on the same order produce one invoice and N-1
// redirects to it.
func (s *Service) Resolve(ctx context.Context, checkoutToken string) (inv *domain.Invoice, created bool, err error) {
	order, err := s.client.GetOrderByCheckoutToken(ctx, checkoutToken)
	if err != nil {
		return nil, false, fmt.Errorf("resolve checkout token: %w", err)
	}
	if order == nil {
		return nil, false, domain.ErrUnknownCheckoutToken
	}
	if !order.PaidThroughBridge() {
		return nil, false, domain.ErrNotBridgeGateway
	}

	release, err := s.locks.Acquire(ctx, domain.OrderTag(order.ID))
	if err != nil {
		return nil, false, fmt.Errorf("acquire order lock: %w", err)
	}
	defer release()

	tag := domain.OrderTag(order.ID)
	existing, err := s.invoices.FindByTag(ctx, tag)
	if err != nil {
		return nil, false, fmt.Errorf("search invoices: %w", err)
	}
	if len(existing) > 0 {
		return &existing[0], false, nil
	}

	base := order.BaseTransaction()
	if base == nil {
		return nil, false, domain.ErrOrderNotCapturable
	}

	inv = &domain.Invoice{
		ID:              uuid.NewString(),
		Status:          domain.InvoiceNew,
		ExceptionStatus: domain.ExceptionNone,
		Currency:        order.TotalOutstanding.Currency,
		Amount:          order.TotalOutstanding.Amount,
		Tags:            []string{tag, order.Name},
		Metadata: map[string]string{
			"orderId":   strconv.FormatInt(order.ID, 10),
			"orderName": order.Name,
			"orderUrl":  s.orderURL(order.ID),
			"gateway":   base.Gateway,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, false, fmt.Errorf("create invoice: %w", err)
	}
	metrics.InvoicesCreated.Inc()

	// Cross-reference on the platform side so the refund path can find us.
	// Best-effort: the tag on the invoice is the authoritative link.
	if err := s.client.UpdateOrderMetafields(ctx, order.ID, []platform.Metafield{
		{Namespace: "custom", Key: "btcpay_invoice_id", Value: inv.ID},
	}); err != nil {
		s.logger.Warn("failed to write invoice metafield on order",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	s.logger.Info("invoice created for order",
		zap.Int64("order_id", order.ID),
		zap.String("invoice_id", inv.ID),
		zap.Float64("amount", inv.Amount),
		zap.String("currency", inv.Currency))
	return inv, true, nil
}

func (s *Service) orderURL(orderID int64) string {
	if s.shopURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/orders/%d", s.shopURL, orderID)
}
