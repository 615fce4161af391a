package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

// Fake is an in-memory OrderClient for tests. It applies captures and
// cancellations to the stored order history the way the real platform
// would, and counts mutation calls so tests can assert idempotency.
type Fake struct {
	mu     sync.Mutex
	orders map[int64]*domain.Order

	CaptureCalls int
	CancelCalls  int
	MetaCalls    int

	// ErrOnCapture / ErrOnCancel force the next mutation to fail.
	ErrOnCapture error
	ErrOnCancel  error
}

func NewFake() *Fake {
	return &Fake{orders: make(map[int64]*domain.Order)}
}

// PutOrder seeds or replaces an order.
func (f *Fake) PutOrder(o *domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

// Order returns the stored order for assertions.
func (f *Fake) Order(id int64) *domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func (f *Fake) GetOrder(_ context.Context, id int64, _ bool) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	cp.Transactions = append([]domain.OrderTransaction(nil), o.Transactions...)
	return &cp, nil
}

func (f *Fake) GetOrderByCheckoutToken(_ context.Context, token string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.CheckoutToken == token {
			cp := *o
			cp.Transactions = append([]domain.OrderTransaction(nil), o.Transactions...)
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *Fake) CaptureOrder(_ context.Context, req CaptureRequest) (*domain.OrderTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CaptureCalls++
	if f.ErrOnCapture != nil {
		return nil, f.ErrOnCapture
	}
	o, ok := f.orders[req.OrderID]
	if !ok {
		return nil, &APIError{StatusCode: 404, Body: "order not found"}
	}
	tx := domain.OrderTransaction{
		ID:                  fmt.Sprintf("tx-%d-%d", req.OrderID, len(o.Transactions)+1),
		Kind:                domain.KindCapture,
		Status:              domain.TxSuccess,
		Amount:              domain.Money{Amount: req.Amount, Currency: req.Currency},
		ParentTransactionID: req.ParentTransactionID,
		ProcessedAt:         time.Now(),
	}
	o.Transactions = append(o.Transactions, tx)
	return &tx, nil
}

func (f *Fake) CancelOrder(_ context.Context, req CancelRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CancelCalls++
	if f.ErrOnCancel != nil {
		return f.ErrOnCancel
	}
	o, ok := f.orders[req.OrderID]
	if !ok {
		return &APIError{StatusCode: 404, Body: "order not found"}
	}
	now := time.Now()
	o.CancelledAt = &now
	if req.Refund {
		o.Transactions = append(o.Transactions, domain.OrderTransaction{
			ID:          fmt.Sprintf("tx-%d-%d", req.OrderID, len(o.Transactions)+1),
			Kind:        domain.KindRefund,
			Status:      domain.TxSuccess,
			ProcessedAt: now,
		})
	}
	return nil
}

func (f *Fake) UpdateOrderMetafields(_ context.Context, orderID int64, fields []Metafield) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MetaCalls++
	o, ok := f.orders[orderID]
	if !ok {
		return &APIError{StatusCode: 404, Body: "order not found"}
	}
	if o.Metafields == nil {
		o.Metafields = make(map[string]string)
	}
	for _, m := range fields {
		o.Metafields[m.Namespace+"."+m.Key] = m.Value
	}
	return nil
}
