package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func invoice(id string, tags ...string) *domain.Invoice {
	return &domain.Invoice{
		ID:              id,
		Status:          domain.InvoiceNew,
		ExceptionStatus: domain.ExceptionNone,
		Currency:        "USD",
		Amount:          25,
		Tags:            tags,
		Metadata:        map[string]string{"orderId": "7"},
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func TestInvoiceCreateAndGet(t *testing.T) {
	repo := NewInvoiceRepo(newDB(t))
	ctx := context.Background()

	inv := invoice("inv-1", domain.OrderTag(7), "#1007")
	require.NoError(t, repo.Create(ctx, inv))

	got, err := repo.GetByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, inv.Currency, got.Currency)
	assert.Equal(t, inv.Amount, got.Amount)
	assert.ElementsMatch(t, inv.Tags, got.Tags)
	assert.Equal(t, "7", got.Metadata["orderId"])
}

func TestInvoiceGetMissing(t *testing.T) {
	repo := NewInvoiceRepo(newDB(t))

	_, err := repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestFindByTagOldestFirst(t *testing.T) {
	repo := NewInvoiceRepo(newDB(t))
	ctx := context.Background()

	older := invoice("inv-old", domain.OrderTag(9))
	older.CreatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, invoice("inv-new", domain.OrderTag(9))))
	require.NoError(t, repo.Create(ctx, invoice("inv-other", domain.OrderTag(10))))

	found, err := repo.FindByTag(ctx, domain.OrderTag(9))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "inv-old", found[0].ID)
	assert.Equal(t, "inv-new", found[1].ID)
}

func TestUpdateStatus(t *testing.T) {
	repo := NewInvoiceRepo(newDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, invoice("inv-2")))

	err := repo.UpdateStatus(ctx, "inv-2", domain.InvoiceExpired, domain.ExceptionPaidPartial)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, "inv-2")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceExpired, got.Status)
	assert.Equal(t, domain.ExceptionPaidPartial, got.ExceptionStatus)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", domain.InvoiceSettled, domain.ExceptionNone), sql.ErrNoRows)
}

func TestRecordPayment(t *testing.T) {
	repo := NewInvoiceRepo(newDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, invoice("inv-3")))

	require.NoError(t, repo.RecordPayment(ctx, "inv-3", 25, "BTC", 0.0005, 50000))

	got, err := repo.GetByID(ctx, "inv-3")
	require.NoError(t, err)
	assert.Equal(t, 25.0, got.PaidAmount)
	assert.Equal(t, "BTC", got.PaymentCurrency)
	assert.Equal(t, 0.0005, got.PaidCrypto)
	assert.Equal(t, 50000.0, got.PaymentRate)
}

func TestAppendAndReadLogs(t *testing.T) {
	repo := NewInvoiceRepo(newDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, invoice("inv-4")))

	require.NoError(t, repo.AppendLog(ctx, "inv-4", domain.SeverityInfo, "first"))
	require.NoError(t, repo.AppendLog(ctx, "inv-4", domain.SeverityWarning, "second"))

	logs, err := repo.Logs(ctx, "inv-4")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, domain.SeverityWarning, logs[1].Severity)
}

func TestRefundUniquePerInvoice(t *testing.T) {
	db := newDB(t)
	invoices := NewInvoiceRepo(db)
	refunds := NewRefundRepo(db)
	ctx := context.Background()
	require.NoError(t, invoices.Create(ctx, invoice("inv-5")))

	rec := &domain.RefundRecord{
		ID:        uuid.NewString(),
		InvoiceID: "inv-5",
		PayoutID:  "pp-1",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, refunds.Create(ctx, rec))

	dup := &domain.RefundRecord{
		ID:        uuid.NewString(),
		InvoiceID: "inv-5",
		PayoutID:  "pp-2",
		CreatedAt: time.Now().UTC(),
	}
	assert.ErrorIs(t, refunds.Create(ctx, dup), domain.ErrAlreadyRefunded)

	exists, err := refunds.ExistsForInvoice(ctx, "inv-5")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := refunds.GetByInvoice(ctx, "inv-5")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pp-1", got.PayoutID)
}

func TestRefundGetByInvoiceMissing(t *testing.T) {
	refunds := NewRefundRepo(newDB(t))

	got, err := refunds.GetByInvoice(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, got)

	list, err := refunds.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
