package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

type RefundRepo struct {
	db *sql.DB
}

func NewRefundRepo(db *sql.DB) *RefundRepo {
	return &RefundRepo{db: db}
}

// Create persists the invoice-to-payout link. The unique constraint on
// invoice_id turns a concurrent double-insert into domain.ErrAlreadyRefunded
// instead of a second record.
func (r *RefundRepo) Create(ctx context.Context, rec *domain.RefundRecord) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO refund_records (id, invoice_id, payout_id, created_at) VALUES (?,?,?,?)",
		rec.ID, rec.InvoiceID, rec.PayoutID, rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrAlreadyRefunded
		}
		return fmt.Errorf("insert refund record: %w", err)
	}
	return nil
}

// GetByInvoice returns the refund record for an invoice, or nil if none.
func (r *RefundRepo) GetByInvoice(ctx context.Context, invoiceID string) (*domain.RefundRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, invoice_id, payout_id, created_at FROM refund_records WHERE invoice_id = ?",
		invoiceID)
	rec, err := scanRefund(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ExistsForInvoice reports whether the invoice already has a refund.
func (r *RefundRepo) ExistsForInvoice(ctx context.Context, invoiceID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM refund_records WHERE invoice_id = ?", invoiceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count refunds: %w", err)
	}
	return n > 0, nil
}

// List returns all refund records, newest first.
func (r *RefundRepo) List(ctx context.Context) ([]domain.RefundRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, invoice_id, payout_id, created_at FROM refund_records ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query refunds: %w", err)
	}
	defer rows.Close()

	var out []domain.RefundRecord
	for rows.Next() {
		rec, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRefund(row rowScanner) (*domain.RefundRecord, error) {
	var rec domain.RefundRecord
	var created string
	if err := row.Scan(&rec.ID, &rec.InvoiceID, &rec.PayoutID, &created); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &rec, nil
}
