package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

type InvoiceRepo struct {
	db *sql.DB
}

func NewInvoiceRepo(db *sql.DB) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

// Create inserts the invoice and its tags in one transaction.
func (r *InvoiceRepo) Create(ctx context.Context, inv *domain.Invoice) error {
	meta, err := json.Marshal(inv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO invoices
		(id, status, exception_status, currency, amount, paid_amount,
		 payment_currency, payment_rate, paid_crypto, metadata, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		inv.ID, string(inv.Status), string(inv.ExceptionStatus), inv.Currency,
		inv.Amount, inv.PaidAmount, inv.PaymentCurrency, inv.PaymentRate,
		inv.PaidCrypto, string(meta), inv.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	for _, tag := range inv.Tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO invoice_tags (invoice_id, tag) VALUES (?,?)",
			inv.ID, tag,
		); err != nil {
			return fmt.Errorf("insert tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, status, exception_status, currency, amount, paid_amount,
		        payment_currency, payment_rate, paid_crypto, metadata, created_at
		 FROM invoices WHERE id = ?`, id)
	return r.scanInvoice(ctx, row)
}

// FindByTag returns invoices carrying the given internal search tag, oldest
// first. The checkout deduplicator relies on this being exact-match.
func (r *InvoiceRepo) FindByTag(ctx context.Context, tag string) ([]domain.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.status, i.exception_status, i.currency, i.amount,
		        i.paid_amount, i.payment_currency, i.payment_rate,
		        i.paid_crypto, i.metadata, i.created_at
		 FROM invoices i
		 JOIN invoice_tags t ON t.invoice_id = i.id
		 WHERE t.tag = ?
		 ORDER BY i.created_at`, tag)
	if err != nil {
		return nil, fmt.Errorf("query by tag: %w", err)
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// UpdateStatus records a lifecycle transition delivered by the payment
// platform.
func (r *InvoiceRepo) UpdateStatus(ctx context.Context, id string, status domain.InvoiceStatus, exception domain.ExceptionStatus) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE invoices SET status = ?, exception_status = ? WHERE id = ?",
		string(status), string(exception), id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordPayment stores the payment details reported when an invoice gets
// paid: amount collected in the invoice currency, the payment currency, and
// the crypto amount and rate at payment time (needed for refund math).
func (r *InvoiceRepo) RecordPayment(ctx context.Context, id string, paidAmount float64, paymentCurrency string, paidCrypto, rate float64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invoices
		 SET paid_amount = ?, payment_currency = ?, paid_crypto = ?, payment_rate = ?
		 WHERE id = ?`,
		paidAmount, paymentCurrency, paidCrypto, rate, id,
	)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendLog writes a structured entry against an invoice.
func (r *InvoiceRepo) AppendLog(ctx context.Context, invoiceID string, severity domain.EventSeverity, message string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO invoice_logs (invoice_id, severity, message, created_at) VALUES (?,?,?,?)",
		invoiceID, string(severity), message, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (r *InvoiceRepo) Logs(ctx context.Context, invoiceID string) ([]domain.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT invoice_id, severity, message, created_at FROM invoice_logs WHERE invoice_id = ? ORDER BY id",
		invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var sev, created string
		if err := rows.Scan(&e.InvoiceID, &sev, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Severity = domain.EventSeverity(sev)
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *InvoiceRepo) scanInvoice(ctx context.Context, row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var status, exception, meta, created string
	err := row.Scan(&inv.ID, &status, &exception, &inv.Currency, &inv.Amount,
		&inv.PaidAmount, &inv.PaymentCurrency, &inv.PaymentRate,
		&inv.PaidCrypto, &meta, &created)
	if err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.ExceptionStatus = domain.ExceptionStatus(exception)
	if err := json.Unmarshal([]byte(meta), &inv.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	inv.CreatedAt, _ = time.Parse(time.RFC3339, created)

	tags, err := r.tags(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Tags = tags
	return &inv, nil
}

func (r *InvoiceRepo) tags(ctx context.Context, invoiceID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT tag FROM invoice_tags WHERE invoice_id = ? ORDER BY tag", invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
