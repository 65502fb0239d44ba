package ar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/accounting"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// PgRepository provides PostgreSQL backed persistence for AR.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// PostgresRepositories builds repositories on the tenant pool.
func PostgresRepositories(h tenant.Handle) Repository {
	return NewRepository(h.Pool)
}

// WithTx runs fn in a read-committed transaction; rows are locked explicitly.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.Workflow, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const invoiceColumns = `id, store_id, number, client_id, client_name, quote_id, invoice_date, due_date,
subtotal, tax, discount, total, paid_amount, status, notes, terms, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.StoreID, &inv.Number, &inv.ClientID, &inv.ClientName, &inv.QuoteID, &inv.InvoiceDate, &inv.DueDate,
		&inv.Subtotal, &inv.Tax, &inv.Discount, &inv.Total, &inv.PaidAmount, &inv.Status, &inv.Notes, &inv.Terms, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	if !inv.Status.Valid() {
		return Invoice{}, fmt.Errorf("ar: invoice %d has unknown status %q", inv.ID, inv.Status)
	}
	return inv, nil
}

// GetInvoice returns an invoice with its lines.
func (r *PgRepository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = listInvoiceLines(ctx, r.pool, id)
	return inv, err
}

func listInvoiceLines(ctx context.Context, q db.DBTX, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, product_id, description, quantity, unit_price, line_total
FROM invoice_lines WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.Description, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// ListPayments returns the payments of an invoice in creation order.
func (r *PgRepository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, number, amount, applied_amount, change_amount, method, payment_date,
reference, bank_name, account_number, notes, deposit_account_id, journal_entry_id, status, created_at
FROM payments WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Number, &p.Amount, &p.AppliedAmount, &p.ChangeAmount, &p.Method, &p.PaymentDate,
			&p.Reference, &p.BankName, &p.AccountNumber, &p.Notes, &p.DepositAccountID, &p.JournalEntryID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkOverdue moves sent and partial invoices past due to overdue.
func (r *PgRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET status=$1, updated_at=NOW()
WHERE status IN ($2, $3) AND due_date IS NOT NULL AND due_date < $4`,
		InvoiceStatusOverdue, InvoiceStatusSent, InvoiceStatusPartial, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type txRepository struct {
	tx      pgx.Tx
	numbers numbering.Allocator
}

// NewTxRepository wraps a transaction started by the caller.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) NextInvoiceNumber(ctx context.Context, storeID int64) (numbering.Number, error) {
	return r.numbers.Next(ctx, r.tx, storeID, numbering.DocInvoice)
}

func (r *txRepository) NextPaymentNumber(ctx context.Context, storeID int64, date time.Time) (string, error) {
	return r.numbers.NextInPeriod(ctx, r.tx, storeID, PaymentNumberCode, date)
}

func (r *txRepository) InsertInvoice(ctx context.Context, in InvoiceInput, number string) (Invoice, error) {
	return InsertInvoice(ctx, r.tx, in, number)
}

// InsertInvoice writes a draft invoice and its lines through q. Other
// workflows that create invoices inside their own transaction call it directly.
func InsertInvoice(ctx context.Context, q db.DBTX, in InvoiceInput, number string) (Invoice, error) {
	inv := Invoice{
		StoreID:     in.StoreID,
		Number:      number,
		ClientID:    in.ClientID,
		ClientName:  in.ClientName,
		QuoteID:     in.QuoteID,
		InvoiceDate: in.InvoiceDate,
		DueDate:     in.DueDate,
		Subtotal:    in.Subtotal,
		Tax:         in.Tax,
		Discount:    in.Discount,
		Total:       in.Total,
		PaidAmount:  decimal.Zero,
		Status:      InvoiceStatusDraft,
		Notes:       in.Notes,
		Terms:       in.Terms,
	}
	err := q.QueryRow(ctx, `INSERT INTO invoices (store_id, number, client_id, client_name, quote_id, invoice_date, due_date,
subtotal, tax, discount, total, paid_amount, status, notes, terms, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$13,$14,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		inv.StoreID, inv.Number, inv.ClientID, inv.ClientName, inv.QuoteID, inv.InvoiceDate, inv.DueDate,
		inv.Subtotal, inv.Tax, inv.Discount, inv.Total, inv.Status, inv.Notes, inv.Terms).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Invoice{}, shared.Conflict(fmt.Sprintf("invoice number %s already exists", number))
		}
		return Invoice{}, fmt.Errorf("ar: insert invoice: %w", err)
	}
	for _, line := range in.Lines {
		l := InvoiceLine{
			InvoiceID:   inv.ID,
			ProductID:   line.ProductID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
		}
		if err := q.QueryRow(ctx, `INSERT INTO invoice_lines (invoice_id, product_id, description, quantity, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, l.InvoiceID, l.ProductID, l.Description, l.Quantity, l.UnitPrice, l.LineTotal).Scan(&l.ID); err != nil {
			return Invoice{}, fmt.Errorf("ar: insert invoice line: %w", err)
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO payments (invoice_id, number, amount, applied_amount, change_amount, method, payment_date,
reference, bank_name, account_number, notes, deposit_account_id, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW()) RETURNING id, created_at`,
		p.InvoiceID, p.Number, p.Amount, p.AppliedAmount, p.ChangeAmount, p.Method, p.PaymentDate,
		p.Reference, p.BankName, p.AccountNumber, p.Notes, p.DepositAccountID, p.Status).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Payment{}, fmt.Errorf("ar: insert payment: %w", err)
	}
	return p, nil
}

func (r *txRepository) LinkPaymentJournal(ctx context.Context, paymentID, journalID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE payments SET journal_entry_id=$2 WHERE id=$1`, paymentID, journalID)
	return err
}

func (r *txRepository) UpdateInvoicePayment(ctx context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET paid_amount=$2, status=$3, updated_at=NOW() WHERE id=$1`, id, paid, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) ClaimIdempotency(ctx context.Context, key, fingerprint string) (shared.IdempotencyRecord, bool, error) {
	return shared.ClaimIdempotencyKey(ctx, r.tx, IdempotencyModule, key, fingerprint)
}

func (r *txRepository) SaveIdempotencyResponse(ctx context.Context, key string, response []byte) error {
	return shared.SaveIdempotencyResponse(ctx, r.tx, IdempotencyModule, key, response)
}

func (r *txRepository) Ledger() accounting.TxRepository {
	return accounting.NewTxRepository(r.tx)
}

func (r *txRepository) Audit(ctx context.Context, log shared.AuditLog) error {
	return shared.NewAuditLogger(r.tx).Record(ctx, log)
}
