package quotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-billing/internal/ar"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// PgRepository persists quotes in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// PostgresRepositories builds repositories on the tenant pool.
func PostgresRepositories(h tenant.Handle) Repository {
	return NewRepository(h.Pool)
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.Workflow, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const quoteColumns = `id, store_id, number, client_id, client_name, quote_date, valid_until, subtotal, tax, discount, total,
status, notes, terms, converted_to_invoice_id, converted_at, created_at, updated_at`

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.StoreID, &q.Number, &q.ClientID, &q.ClientName, &q.QuoteDate, &q.ValidUntil,
		&q.Subtotal, &q.Tax, &q.Discount, &q.Total, &q.Status, &q.Notes, &q.Terms,
		&q.ConvertedToInvoiceID, &q.ConvertedAt, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrQuoteNotFound
		}
		return Quote{}, err
	}
	return q, nil
}

func (r *PgRepository) Get(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(r.pool.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id=$1`, id))
	if err != nil {
		return Quote{}, err
	}
	q.Lines, err = listLines(ctx, r.pool, id)
	return q, err
}

// ExpireDue flips sent quotes past their validity to expired.
func (r *PgRepository) ExpireDue(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE quotes SET status=$1, updated_at=NOW()
WHERE status=$2 AND valid_until IS NOT NULL AND valid_until < $3`, QuoteStatusExpired, QuoteStatusSent, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func listLines(ctx context.Context, q db.DBTX, quoteID int64) ([]QuoteLine, error) {
	rows, err := q.Query(ctx, `SELECT id, quote_id, product_id, description, quantity, unit_price, line_total
FROM quote_lines WHERE quote_id=$1 ORDER BY id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []QuoteLine
	for rows.Next() {
		var l QuoteLine
		if err := rows.Scan(&l.ID, &l.QuoteID, &l.ProductID, &l.Description, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

type txRepository struct {
	tx      pgx.Tx
	numbers numbering.Allocator
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Quote, error) {
	q, err := scanQuote(r.tx.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Quote{}, err
	}
	q.Lines, err = listLines(ctx, r.tx, id)
	return q, err
}

func (r *txRepository) NextQuoteNumber(ctx context.Context, storeID int64) (numbering.Number, error) {
	return r.numbers.Next(ctx, r.tx, storeID, numbering.DocQuote)
}

func (r *txRepository) NextInvoiceNumber(ctx context.Context, storeID int64) (numbering.Number, error) {
	return r.numbers.Next(ctx, r.tx, storeID, numbering.DocInvoice)
}

func (r *txRepository) Insert(ctx context.Context, q Quote) (Quote, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO quotes (store_id, number, client_id, client_name, quote_date, valid_until,
subtotal, tax, discount, total, status, notes, terms, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		q.StoreID, q.Number, q.ClientID, q.ClientName, q.QuoteDate, q.ValidUntil,
		q.Subtotal, q.Tax, q.Discount, q.Total, q.Status, q.Notes, q.Terms).
		Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Quote{}, shared.Conflict(fmt.Sprintf("quote number %s already exists", q.Number))
		}
		return Quote{}, fmt.Errorf("quotations: insert quote: %w", err)
	}
	for i := range q.Lines {
		l := &q.Lines[i]
		l.QuoteID = q.ID
		if err := r.tx.QueryRow(ctx, `INSERT INTO quote_lines (quote_id, product_id, description, quantity, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, l.QuoteID, l.ProductID, l.Description, l.Quantity, l.UnitPrice, l.LineTotal).Scan(&l.ID); err != nil {
			return Quote{}, fmt.Errorf("quotations: insert quote line: %w", err)
		}
	}
	return q, nil
}

func (r *txRepository) CreateInvoice(ctx context.Context, in ar.InvoiceInput, number string) (ar.Invoice, error) {
	return ar.InsertInvoice(ctx, r.tx, in, number)
}

// MarkConverted only matches accepted quotes, so a racing conversion that
// slipped past the row lock cannot convert twice.
func (r *txRepository) MarkConverted(ctx context.Context, id, invoiceID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quotes SET status=$2, converted_to_invoice_id=$3, converted_at=$4, updated_at=NOW()
WHERE id=$1 AND status=$5`, id, QuoteStatusConverted, invoiceID, at, QuoteStatusAccepted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyConverted
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status QuoteStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE quotes SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQuoteNotFound
	}
	return nil
}

func (r *txRepository) Audit(ctx context.Context, log shared.AuditLog) error {
	return shared.NewAuditLogger(r.tx).Record(ctx, log)
}
