// Package numbering issues human-readable document numbers.
//
// Store counters (invoice, quote) live on the stores row and are advanced
// with a single UPDATE ... RETURNING statement, so the row lock taken by the
// update serialises concurrent allocations for the same store. Period
// sequences (payments) use the document_sequences upsert.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// DocumentType selects which store counter to advance.
type DocumentType string

const (
	DocInvoice DocumentType = "invoice"
	DocQuote   DocumentType = "quote"
)

// Valid reports whether the document type has a store counter.
func (d DocumentType) Valid() bool {
	return d == DocInvoice || d == DocQuote
}

// Width is the zero-padded width of the counter part.
const Width = 6

// ErrStoreNotFound is returned when the store row does not exist.
var ErrStoreNotFound = shared.NotFound("store not found")

// ErrUnknownDocumentType is returned for unsupported document types.
var ErrUnknownDocumentType = shared.Validation("unknown document type")

// Number is an allocated document number.
type Number struct {
	Prefix  string
	Counter int64
	Value   string
}

// Format renders prefix + counter zero-padded to Width digits.
func Format(prefix string, counter int64) string {
	return fmt.Sprintf("%s%0*d", prefix, Width, counter)
}

// Querier is satisfied by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Allocator hands out store document numbers. Callers pass the querier of
// their own transaction so the increment commits or rolls back with it.
type Allocator struct{}

var counterQueries = map[DocumentType]string{
	DocInvoice: `UPDATE stores SET invoice_counter = invoice_counter + 1, updated_at = NOW()
WHERE id = $1 RETURNING invoice_prefix, invoice_counter - 1`,
	DocQuote: `UPDATE stores SET quote_counter = quote_counter + 1, updated_at = NOW()
WHERE id = $1 RETURNING quote_prefix, quote_counter - 1`,
}

// Next returns the store's current counter formatted with its prefix and
// advances the stored counter by one.
func (Allocator) Next(ctx context.Context, q Querier, storeID int64, doc DocumentType) (Number, error) {
	if !doc.Valid() {
		return Number{}, ErrUnknownDocumentType
	}
	query := counterQueries[doc]
	var n Number
	if err := q.QueryRow(ctx, query, storeID).Scan(&n.Prefix, &n.Counter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Number{}, ErrStoreNotFound
		}
		return Number{}, fmt.Errorf("numbering: advance %s counter: %w", doc, err)
	}
	n.Value = Format(n.Prefix, n.Counter)
	return n, nil
}

// NextInPeriod issues the next number of a per-store, per-month sequence,
// e.g. PAY-2403-000001.
func (Allocator) NextInPeriod(ctx context.Context, q Querier, storeID int64, code string, date time.Time) (string, error) {
	if code == "" {
		return "", ErrUnknownDocumentType
	}
	period := date.Format("200601")
	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (store_id, doc_type, period, seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (store_id, doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, storeID, code, period).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s sequence: %w", code, err)
	}
	return PeriodFormat(code, date, seq), nil
}

// PeriodFormat renders code-YYMM-NNNNNN.
func PeriodFormat(code string, date time.Time, seq int64) string {
	return Format(fmt.Sprintf("%s-%s-", code, date.Format("0601")), seq)
}
