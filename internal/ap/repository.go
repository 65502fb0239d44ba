package ap

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

// PgRepository provides PostgreSQL backed persistence for AP.
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

func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.Workflow, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const billColumns = `id, store_id, number, supplier_id, supplier_name, bill_date, due_date, total, paid_amount, status, created_at, updated_at`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.StoreID, &b.Number, &b.SupplierID, &b.SupplierName, &b.BillDate, &b.DueDate,
		&b.Total, &b.PaidAmount, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrBillNotFound
		}
		return Bill{}, err
	}
	return b, nil
}

func (r *PgRepository) GetBill(ctx context.Context, id int64) (Bill, error) {
	return scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id=$1`, id))
}

func (r *PgRepository) ListPayments(ctx context.Context, billID int64) ([]BillPayment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, bill_id, number, amount, method, paid_at, bank_account_id, journal_entry_id,
reference, notes, created_at FROM bill_payments WHERE bill_id=$1 ORDER BY id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillPayment
	for rows.Next() {
		var p BillPayment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Number, &p.Amount, &p.Method, &p.PaidAt, &p.BankAccountID, &p.JournalEntryID,
			&p.Reference, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx      pgx.Tx
	numbers numbering.Allocator
}

func (r *txRepository) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	return scanBill(r.tx.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO bills (store_id, number, supplier_id, supplier_name, bill_date, due_date, total, paid_amount, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		b.StoreID, b.Number, b.SupplierID, b.SupplierName, b.BillDate, b.DueDate, b.Total, b.PaidAmount, b.Status).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Bill{}, shared.Conflict(fmt.Sprintf("bill %s already recorded for supplier", b.Number))
		}
		return Bill{}, fmt.Errorf("ap: insert bill: %w", err)
	}
	return b, nil
}

func (r *txRepository) NextPaymentNumber(ctx context.Context, storeID int64, date time.Time) (string, error) {
	return r.numbers.NextInPeriod(ctx, r.tx, storeID, PaymentNumberCode, date)
}

func (r *txRepository) InsertPayment(ctx context.Context, p BillPayment) (BillPayment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO bill_payments (bill_id, number, amount, method, paid_at, bank_account_id, journal_entry_id, reference, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id, created_at`,
		p.BillID, p.Number, p.Amount, p.Method, p.PaidAt, p.BankAccountID, p.JournalEntryID, p.Reference, p.Notes).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return BillPayment{}, fmt.Errorf("ap: insert payment: %w", err)
	}
	return p, nil
}

func (r *txRepository) UpdateBillPayment(ctx context.Context, id int64, paid decimal.Decimal, status BillStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE bills SET paid_amount=$2, status=$3, updated_at=NOW() WHERE id=$1`, id, paid, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (r *txRepository) UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE bills SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

func (r *txRepository) Ledger() accounting.TxRepository {
	return accounting.NewTxRepository(r.tx)
}

func (r *txRepository) Audit(ctx context.Context, log shared.AuditLog) error {
	return shared.NewAuditLogger(r.tx).Record(ctx, log)
}
