package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/db"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListAccounts returns the chart of accounts with balances.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, type, balance, is_active, created_at, updated_at FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetJournal loads an entry with its lines.
func (r *Repository) GetJournal(ctx context.Context, id int64) (JournalEntry, error) {
	var e JournalEntry
	err := r.pool.QueryRow(ctx, `SELECT id, source_id, description, date, reference_type, reference_id, status, posted_at, created_at
FROM journal_entries WHERE id=$1`, id).
		Scan(&e.ID, &e.SourceID, &e.Description, &e.Date, &e.ReferenceType, &e.ReferenceID, &e.Status, &e.PostedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, ErrJournalNotFound
		}
		return JournalEntry{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, journal_id, account_id, debit, credit FROM journal_lines WHERE journal_id=$1 ORDER BY id`, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.JournalID, &l.AccountID, &l.Debit, &l.Credit); err != nil {
			return JournalEntry{}, err
		}
		e.Lines = append(e.Lines, l)
	}
	return e, rows.Err()
}

type txRepository struct {
	tx db.DBTX
}

// NewTxRepository binds the ledger persistence to a caller-owned transaction.
func NewTxRepository(tx db.DBTX) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetBankAccountForUpdate(ctx context.Context, id int64) (BankAccount, error) {
	var b BankAccount
	err := r.tx.QueryRow(ctx, `SELECT id, name, bank_name, account_number, chart_account_id, balance
FROM bank_accounts WHERE id=$1 FOR UPDATE`, id).
		Scan(&b.ID, &b.Name, &b.BankName, &b.AccountNumber, &b.ChartAccountID, &b.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BankAccount{}, ErrBankAccountNotFound
		}
		return BankAccount{}, err
	}
	return b, nil
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := r.tx.QueryRow(ctx, `SELECT id, code, name, type, balance, is_active, created_at, updated_at
FROM accounts WHERE id=$1 AND is_active FOR UPDATE`, id).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) ResolveMapping(ctx context.Context, module, key string) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE module=$1 AND key=$2`, module, key).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrMappingNotFound
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, in JournalEntry) (JournalEntry, error) {
	entry := in
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (source_id, description, date, reference_type, reference_id, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`, in.SourceID, in.Description, in.Date, in.ReferenceType, in.ReferenceID, in.Status).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return JournalEntry{}, ErrSourceAlreadyPosted
		}
		return JournalEntry{}, fmt.Errorf("accounting: insert journal entry: %w", err)
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		line.JournalID = entryID
		if err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (journal_id, account_id, debit, credit)
VALUES ($1,$2,$3,$4) RETURNING id`, entryID, line.AccountID, line.Debit, line.Credit).Scan(&line.ID); err != nil {
			return nil, fmt.Errorf("accounting: insert journal line: %w", err)
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) AdjustAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2, updated_at = NOW() WHERE id=$1`, accountID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) AdjustBankAccountBalance(ctx context.Context, bankAccountID int64, delta decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE bank_accounts SET balance = balance + $2, updated_at = NOW() WHERE id=$1`, bankAccountID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBankAccountNotFound
	}
	return nil
}

func (r *txRepository) MarkJournalPosted(ctx context.Context, entryID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, posted_at=$3 WHERE id=$1 AND status=$4`,
		entryID, JournalStatusPosted, at, JournalStatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}
