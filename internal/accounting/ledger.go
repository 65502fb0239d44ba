package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Control account mappings resolved through account_mappings.
const (
	MappingModuleAR   = "AR"
	MappingModuleAP   = "AP"
	MappingKeyControl = "control"
)

// TxRepository is the slice of persistence the ledger needs. Callers obtain
// it from their own transaction so the entry commits with the payment.
type TxRepository interface {
	GetBankAccountForUpdate(ctx context.Context, id int64) (BankAccount, error)
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	ResolveMapping(ctx context.Context, module, key string) (int64, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) ([]JournalLine, error)
	AdjustAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error
	AdjustBankAccountBalance(ctx context.Context, bankAccountID int64, delta decimal.Decimal) error
	MarkJournalPosted(ctx context.Context, entryID int64, at time.Time) error
}

// PaymentPosting describes a settlement of a bill or invoice.
type PaymentPosting struct {
	// SourceKey uniquely names the payment, e.g. "AR.PAYMENT:PAY-2403-000001".
	SourceKey     string
	ReferenceID   int64
	DocumentNo    string
	Total         decimal.Decimal
	PaidAmount    decimal.Decimal
	Amount        decimal.Decimal
	BankAccountID int64
	Date          time.Time
	Description   string
}

// Validate checks the posting before anything is written.
func (p PaymentPosting) Validate() error {
	if p.SourceKey == "" {
		return errors.New("accounting: posting source key required")
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if p.Amount.GreaterThan(p.Total.Sub(p.PaidAmount)) {
		return ErrAmountExceedsBalance
	}
	if p.BankAccountID == 0 {
		return ErrBankAccountNotFound
	}
	return nil
}

// SourceID derives the deterministic journal source reference.
func (p PaymentPosting) SourceID() uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(p.SourceKey))
}

type postingRule struct {
	reference     ReferenceType
	controlModule string
	// inflow is true when cash comes in (invoice payment).
	inflow bool
}

var (
	billPaymentRule    = postingRule{reference: ReferenceBillPayment, controlModule: MappingModuleAP}
	invoicePaymentRule = postingRule{reference: ReferenceInvoicePayment, controlModule: MappingModuleAR, inflow: true}
)

// Ledger posts the double-entry effect of payments.
type Ledger struct {
	now func() time.Time
}

// NewLedger constructs a Ledger using the wall clock.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// WithNow overrides the clock for testing.
func (l *Ledger) WithNow(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// PostBillPayment debits Accounts Payable and credits the paying bank account.
func (l *Ledger) PostBillPayment(ctx context.Context, tx TxRepository, in PaymentPosting) (JournalEntry, error) {
	return l.post(ctx, tx, in, billPaymentRule)
}

// PostInvoicePayment debits the receiving bank account and credits Accounts Receivable.
func (l *Ledger) PostInvoicePayment(ctx context.Context, tx TxRepository, in PaymentPosting) (JournalEntry, error) {
	return l.post(ctx, tx, in, invoicePaymentRule)
}

func (l *Ledger) post(ctx context.Context, tx TxRepository, in PaymentPosting, rule postingRule) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return JournalEntry{}, err
	}
	amount := in.Amount.Round(2)

	bank, err := tx.GetBankAccountForUpdate(ctx, in.BankAccountID)
	if err != nil {
		return JournalEntry{}, err
	}
	bankChart, err := tx.GetAccountForUpdate(ctx, bank.ChartAccountID)
	if err != nil {
		return JournalEntry{}, err
	}
	controlID, err := tx.ResolveMapping(ctx, rule.controlModule, MappingKeyControl)
	if err != nil {
		return JournalEntry{}, err
	}
	control, err := tx.GetAccountForUpdate(ctx, controlID)
	if err != nil {
		return JournalEntry{}, err
	}

	debitAccount, creditAccount := control.ID, bankChart.ID
	bankDelta := amount.Neg()
	if rule.inflow {
		debitAccount, creditAccount = bankChart.ID, control.ID
		bankDelta = amount
	}
	lines := []JournalLine{
		{AccountID: debitAccount, Debit: amount, Credit: decimal.Zero},
		{AccountID: creditAccount, Debit: decimal.Zero, Credit: amount},
	}
	if err := ValidateLines(lines); err != nil {
		return JournalEntry{}, err
	}

	date := in.Date
	if date.IsZero() {
		date = l.now()
	}
	description := in.Description
	if description == "" {
		description = fmt.Sprintf("Payment %s", in.DocumentNo)
	}
	entry, err := tx.InsertJournalEntry(ctx, JournalEntry{
		SourceID:      in.SourceID(),
		Description:   description,
		Date:          date,
		ReferenceType: rule.reference,
		ReferenceID:   in.ReferenceID,
		Status:        JournalStatusDraft,
	})
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = tx.InsertJournalLines(ctx, entry.ID, lines)
	if err != nil {
		return JournalEntry{}, err
	}

	// Both control accounts are settled by the payment, so they shrink.
	if err := tx.AdjustAccountBalance(ctx, control.ID, amount.Neg()); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.AdjustAccountBalance(ctx, bankChart.ID, bankDelta); err != nil {
		return JournalEntry{}, err
	}
	if err := tx.AdjustBankAccountBalance(ctx, bank.ID, bankDelta); err != nil {
		return JournalEntry{}, err
	}

	if !entry.Status.CanTransitionTo(JournalStatusPosted) {
		return JournalEntry{}, ErrInvalidStatus
	}
	postedAt := l.now()
	if err := tx.MarkJournalPosted(ctx, entry.ID, postedAt); err != nil {
		return JournalEntry{}, err
	}
	entry.Status = JournalStatusPosted
	entry.PostedAt = &postedAt
	return entry, nil
}
