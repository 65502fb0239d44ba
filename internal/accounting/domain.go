package accounting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft  JournalStatus = "draft"
	JournalStatusPosted JournalStatus = "posted"
)

// CanTransitionTo reports whether the entry may move to next.
func (s JournalStatus) CanTransitionTo(next JournalStatus) bool {
	return s == JournalStatusDraft && next == JournalStatusPosted
}

// ReferenceType names the document a journal entry was produced for.
type ReferenceType string

const (
	ReferenceBillPayment    ReferenceType = "bill_payment"
	ReferenceInvoicePayment ReferenceType = "invoice_payment"
)

// Account models a chart of accounts node with its running balance.
type Account struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"isActive"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// BankAccount is a cash or bank account backed by a chart account.
type BankAccount struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	BankName       string          `json:"bankName"`
	AccountNumber  string          `json:"accountNumber"`
	ChartAccountID int64           `json:"chartAccountId"`
	Balance        decimal.Decimal `json:"balance"`
}

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID            int64           `json:"id"`
	SourceID      uuid.UUID       `json:"sourceId"`
	Description   string          `json:"description"`
	Date          time.Time       `json:"date"`
	ReferenceType ReferenceType   `json:"referenceType"`
	ReferenceID   int64           `json:"referenceId"`
	Status        JournalStatus   `json:"status"`
	PostedAt      *time.Time      `json:"postedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	Lines         []JournalLine   `json:"lines"`
}

// JournalLine stores debit or credit amount for an account.
type JournalLine struct {
	ID        int64           `json:"id"`
	JournalID int64           `json:"journalId"`
	AccountID int64           `json:"accountId"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// Totals returns the debit and credit sums of the entry lines.
func (e JournalEntry) Totals() (debit, credit decimal.Decimal) {
	return sumLines(e.Lines)
}

func sumLines(lines []JournalLine) (debit, credit decimal.Decimal) {
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = shared.Validation("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = shared.Validation("accounting: journal requires at least two lines")
	// ErrInvalidAmount indicates a non-positive posting amount.
	ErrInvalidAmount = shared.Validation("accounting: payment amount must be greater than zero")
	// ErrAmountExceedsBalance indicates the payment is larger than what is owed.
	ErrAmountExceedsBalance = shared.InvalidState("accounting: payment amount exceeds remaining balance")
	// ErrAccountNotFound indicates a missing chart account.
	ErrAccountNotFound = shared.NotFound("accounting: account not found")
	// ErrBankAccountNotFound indicates a missing bank account.
	ErrBankAccountNotFound = shared.NotFound("accounting: bank account not found")
	// ErrMappingNotFound indicates a missing control account mapping.
	ErrMappingNotFound = shared.NotFound("accounting: control account mapping not found")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = shared.NotFound("accounting: journal entry not found")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = shared.InvalidState("accounting: invalid status transition")
	// ErrSourceAlreadyPosted indicates the source document already has an entry.
	ErrSourceAlreadyPosted = shared.Conflict("accounting: source already posted")
)

// ValidateLines checks the double-entry rules for a set of lines.
func ValidateLines(lines []JournalLine) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	for idx, line := range lines {
		if line.AccountID == 0 {
			return shared.Validation(fmt.Sprintf("accounting: line %d missing account", idx))
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return shared.Validation(fmt.Sprintf("accounting: line %d negative amount", idx))
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return shared.Validation(fmt.Sprintf("accounting: line %d must be either debit or credit", idx))
		}
	}
	debit, credit := sumLines(lines)
	if !debit.Equal(credit) {
		return ErrUnbalanced
	}
	return nil
}
