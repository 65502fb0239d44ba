package ar

import (
	"time"

	"github.com/shopspring/decimal"

	salesshared "github.com/odyssey-erp/odyssey-billing/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// InvoiceStatus enumerates invoice lifecycle values.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPartial   InvoiceStatus = "partial"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusSent, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusSent:    {InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusOverdue: {InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPartial: {InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue},
}

// CanTransitionTo reports whether next is an enumerated successor of s.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return true
	}
	return false
}

// PaymentMethod enumerates how a payment was made.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCheck        PaymentMethod = "check"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodElectronic   PaymentMethod = "electronic"
	PaymentMethodOther        PaymentMethod = "other"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCheck, PaymentMethodBankTransfer, PaymentMethodCard, PaymentMethodElectronic, PaymentMethodOther:
		return true
	}
	return false
}

// AllowsOverpayment reports whether change may be returned for m.
func (m PaymentMethod) AllowsOverpayment() bool {
	return m == PaymentMethodCash
}

// PaymentStatus enumerates payment record states.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Invoice is a customer invoice owned by a store.
type Invoice struct {
	ID          int64           `json:"id"`
	StoreID     int64           `json:"storeId"`
	Number      string          `json:"invoiceNumber"`
	ClientID    int64           `json:"clientId"`
	ClientName  string          `json:"clientName"`
	QuoteID     *int64          `json:"quoteId,omitempty"`
	InvoiceDate time.Time       `json:"invoiceDate"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	PaidAmount  decimal.Decimal `json:"paidAmount"`
	Status      InvoiceStatus   `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	Terms       string          `json:"terms,omitempty"`
	Lines       []InvoiceLine   `json:"lines,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// BalanceDue is total minus paid. It may be negative after cash overpayment.
func (i Invoice) BalanceDue() decimal.Decimal {
	return i.Total.Sub(i.PaidAmount)
}

// InvoiceLine is a single product line on an invoice.
type InvoiceLine struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoiceId"`
	ProductID   *int64          `json:"productId,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// Payment records money received against an invoice. Payments are immutable.
type Payment struct {
	ID               int64           `json:"id"`
	InvoiceID        int64           `json:"invoiceId"`
	Number           string          `json:"paymentNumber"`
	Amount           decimal.Decimal `json:"amount"`
	AppliedAmount    decimal.Decimal `json:"appliedAmount"`
	ChangeAmount     decimal.Decimal `json:"changeAmount"`
	Method           PaymentMethod   `json:"paymentMethod"`
	PaymentDate      time.Time       `json:"paymentDate"`
	Reference        string          `json:"paymentReference,omitempty"`
	BankName         string          `json:"bankName,omitempty"`
	AccountNumber    string          `json:"accountNumber,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	DepositAccountID *int64          `json:"depositAccountId,omitempty"`
	JournalEntryID   *int64          `json:"journalEntryId,omitempty"`
	Status           PaymentStatus   `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// InvoiceInput captures fields for a new invoice.
type InvoiceInput struct {
	StoreID     int64
	ClientID    int64
	ClientName  string
	QuoteID     *int64
	InvoiceDate time.Time
	DueDate     *time.Time
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	Notes       string
	Terms       string
	Lines       []InvoiceLineInput
}

// InvoiceLineInput captures a line for a new invoice.
type InvoiceLineInput struct {
	ProductID   *int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// ErrTotalsMismatch indicates subtotal + tax - discount != total.
var ErrTotalsMismatch = shared.Validation("subtotal + tax - discount must equal total")

// ErrSubCentAmount rejects document amounts finer than one cent.
var ErrSubCentAmount = shared.Validation("amounts must not have more than 2 decimal places")

// Validate enforces required fields and the totals identity.
func (in InvoiceInput) Validate() error {
	if in.StoreID <= 0 {
		return shared.Validation("storeId is required")
	}
	if in.ClientID <= 0 {
		return shared.Validation("clientId is required")
	}
	if in.Total.IsNegative() || in.Discount.IsNegative() || in.Tax.IsNegative() {
		return shared.Validation("amounts must not be negative")
	}
	if !salesshared.AllCents(in.Subtotal, in.Tax, in.Discount, in.Total) {
		return ErrSubCentAmount
	}
	if !salesshared.TotalsBalance(in.Subtotal, in.Tax, in.Discount, in.Total) {
		return ErrTotalsMismatch
	}
	for _, l := range in.Lines {
		if !l.Quantity.IsPositive() {
			return shared.Validation("line quantity must be positive")
		}
		if l.UnitPrice.IsNegative() {
			return shared.Validation("line unit price must not be negative")
		}
		if !salesshared.AllCents(l.UnitPrice, l.LineTotal) {
			return ErrSubCentAmount
		}
	}
	return nil
}

// PaymentInput captures a payment request.
type PaymentInput struct {
	InvoiceID        int64
	Amount           decimal.Decimal
	Method           PaymentMethod
	PaymentDate      time.Time
	Reference        string
	BankName         string
	AccountNumber    string
	Notes            string
	DepositAccountID *int64
	IdempotencyKey   string
}

// PaymentResult is the outcome of RecordPayment.
type PaymentResult struct {
	Payment          Payment         `json:"payment"`
	Invoice          Invoice         `json:"invoice"`
	ChangeAmount     decimal.Decimal `json:"changeAmount"`
	AppliedToInvoice decimal.Decimal `json:"appliedToInvoice"`
	Replayed         bool            `json:"-"`
}
