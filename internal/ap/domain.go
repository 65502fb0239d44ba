package ap

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

// BillStatus enumerates supplier bill statuses.
type BillStatus string

const (
	BillStatusOpen    BillStatus = "open"
	BillStatusPartial BillStatus = "partial"
	BillStatusPaid    BillStatus = "paid"
	BillStatusVoid    BillStatus = "void"
)

// Payable reports whether money can still be paid against the bill.
func (s BillStatus) Payable() bool {
	return s == BillStatusOpen || s == BillStatusPartial
}

// Bill is a supplier invoice awaiting payment.
type Bill struct {
	ID           int64           `json:"id"`
	StoreID      int64           `json:"storeId"`
	Number       string          `json:"billNumber"`
	SupplierID   int64           `json:"supplierId"`
	SupplierName string          `json:"supplierName"`
	BillDate     time.Time       `json:"billDate"`
	DueDate      *time.Time      `json:"dueDate,omitempty"`
	Total        decimal.Decimal `json:"total"`
	PaidAmount   decimal.Decimal `json:"paidAmount"`
	Status       BillStatus      `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// BalanceDue is total minus paid.
func (b Bill) BalanceDue() decimal.Decimal {
	return b.Total.Sub(b.PaidAmount)
}

// BillPayment records money paid out against a bill.
type BillPayment struct {
	ID             int64           `json:"id"`
	BillID         int64           `json:"billId"`
	Number         string          `json:"paymentNumber"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	PaidAt         time.Time       `json:"paidAt"`
	BankAccountID  int64           `json:"bankAccountId"`
	JournalEntryID int64           `json:"journalEntryId"`
	Reference      string          `json:"reference,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// CreateBillInput registers a supplier bill.
type CreateBillInput struct {
	StoreID      int64
	Number       string
	SupplierID   int64
	SupplierName string
	BillDate     time.Time
	DueDate      *time.Time
	Total        decimal.Decimal
}

// Validate checks the bill header.
func (in CreateBillInput) Validate() error {
	switch {
	case in.StoreID <= 0:
		return shared.Validation("storeId is required")
	case in.SupplierID <= 0:
		return shared.Validation("supplierId is required")
	case in.Number == "":
		return shared.Validation("billNumber is required")
	case !in.Total.IsPositive():
		return shared.Validation("total must be greater than zero")
	}
	return nil
}

// PayBillInput describes a payment against a bill.
type PayBillInput struct {
	BillID        int64
	Amount        decimal.Decimal
	BankAccountID int64
	PaidAt        time.Time
	Method        string
	Reference     string
	Notes         string
}

// PayBillResult is the outcome of a bill payment.
type PayBillResult struct {
	Payment BillPayment `json:"payment"`
	Bill    Bill        `json:"bill"`
}
