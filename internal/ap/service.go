package ap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/accounting"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// PaymentNumberCode prefixes bill payment numbers, e.g. BPY-2403-000001.
const PaymentNumberCode = "BPY"

var (
	ErrBillNotFound    = shared.NotFound("bill not found")
	ErrBillNotPayable  = shared.InvalidState("bill is paid or void")
	ErrBillHasPayments = shared.InvalidState("cannot void a bill with recorded payments")
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, id int64) (Bill, error)
	ListPayments(ctx context.Context, billID int64) ([]BillPayment, error)
}

type TxRepository interface {
	GetBillForUpdate(ctx context.Context, id int64) (Bill, error)
	InsertBill(ctx context.Context, b Bill) (Bill, error)
	NextPaymentNumber(ctx context.Context, storeID int64, date time.Time) (string, error)
	InsertPayment(ctx context.Context, p BillPayment) (BillPayment, error)
	UpdateBillPayment(ctx context.Context, id int64, paid decimal.Decimal, status BillStatus) error
	UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error
	Ledger() accounting.TxRepository
	Audit(ctx context.Context, log shared.AuditLog) error
}

type Metrics interface {
	LedgerPosted(reference string)
}

type Service struct {
	repos   func(tenant.Handle) Repository
	ledger  *accounting.Ledger
	metrics Metrics
	now     func() time.Time
}

func NewService(repos func(tenant.Handle) Repository, ledger *accounting.Ledger, metrics Metrics) *Service {
	return &Service{repos: repos, ledger: ledger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateBill records an open supplier bill.
func (s *Service) CreateBill(ctx context.Context, h tenant.Handle, in CreateBillInput) (Bill, error) {
	if err := in.Validate(); err != nil {
		return Bill{}, err
	}
	if in.BillDate.IsZero() {
		in.BillDate = s.now()
	}
	var created Bill
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertBill(ctx, Bill{
			StoreID:      in.StoreID,
			Number:       in.Number,
			SupplierID:   in.SupplierID,
			SupplierName: in.SupplierName,
			BillDate:     in.BillDate,
			DueDate:      in.DueDate,
			Total:        in.Total.Round(2),
			PaidAmount:   decimal.Zero,
			Status:       BillStatusOpen,
		})
		if err != nil {
			return err
		}
		return tx.Audit(ctx, shared.AuditLog{
			Action:   "bill.created",
			Entity:   "bill",
			EntityID: fmt.Sprint(created.ID),
			Meta:     map[string]any{"number": created.Number, "total": created.Total.String()},
		})
	})
	return created, err
}

// BillDetail is a bill with its payments.
type BillDetail struct {
	Bill
	BalanceDue decimal.Decimal `json:"balanceDue"`
	Payments   []BillPayment   `json:"payments"`
}

func (s *Service) GetBill(ctx context.Context, h tenant.Handle, id int64) (BillDetail, error) {
	repo := s.repos(h)
	bill, err := repo.GetBill(ctx, id)
	if err != nil {
		return BillDetail{}, err
	}
	payments, err := repo.ListPayments(ctx, id)
	if err != nil {
		return BillDetail{}, err
	}
	if payments == nil {
		payments = []BillPayment{}
	}
	return BillDetail{Bill: bill, BalanceDue: bill.BalanceDue(), Payments: payments}, nil
}

// PayBill settles part or all of a bill. The payment row, the journal entry
// (debit A/P, credit bank) and the bill balance commit together.
func (s *Service) PayBill(ctx context.Context, h tenant.Handle, in PayBillInput) (PayBillResult, error) {
	if !in.Amount.IsPositive() {
		return PayBillResult{}, accounting.ErrInvalidAmount
	}
	if in.BankAccountID <= 0 {
		return PayBillResult{}, shared.Validation("bankAccountId is required")
	}
	if in.PaidAt.IsZero() {
		in.PaidAt = s.now()
	}
	amount := in.Amount.Round(2)

	var result PayBillResult
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, in.BillID)
		if err != nil {
			return err
		}
		if !bill.Status.Payable() {
			return ErrBillNotPayable
		}

		number, err := tx.NextPaymentNumber(ctx, bill.StoreID, in.PaidAt)
		if err != nil {
			return err
		}
		entry, err := s.ledger.PostBillPayment(ctx, tx.Ledger(), accounting.PaymentPosting{
			SourceKey:     "AP.PAYMENT:" + number,
			ReferenceID:   bill.ID,
			DocumentNo:    bill.Number,
			Total:         bill.Total,
			PaidAmount:    bill.PaidAmount,
			Amount:        amount,
			BankAccountID: in.BankAccountID,
			Date:          in.PaidAt,
			Description:   fmt.Sprintf("Payment %s for bill %s", number, bill.Number),
		})
		if err != nil {
			return err
		}

		payment, err := tx.InsertPayment(ctx, BillPayment{
			BillID:         bill.ID,
			Number:         number,
			Amount:         amount,
			Method:         in.Method,
			PaidAt:         in.PaidAt,
			BankAccountID:  in.BankAccountID,
			JournalEntryID: entry.ID,
			Reference:      in.Reference,
			Notes:          in.Notes,
		})
		if err != nil {
			return err
		}

		bill.PaidAmount = bill.PaidAmount.Add(amount)
		bill.Status = BillStatusPartial
		if !bill.BalanceDue().IsPositive() {
			bill.Status = BillStatusPaid
		}
		if err := tx.UpdateBillPayment(ctx, bill.ID, bill.PaidAmount, bill.Status); err != nil {
			return err
		}
		if err := tx.Audit(ctx, shared.AuditLog{
			Action:   "bill.paid",
			Entity:   "bill",
			EntityID: fmt.Sprint(bill.ID),
			Meta: map[string]any{
				"payment_number": number,
				"amount":         amount.String(),
				"journal_id":     entry.ID,
			},
		}); err != nil {
			return err
		}
		result = PayBillResult{Payment: payment, Bill: bill}
		return nil
	})
	if err != nil {
		return PayBillResult{}, err
	}
	if s.metrics != nil {
		s.metrics.LedgerPosted(string(accounting.ReferenceBillPayment))
	}
	return result, nil
}

// VoidBill closes an unpaid bill.
func (s *Service) VoidBill(ctx context.Context, h tenant.Handle, id int64) (Bill, error) {
	var out Bill
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if bill.Status == BillStatusVoid {
			return ErrBillNotPayable
		}
		if bill.PaidAmount.IsPositive() {
			return ErrBillHasPayments
		}
		if err := tx.UpdateBillStatus(ctx, id, BillStatusVoid); err != nil {
			return err
		}
		bill.Status = BillStatusVoid
		out = bill
		return tx.Audit(ctx, shared.AuditLog{Action: "bill.voided", Entity: "bill", EntityID: fmt.Sprint(id)})
	})
	return out, err
}

// IsLedgerError reports whether err came from the posting step.
func IsLedgerError(err error) bool {
	return errors.Is(err, accounting.ErrMappingNotFound) ||
		errors.Is(err, accounting.ErrBankAccountNotFound) ||
		errors.Is(err, accounting.ErrAccountNotFound) ||
		errors.Is(err, accounting.ErrAmountExceedsBalance) ||
		errors.Is(err, accounting.ErrSourceAlreadyPosted)
}
