package ar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/accounting"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	salesshared "github.com/odyssey-erp/odyssey-billing/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// IdempotencyModule scopes payment keys in idempotency_keys.
const IdempotencyModule = "ar.payment"

// PaymentNumberCode prefixes payment numbers, e.g. PAY-2403-000001.
const PaymentNumberCode = "PAY"

var (
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = shared.NotFound("invoice not found")
	// ErrInvalidTransition indicates a status change outside the lifecycle.
	ErrInvalidTransition = shared.InvalidState("invoice status transition not allowed")
	// ErrCancelPaidInvoice indicates a cancel attempt after money was received.
	ErrCancelPaidInvoice = shared.InvalidState("cannot cancel an invoice with recorded payments")
)

// Repository is the tenant-scoped AR persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

// TxRepository exposes the operations that run inside one transaction.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	NextInvoiceNumber(ctx context.Context, storeID int64) (numbering.Number, error)
	NextPaymentNumber(ctx context.Context, storeID int64, date time.Time) (string, error)
	InsertInvoice(ctx context.Context, in InvoiceInput, number string) (Invoice, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	LinkPaymentJournal(ctx context.Context, paymentID, journalID int64) error
	UpdateInvoicePayment(ctx context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error
	UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error
	ClaimIdempotency(ctx context.Context, key, fingerprint string) (shared.IdempotencyRecord, bool, error)
	SaveIdempotencyResponse(ctx context.Context, key string, response []byte) error
	Ledger() accounting.TxRepository
	Audit(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives payment outcomes.
type Metrics interface {
	PaymentRecorded(method, outcome string)
	LedgerPosted(reference string)
}

// Service coordinates invoices and payments.
type Service struct {
	repos   func(tenant.Handle) Repository
	ledger  *accounting.Ledger
	metrics Metrics
	now     func() time.Time
}

// NewService builds Service instance.
func NewService(repos func(tenant.Handle) Repository, ledger *accounting.Ledger, metrics Metrics) *Service {
	return &Service{repos: repos, ledger: ledger, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordPayment applies a payment to an invoice. The payment row, the
// invoice paid amount and status, the optional ledger entry and the
// idempotency record commit together or not at all.
func (s *Service) RecordPayment(ctx context.Context, h tenant.Handle, in PaymentInput) (PaymentResult, error) {
	if in.InvoiceID <= 0 {
		return PaymentResult{}, shared.Validation("invoiceId is required")
	}
	if err := validatePayment(in.Amount, in.Method); err != nil {
		return PaymentResult{}, err
	}
	// Fingerprint before defaulting the date so a retry on a later day still replays.
	fingerprint := paymentFingerprint(in)
	if in.PaymentDate.IsZero() {
		in.PaymentDate = s.now()
	}

	var result PaymentResult
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			rec, claimed, err := tx.ClaimIdempotency(ctx, in.IdempotencyKey, fingerprint)
			if err != nil {
				return err
			}
			if !claimed {
				if err := shared.CheckReplay(rec, fingerprint); err != nil {
					return err
				}
				if err := json.Unmarshal(rec.Response, &result); err != nil {
					return fmt.Errorf("ar: decode stored payment result: %w", err)
				}
				result.Replayed = true
				return nil
			}
		}

		inv, err := tx.GetInvoiceForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		app, err := Apply(inv, in.Amount, in.Method)
		if err != nil {
			return err
		}
		if app.NewStatus != inv.Status && !inv.Status.CanTransitionTo(app.NewStatus) {
			return ErrInvalidTransition
		}

		number, err := tx.NextPaymentNumber(ctx, inv.StoreID, in.PaymentDate)
		if err != nil {
			return err
		}
		payment, err := tx.InsertPayment(ctx, Payment{
			InvoiceID:        inv.ID,
			Number:           number,
			Amount:           in.Amount,
			AppliedAmount:    app.Applied,
			ChangeAmount:     app.Change,
			Method:           in.Method,
			PaymentDate:      in.PaymentDate,
			Reference:        in.Reference,
			BankName:         in.BankName,
			AccountNumber:    in.AccountNumber,
			Notes:            in.Notes,
			DepositAccountID: in.DepositAccountID,
			Status:           PaymentStatusCompleted,
		})
		if err != nil {
			return err
		}

		if in.DepositAccountID != nil && app.Applied.IsPositive() {
			entry, err := s.ledger.PostInvoicePayment(ctx, tx.Ledger(), accounting.PaymentPosting{
				SourceKey:     "AR.PAYMENT:" + payment.Number,
				ReferenceID:   payment.ID,
				DocumentNo:    inv.Number,
				Total:         inv.Total,
				PaidAmount:    inv.PaidAmount,
				Amount:        app.Applied,
				BankAccountID: *in.DepositAccountID,
				Date:          in.PaymentDate,
				Description:   fmt.Sprintf("Payment %s for invoice %s", payment.Number, inv.Number),
			})
			if err != nil {
				return err
			}
			if err := tx.LinkPaymentJournal(ctx, payment.ID, entry.ID); err != nil {
				return err
			}
			payment.JournalEntryID = &entry.ID
		}

		if err := tx.UpdateInvoicePayment(ctx, inv.ID, app.NewPaidAmount, app.NewStatus); err != nil {
			return err
		}
		inv.PaidAmount = app.NewPaidAmount
		inv.Status = app.NewStatus

		if err := tx.Audit(ctx, shared.AuditLog{
			Action:   "payment.recorded",
			Entity:   "invoice",
			EntityID: fmt.Sprint(inv.ID),
			Meta: map[string]any{
				"payment_number": payment.Number,
				"amount":         in.Amount.String(),
				"applied":        app.Applied.String(),
				"method":         string(in.Method),
			},
		}); err != nil {
			return err
		}

		result = PaymentResult{
			Payment:          payment,
			Invoice:          inv,
			ChangeAmount:     app.Change,
			AppliedToInvoice: app.Applied,
		}
		if in.IdempotencyKey != "" {
			stored, err := json.Marshal(result)
			if err != nil {
				return err
			}
			if err := tx.SaveIdempotencyResponse(ctx, in.IdempotencyKey, stored); err != nil {
				return err
			}
		}
		return nil
	})
	s.observePayment(in.Method, result, err)
	if err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

func (s *Service) observePayment(method PaymentMethod, result PaymentResult, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil && result.Replayed:
		s.metrics.PaymentRecorded(string(method), "replay")
	case err == nil:
		s.metrics.PaymentRecorded(string(method), "success")
		if result.Payment.JournalEntryID != nil {
			s.metrics.LedgerPosted(string(accounting.ReferenceInvoicePayment))
		}
	case isDomainError(err):
		s.metrics.PaymentRecorded(string(method), "rejected")
	default:
		s.metrics.PaymentRecorded(string(method), "error")
	}
}

func paymentFingerprint(in PaymentInput) string {
	deposit := ""
	if in.DepositAccountID != nil {
		deposit = fmt.Sprint(*in.DepositAccountID)
	}
	date := ""
	if !in.PaymentDate.IsZero() {
		date = in.PaymentDate.Format("2006-01-02")
	}
	return shared.Fingerprint(
		[]byte(fmt.Sprint(in.InvoiceID)),
		[]byte(in.Amount.String()),
		[]byte(in.Method),
		[]byte(date),
		[]byte(strings.TrimSpace(in.Reference)),
		[]byte(deposit),
	)
}

// CreateInvoice allocates the store's next invoice number and persists a draft invoice.
func (s *Service) CreateInvoice(ctx context.Context, h tenant.Handle, in InvoiceInput) (Invoice, error) {
	if err := in.Validate(); err != nil {
		return Invoice{}, err
	}
	if in.InvoiceDate.IsZero() {
		in.InvoiceDate = s.now()
	}
	in.Lines = withLineTotals(in.Lines)
	var created Invoice
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextInvoiceNumber(ctx, in.StoreID)
		if err != nil {
			return err
		}
		created, err = tx.InsertInvoice(ctx, in, number.Value)
		if err != nil {
			return err
		}
		return tx.Audit(ctx, shared.AuditLog{
			Action:   "invoice.created",
			Entity:   "invoice",
			EntityID: fmt.Sprint(created.ID),
			Meta:     map[string]any{"number": created.Number, "total": created.Total.String()},
		})
	})
	return created, err
}

func withLineTotals(lines []InvoiceLineInput) []InvoiceLineInput {
	out := make([]InvoiceLineInput, len(lines))
	for i, l := range lines {
		if l.LineTotal.IsZero() {
			l.LineTotal = salesshared.LineTotal(l.Quantity, l.UnitPrice)
		}
		out[i] = l
	}
	return out
}

// InvoiceDetail is an invoice with its payments.
type InvoiceDetail struct {
	Invoice
	BalanceDue decimal.Decimal `json:"balanceDue"`
	Payments   []Payment       `json:"payments"`
}

// GetInvoice loads an invoice, its lines and its payments.
func (s *Service) GetInvoice(ctx context.Context, h tenant.Handle, id int64) (InvoiceDetail, error) {
	repo := s.repos(h)
	inv, err := repo.GetInvoice(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	payments, err := repo.ListPayments(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	return InvoiceDetail{Invoice: inv, BalanceDue: inv.BalanceDue(), Payments: payments}, nil
}

// SendInvoice moves a draft invoice to sent.
func (s *Service) SendInvoice(ctx context.Context, h tenant.Handle, id int64) (Invoice, error) {
	return s.transition(ctx, h, id, InvoiceStatusSent, nil)
}

// CancelInvoice cancels an invoice that has not received any money.
func (s *Service) CancelInvoice(ctx context.Context, h tenant.Handle, id int64) (Invoice, error) {
	return s.transition(ctx, h, id, InvoiceStatusCancelled, func(inv Invoice) error {
		if !inv.PaidAmount.IsZero() {
			return ErrCancelPaidInvoice
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, h tenant.Handle, id int64, next InvoiceStatus, guard func(Invoice) error) (Invoice, error) {
	var out Invoice
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(inv); err != nil {
				return err
			}
		}
		if !inv.Status.CanTransitionTo(next) {
			return ErrInvalidTransition
		}
		if err := tx.UpdateInvoiceStatus(ctx, id, next); err != nil {
			return err
		}
		if err := tx.Audit(ctx, shared.AuditLog{
			Action:   "invoice." + string(next),
			Entity:   "invoice",
			EntityID: fmt.Sprint(id),
			Meta:     map[string]any{"from": string(inv.Status)},
		}); err != nil {
			return err
		}
		inv.Status = next
		out = inv
		return nil
	})
	return out, err
}

// MarkOverdue flags sent or partially paid invoices whose due date passed.
func (s *Service) MarkOverdue(ctx context.Context, h tenant.Handle, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repos(h).MarkOverdue(ctx, asOf)
}

func isDomainError(err error) bool {
	var de *shared.Error
	return errors.As(err, &de)
}
