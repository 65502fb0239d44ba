package quotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/ar"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	salesshared "github.com/odyssey-erp/odyssey-billing/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Quote, error)
	ExpireDue(ctx context.Context, asOf time.Time) (int64, error)
}

// TxRepository is the transactional view used by the workflows. Number
// allocation and invoice creation go through the same transaction so a
// failed conversion leaves neither a counter increment nor an invoice.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Quote, error)
	NextQuoteNumber(ctx context.Context, storeID int64) (numbering.Number, error)
	NextInvoiceNumber(ctx context.Context, storeID int64) (numbering.Number, error)
	Insert(ctx context.Context, q Quote) (Quote, error)
	CreateInvoice(ctx context.Context, in ar.InvoiceInput, number string) (ar.Invoice, error)
	MarkConverted(ctx context.Context, id, invoiceID int64, at time.Time) error
	UpdateStatus(ctx context.Context, id int64, status QuoteStatus) error
	Audit(ctx context.Context, log shared.AuditLog) error
}

type Metrics interface {
	QuoteConverted(outcome string)
}

type Service struct {
	repos   func(tenant.Handle) Repository
	metrics Metrics
	now     func() time.Time
}

func NewService(repos func(tenant.Handle) Repository, metrics Metrics) *Service {
	return &Service{repos: repos, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Create(ctx context.Context, h tenant.Handle, in CreateQuoteInput) (Quote, error) {
	if in.StoreID <= 0 || in.ClientID <= 0 {
		return Quote{}, shared.Validation("storeId and clientId are required")
	}
	if len(in.Lines) == 0 {
		return Quote{}, shared.Validation("quote requires at least one line")
	}
	if in.QuoteDate.IsZero() {
		in.QuoteDate = s.now()
	}
	if in.ValidUntil != nil && in.ValidUntil.Before(in.QuoteDate) {
		return Quote{}, shared.Validation("validUntil must be after quoteDate")
	}

	quote := Quote{
		StoreID:    in.StoreID,
		ClientID:   in.ClientID,
		ClientName: in.ClientName,
		QuoteDate:  in.QuoteDate,
		ValidUntil: in.ValidUntil,
		Tax:        in.Tax,
		Discount:   in.Discount,
		Status:     QuoteStatusDraft,
		Notes:      in.Notes,
		Terms:      in.Terms,
	}
	linesSum := decimal.Zero
	for _, l := range in.Lines {
		if !l.Quantity.IsPositive() {
			return Quote{}, shared.Validation("line quantity must be positive")
		}
		if l.UnitPrice.IsNegative() {
			return Quote{}, shared.Validation("line unit price must not be negative")
		}
		if !salesshared.AllCents(l.UnitPrice, l.LineTotal) {
			return Quote{}, ErrSubCentAmount
		}
		total := l.LineTotal
		if total.IsZero() {
			total = salesshared.LineTotal(l.Quantity, l.UnitPrice)
		}
		linesSum = linesSum.Add(total)
		quote.Lines = append(quote.Lines, QuoteLine{
			ProductID:   l.ProductID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   total,
		})
	}
	quote.Subtotal = in.Subtotal
	if quote.Subtotal.IsZero() {
		quote.Subtotal = linesSum
	}
	quote.Total = in.Total
	if quote.Total.IsZero() {
		quote.Total = salesshared.DocumentTotal(quote.Subtotal, quote.Tax, quote.Discount)
	}
	if quote.Tax.IsNegative() || quote.Discount.IsNegative() || quote.Total.IsNegative() {
		return Quote{}, shared.Validation("amounts must not be negative")
	}
	if !salesshared.AllCents(quote.Subtotal, quote.Tax, quote.Discount, quote.Total) {
		return Quote{}, ErrSubCentAmount
	}
	if !salesshared.TotalsBalance(quote.Subtotal, quote.Tax, quote.Discount, quote.Total) {
		return Quote{}, ErrTotalsMismatch
	}

	var created Quote
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextQuoteNumber(ctx, quote.StoreID)
		if err != nil {
			return err
		}
		quote.Number = number.Value
		created, err = tx.Insert(ctx, quote)
		if err != nil {
			return err
		}
		return tx.Audit(ctx, shared.AuditLog{
			Action:   "quote.created",
			Entity:   "quote",
			EntityID: fmt.Sprint(created.ID),
			Meta:     map[string]any{"number": created.Number, "total": created.Total.String()},
		})
	})
	return created, err
}

func (s *Service) Get(ctx context.Context, h tenant.Handle, id int64) (Quote, error) {
	return s.repos(h).Get(ctx, id)
}

func (s *Service) Send(ctx context.Context, h tenant.Handle, id int64) (Quote, error) {
	return s.transition(ctx, h, id, QuoteStatusSent)
}

func (s *Service) Accept(ctx context.Context, h tenant.Handle, id int64) (Quote, error) {
	return s.transition(ctx, h, id, QuoteStatusAccepted)
}

func (s *Service) Decline(ctx context.Context, h tenant.Handle, id int64) (Quote, error) {
	return s.transition(ctx, h, id, QuoteStatusDeclined)
}

func (s *Service) Expire(ctx context.Context, h tenant.Handle, id int64) (Quote, error) {
	return s.transition(ctx, h, id, QuoteStatusExpired)
}

func (s *Service) transition(ctx context.Context, h tenant.Handle, id int64, next QuoteStatus) (Quote, error) {
	var out Quote
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !q.Status.CanTransitionTo(next) {
			if q.Status == QuoteStatusConverted {
				return ErrAlreadyConverted
			}
			return ErrInvalidStatus
		}
		if err := tx.UpdateStatus(ctx, id, next); err != nil {
			return err
		}
		if err := tx.Audit(ctx, shared.AuditLog{
			Action:   "quote." + string(next),
			Entity:   "quote",
			EntityID: fmt.Sprint(id),
			Meta:     map[string]any{"from": string(q.Status)},
		}); err != nil {
			return err
		}
		q.Status = next
		out = q
		return nil
	})
	return out, err
}

// Convert turns an accepted quote into a draft invoice exactly once. Number
// allocation, invoice and line creation and the quote status change commit
// together.
func (s *Service) Convert(ctx context.Context, h tenant.Handle, id int64, in ConvertInput) (Conversion, error) {
	if in.InvoiceDate.IsZero() {
		in.InvoiceDate = s.now()
	}
	if in.DueDate != nil && in.DueDate.Before(in.InvoiceDate) {
		return Conversion{}, shared.Validation("dueDate must not be before invoiceDate")
	}
	var result Conversion
	err := s.repos(h).WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := checkConvertible(q.Status); err != nil {
			return err
		}

		number, err := tx.NextInvoiceNumber(ctx, q.StoreID)
		if err != nil {
			return err
		}
		quoteID := q.ID
		invoiceIn := ar.InvoiceInput{
			StoreID:     q.StoreID,
			ClientID:    q.ClientID,
			ClientName:  q.ClientName,
			QuoteID:     &quoteID,
			InvoiceDate: in.InvoiceDate,
			DueDate:     in.DueDate,
			Subtotal:    q.Subtotal,
			Tax:         q.Tax,
			Discount:    q.Discount,
			Total:       q.Total,
			Notes:       q.Notes,
			Terms:       q.Terms,
		}
		for _, l := range q.Lines {
			invoiceIn.Lines = append(invoiceIn.Lines, ar.InvoiceLineInput{
				ProductID:   l.ProductID,
				Description: l.Description,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				LineTotal:   l.LineTotal,
			})
		}
		inv, err := tx.CreateInvoice(ctx, invoiceIn, number.Value)
		if err != nil {
			return err
		}

		if err := tx.MarkConverted(ctx, q.ID, inv.ID, s.now()); err != nil {
			return err
		}
		if err := tx.Audit(ctx, shared.AuditLog{
			Action:   "quote.converted",
			Entity:   "quote",
			EntityID: fmt.Sprint(q.ID),
			Meta:     map[string]any{"invoice_id": inv.ID, "invoice_number": inv.Number},
		}); err != nil {
			return err
		}
		result = Conversion{QuoteID: q.ID, InvoiceID: inv.ID, InvoiceNumber: inv.Number}
		return nil
	})
	s.observe(err)
	if err != nil {
		return Conversion{}, err
	}
	return result, nil
}

func (s *Service) observe(err error) {
	if s.metrics == nil {
		return
	}
	var de *shared.Error
	switch {
	case err == nil:
		s.metrics.QuoteConverted("success")
	case errors.As(err, &de):
		s.metrics.QuoteConverted("rejected")
	default:
		s.metrics.QuoteConverted("error")
	}
}

// ExpireDue marks sent quotes whose validity ended before asOf as expired.
func (s *Service) ExpireDue(ctx context.Context, h tenant.Handle, asOf time.Time) (int64, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repos(h).ExpireDue(ctx, asOf)
}
