package quotations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/ar"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

var (
	errInjected = errors.New("injected failure")
	testTenant  = tenant.Handle{ID: "acme"}
)

type memoryStore struct {
	invoicePrefix  string
	invoiceCounter int64
	quotePrefix    string
	quoteCounter   int64
}

// memoryRepo keeps quotes and the invoices produced from them. WithTx holds
// one lock per transaction and restores a snapshot when fn fails.
type memoryRepo struct {
	mu       sync.Mutex
	quotes   map[int64]Quote
	invoices map[int64]ar.Invoice
	stores   map[int64]*memoryStore
	audits   []shared.AuditLog
	nextID   int64
	failOn   string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		quotes:   map[int64]Quote{},
		invoices: map[int64]ar.Invoice{},
		stores: map[int64]*memoryStore{
			1: {invoicePrefix: "INV", invoiceCounter: 42, quotePrefix: "QT-", quoteCounter: 1},
		},
	}
}

func (r *memoryRepo) factory() func(tenant.Handle) Repository {
	return func(tenant.Handle) Repository { return r }
}

func (r *memoryRepo) seedQuote(total string, status QuoteStatus) Quote {
	r.nextID++
	amount := decimal.RequireFromString(total)
	q := Quote{
		ID:         r.nextID,
		StoreID:    1,
		Number:     fmt.Sprintf("QT-%06d", r.nextID),
		ClientID:   7,
		ClientName: "Acme Salon",
		QuoteDate:  time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
		Subtotal:   amount,
		Total:      amount,
		Status:     status,
		Notes:      "net 30",
		Lines: []QuoteLine{
			{ID: 1, QuoteID: r.nextID, Description: "Consulting", Quantity: decimal.NewFromInt(1), UnitPrice: amount, LineTotal: amount},
		},
	}
	r.quotes[q.ID] = q
	return q
}

type memorySnapshot struct {
	quotes   map[int64]Quote
	invoices map[int64]ar.Invoice
	counters map[int64][2]int64
	audits   int
	nextID   int64
}

func (r *memoryRepo) snapshot() memorySnapshot {
	s := memorySnapshot{
		quotes:   map[int64]Quote{},
		invoices: map[int64]ar.Invoice{},
		counters: map[int64][2]int64{},
		audits:   len(r.audits),
		nextID:   r.nextID,
	}
	for k, v := range r.quotes {
		s.quotes[k] = v
	}
	for k, v := range r.invoices {
		s.invoices[k] = v
	}
	for k, v := range r.stores {
		s.counters[k] = [2]int64{v.invoiceCounter, v.quoteCounter}
	}
	return s
}

func (r *memoryRepo) restore(s memorySnapshot) {
	r.quotes, r.invoices = s.quotes, s.invoices
	for k, v := range s.counters {
		r.stores[k].invoiceCounter, r.stores[k].quoteCounter = v[0], v[1]
	}
	r.audits = r.audits[:s.audits]
	r.nextID = s.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok {
		return Quote{}, ErrQuoteNotFound
	}
	return q, nil
}

func (r *memoryRepo) ExpireDue(ctx context.Context, asOf time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, q := range r.quotes {
		if q.Status == QuoteStatusSent && q.ValidUntil != nil && q.ValidUntil.Before(asOf) {
			q.Status = QuoteStatusExpired
			r.quotes[id] = q
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (Quote, error) {
	q, ok := r.quotes[id]
	if !ok {
		return Quote{}, ErrQuoteNotFound
	}
	return q, nil
}

func (r *memoryRepo) NextQuoteNumber(ctx context.Context, storeID int64) (numbering.Number, error) {
	s, ok := r.stores[storeID]
	if !ok {
		return numbering.Number{}, numbering.ErrStoreNotFound
	}
	n := numbering.Number{Prefix: s.quotePrefix, Counter: s.quoteCounter, Value: numbering.Format(s.quotePrefix, s.quoteCounter)}
	s.quoteCounter++
	return n, nil
}

func (r *memoryRepo) NextInvoiceNumber(ctx context.Context, storeID int64) (numbering.Number, error) {
	s, ok := r.stores[storeID]
	if !ok {
		return numbering.Number{}, numbering.ErrStoreNotFound
	}
	n := numbering.Number{Prefix: s.invoicePrefix, Counter: s.invoiceCounter, Value: numbering.Format(s.invoicePrefix, s.invoiceCounter)}
	s.invoiceCounter++
	return n, nil
}

func (r *memoryRepo) Insert(ctx context.Context, q Quote) (Quote, error) {
	r.nextID++
	q.ID = r.nextID
	for i := range q.Lines {
		q.Lines[i].ID = int64(i + 1)
		q.Lines[i].QuoteID = q.ID
	}
	r.quotes[q.ID] = q
	return q, nil
}

func (r *memoryRepo) CreateInvoice(ctx context.Context, in ar.InvoiceInput, number string) (ar.Invoice, error) {
	if r.failOn == "CreateInvoice" {
		return ar.Invoice{}, errInjected
	}
	r.nextID++
	inv := ar.Invoice{
		ID: r.nextID, StoreID: in.StoreID, Number: number, ClientID: in.ClientID, ClientName: in.ClientName,
		QuoteID: in.QuoteID, InvoiceDate: in.InvoiceDate, DueDate: in.DueDate,
		Subtotal: in.Subtotal, Tax: in.Tax, Discount: in.Discount, Total: in.Total,
		PaidAmount: decimal.Zero, Status: ar.InvoiceStatusDraft, Notes: in.Notes, Terms: in.Terms,
	}
	for i, l := range in.Lines {
		inv.Lines = append(inv.Lines, ar.InvoiceLine{
			ID: int64(i + 1), InvoiceID: inv.ID, ProductID: l.ProductID, Description: l.Description,
			Quantity: l.Quantity, UnitPrice: l.UnitPrice, LineTotal: l.LineTotal,
		})
	}
	r.invoices[inv.ID] = inv
	return inv, nil
}

func (r *memoryRepo) MarkConverted(ctx context.Context, id, invoiceID int64, at time.Time) error {
	if r.failOn == "MarkConverted" {
		return errInjected
	}
	q, ok := r.quotes[id]
	if !ok || q.Status != QuoteStatusAccepted {
		return ErrAlreadyConverted
	}
	q.Status = QuoteStatusConverted
	q.ConvertedToInvoiceID = &invoiceID
	q.ConvertedAt = &at
	r.quotes[id] = q
	return nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, id int64, status QuoteStatus) error {
	q, ok := r.quotes[id]
	if !ok {
		return ErrQuoteNotFound
	}
	q.Status = status
	r.quotes[id] = q
	return nil
}

func (r *memoryRepo) Audit(ctx context.Context, log shared.AuditLog) error {
	r.audits = append(r.audits, log)
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *fakeMetrics) QuoteConverted(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}
