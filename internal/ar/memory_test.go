package ar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/accounting"
	"github.com/odyssey-erp/odyssey-billing/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

var errInjected = errors.New("injected failure")

type memoryStore struct {
	prefix  string
	counter int64
}

// memoryARRepo keeps AR state in maps. WithTx holds a single lock for the
// whole transaction and restores a snapshot when fn fails.
type memoryARRepo struct {
	txMu        sync.Mutex
	invoices    map[int64]Invoice
	payments    map[int64]Payment
	stores      map[int64]*memoryStore
	sequences   map[string]int64
	idempotency map[string]shared.IdempotencyRecord
	audits      []shared.AuditLog
	ledger      *ledgertest.Memory
	nextID      int64
	failOn      string
}

func newMemoryARRepo() *memoryARRepo {
	return &memoryARRepo{
		invoices:    map[int64]Invoice{},
		payments:    map[int64]Payment{},
		stores:      map[int64]*memoryStore{1: {prefix: "INV", counter: 1}},
		sequences:   map[string]int64{},
		idempotency: map[string]shared.IdempotencyRecord{},
		ledger:      ledgertest.New(),
	}
}

func (r *memoryARRepo) factory() func(tenant.Handle) Repository {
	return func(tenant.Handle) Repository { return r }
}

func (r *memoryARRepo) seedInvoice(total string, status InvoiceStatus, paid string) Invoice {
	r.nextID++
	inv := Invoice{
		ID:         r.nextID,
		StoreID:    1,
		Number:     fmt.Sprintf("INV%06d", r.nextID),
		ClientID:   7,
		Subtotal:   decimal.RequireFromString(total),
		Total:      decimal.RequireFromString(total),
		PaidAmount: decimal.RequireFromString(paid),
		Status:     status,
	}
	r.invoices[inv.ID] = inv
	return inv
}

type arSnapshot struct {
	invoices    map[int64]Invoice
	payments    map[int64]Payment
	counters    map[int64]int64
	sequences   map[string]int64
	idempotency map[string]shared.IdempotencyRecord
	audits      int
	nextID      int64
	ledger      any
}

func (r *memoryARRepo) snapshot() arSnapshot {
	s := arSnapshot{
		invoices:    map[int64]Invoice{},
		payments:    map[int64]Payment{},
		counters:    map[int64]int64{},
		sequences:   map[string]int64{},
		idempotency: map[string]shared.IdempotencyRecord{},
		audits:      len(r.audits),
		nextID:      r.nextID,
		ledger:      r.ledger.Snapshot(),
	}
	for k, v := range r.invoices {
		s.invoices[k] = v
	}
	for k, v := range r.payments {
		s.payments[k] = v
	}
	for k, v := range r.stores {
		s.counters[k] = v.counter
	}
	for k, v := range r.sequences {
		s.sequences[k] = v
	}
	for k, v := range r.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (r *memoryARRepo) restore(s arSnapshot) {
	r.invoices, r.payments, r.sequences, r.idempotency = s.invoices, s.payments, s.sequences, s.idempotency
	for k, v := range s.counters {
		r.stores[k].counter = v
	}
	r.audits = r.audits[:s.audits]
	r.nextID = s.nextID
	r.ledger.Restore(s.ledger)
}

func (r *memoryARRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryARRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryARRepo) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	var out []Payment
	for id := int64(1); id <= r.nextID; id++ {
		if p, ok := r.payments[id]; ok && p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryARRepo) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	var n int64
	for id, inv := range r.invoices {
		if (inv.Status == InvoiceStatusSent || inv.Status == InvoiceStatusPartial) && inv.DueDate != nil && inv.DueDate.Before(asOf) {
			inv.Status = InvoiceStatusOverdue
			r.invoices[id] = inv
			n++
		}
	}
	return n, nil
}

func (r *memoryARRepo) fail(op string) error {
	if r.failOn == op {
		return errInjected
	}
	return nil
}

func (r *memoryARRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryARRepo) NextInvoiceNumber(ctx context.Context, storeID int64) (numbering.Number, error) {
	s, ok := r.stores[storeID]
	if !ok {
		return numbering.Number{}, numbering.ErrStoreNotFound
	}
	n := numbering.Number{Prefix: s.prefix, Counter: s.counter, Value: numbering.Format(s.prefix, s.counter)}
	s.counter++
	return n, nil
}

func (r *memoryARRepo) NextPaymentNumber(ctx context.Context, storeID int64, date time.Time) (string, error) {
	key := fmt.Sprintf("%d:%s", storeID, date.Format("200601"))
	r.sequences[key]++
	return numbering.PeriodFormat(PaymentNumberCode, date, r.sequences[key]), nil
}

func (r *memoryARRepo) InsertInvoice(ctx context.Context, in InvoiceInput, number string) (Invoice, error) {
	if err := r.fail("InsertInvoice"); err != nil {
		return Invoice{}, err
	}
	r.nextID++
	inv := Invoice{
		ID: r.nextID, StoreID: in.StoreID, Number: number, ClientID: in.ClientID, ClientName: in.ClientName,
		QuoteID: in.QuoteID, InvoiceDate: in.InvoiceDate, DueDate: in.DueDate,
		Subtotal: in.Subtotal, Tax: in.Tax, Discount: in.Discount, Total: in.Total,
		PaidAmount: decimal.Zero, Status: InvoiceStatusDraft, Notes: in.Notes, Terms: in.Terms,
	}
	for i, l := range in.Lines {
		inv.Lines = append(inv.Lines, InvoiceLine{
			ID: int64(i + 1), InvoiceID: inv.ID, ProductID: l.ProductID, Description: l.Description,
			Quantity: l.Quantity, UnitPrice: l.UnitPrice, LineTotal: l.LineTotal,
		})
	}
	r.invoices[inv.ID] = inv
	return inv, nil
}

func (r *memoryARRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	if err := r.fail("InsertPayment"); err != nil {
		return Payment{}, err
	}
	r.nextID++
	p.ID = r.nextID
	p.CreatedAt = time.Now()
	r.payments[p.ID] = p
	return p, nil
}

func (r *memoryARRepo) LinkPaymentJournal(ctx context.Context, paymentID, journalID int64) error {
	p := r.payments[paymentID]
	p.JournalEntryID = &journalID
	r.payments[paymentID] = p
	return nil
}

func (r *memoryARRepo) UpdateInvoicePayment(ctx context.Context, id int64, paid decimal.Decimal, status InvoiceStatus) error {
	if err := r.fail("UpdateInvoicePayment"); err != nil {
		return err
	}
	inv, ok := r.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.PaidAmount = paid
	inv.Status = status
	r.invoices[id] = inv
	return nil
}

func (r *memoryARRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status InvoiceStatus) error {
	inv, ok := r.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.Status = status
	r.invoices[id] = inv
	return nil
}

func (r *memoryARRepo) ClaimIdempotency(ctx context.Context, key, fingerprint string) (shared.IdempotencyRecord, bool, error) {
	if rec, ok := r.idempotency[key]; ok {
		return rec, false, nil
	}
	rec := shared.IdempotencyRecord{Key: key, Module: IdempotencyModule, Fingerprint: fingerprint, CreatedAt: time.Now()}
	r.idempotency[key] = rec
	return rec, true, nil
}

func (r *memoryARRepo) SaveIdempotencyResponse(ctx context.Context, key string, response []byte) error {
	rec := r.idempotency[key]
	rec.Response = response
	r.idempotency[key] = rec
	return nil
}

func (r *memoryARRepo) Ledger() accounting.TxRepository {
	return r.ledger
}

func (r *memoryARRepo) Audit(ctx context.Context, log shared.AuditLog) error {
	r.audits = append(r.audits, log)
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	postings int
}

func (m *fakeMetrics) PaymentRecorded(method, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[method+":"+outcome]++
}

func (m *fakeMetrics) LedgerPosted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings++
}
