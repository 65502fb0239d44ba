package ap

import (
	"context"
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

var testTenant = tenant.Handle{ID: "acme"}

type memoryAPRepo struct {
	mu        sync.Mutex
	bills     map[int64]Bill
	payments  map[int64]BillPayment
	sequences map[string]int64
	audits    []shared.AuditLog
	ledger    *ledgertest.Memory
	nextID    int64
}

func newMemoryAPRepo() *memoryAPRepo {
	return &memoryAPRepo{
		bills:     map[int64]Bill{},
		payments:  map[int64]BillPayment{},
		sequences: map[string]int64{},
		ledger:    ledgertest.New(),
	}
}

func (r *memoryAPRepo) factory() func(tenant.Handle) Repository {
	return func(tenant.Handle) Repository { return r }
}

func (r *memoryAPRepo) seedBill(total string) Bill {
	r.nextID++
	b := Bill{
		ID:         r.nextID,
		StoreID:    1,
		Number:     fmt.Sprintf("SUP-%d", r.nextID),
		SupplierID: 3,
		Total:      decimal.RequireFromString(total),
		PaidAmount: decimal.Zero,
		Status:     BillStatusOpen,
	}
	r.bills[b.ID] = b
	return b
}

type apSnapshot struct {
	bills     map[int64]Bill
	payments  map[int64]BillPayment
	sequences map[string]int64
	audits    int
	nextID    int64
	ledger    any
}

func (r *memoryAPRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := apSnapshot{
		bills:     map[int64]Bill{},
		payments:  map[int64]BillPayment{},
		sequences: map[string]int64{},
		audits:    len(r.audits),
		nextID:    r.nextID,
		ledger:    r.ledger.Snapshot(),
	}
	for k, v := range r.bills {
		snap.bills[k] = v
	}
	for k, v := range r.payments {
		snap.payments[k] = v
	}
	for k, v := range r.sequences {
		snap.sequences[k] = v
	}
	if err := fn(ctx, r); err != nil {
		r.bills, r.payments, r.sequences = snap.bills, snap.payments, snap.sequences
		r.audits = r.audits[:snap.audits]
		r.nextID = snap.nextID
		r.ledger.Restore(snap.ledger)
		return err
	}
	return nil
}

func (r *memoryAPRepo) GetBill(ctx context.Context, id int64) (Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[id]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return b, nil
}

func (r *memoryAPRepo) ListPayments(ctx context.Context, billID int64) ([]BillPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BillPayment
	for id := int64(1); id <= r.nextID; id++ {
		if p, ok := r.payments[id]; ok && p.BillID == billID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryAPRepo) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	b, ok := r.bills[id]
	if !ok {
		return Bill{}, ErrBillNotFound
	}
	return b, nil
}

func (r *memoryAPRepo) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	for _, existing := range r.bills {
		if existing.SupplierID == b.SupplierID && existing.Number == b.Number {
			return Bill{}, shared.Conflict("bill already recorded for supplier")
		}
	}
	r.nextID++
	b.ID = r.nextID
	r.bills[b.ID] = b
	return b, nil
}

func (r *memoryAPRepo) NextPaymentNumber(ctx context.Context, storeID int64, date time.Time) (string, error) {
	key := fmt.Sprintf("%d:%s", storeID, date.Format("200601"))
	r.sequences[key]++
	return numbering.PeriodFormat(PaymentNumberCode, date, r.sequences[key]), nil
}

func (r *memoryAPRepo) InsertPayment(ctx context.Context, p BillPayment) (BillPayment, error) {
	r.nextID++
	p.ID = r.nextID
	r.payments[p.ID] = p
	return p, nil
}

func (r *memoryAPRepo) UpdateBillPayment(ctx context.Context, id int64, paid decimal.Decimal, status BillStatus) error {
	b, ok := r.bills[id]
	if !ok {
		return ErrBillNotFound
	}
	b.PaidAmount, b.Status = paid, status
	r.bills[id] = b
	return nil
}

func (r *memoryAPRepo) UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error {
	b, ok := r.bills[id]
	if !ok {
		return ErrBillNotFound
	}
	b.Status = status
	r.bills[id] = b
	return nil
}

func (r *memoryAPRepo) Ledger() accounting.TxRepository {
	return r.ledger
}

func (r *memoryAPRepo) Audit(ctx context.Context, log shared.AuditLog) error {
	r.audits = append(r.audits, log)
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	postings map[string]int
}

func (m *fakeMetrics) LedgerPosted(reference string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postings == nil {
		m.postings = map[string]int{}
	}
	m.postings[reference]++
}
