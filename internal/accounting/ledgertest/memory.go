// Package ledgertest provides an in-memory ledger store for tests.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-billing/internal/accounting"
)

// Memory implements accounting.TxRepository over maps. Snapshot and Restore
// emulate a transaction rollback for callers that need one.
type Memory struct {
	mu       sync.Mutex
	Accounts map[int64]accounting.Account
	Banks    map[int64]accounting.BankAccount
	Mappings map[string]int64
	Entries  map[int64]accounting.JournalEntry
	sources  map[string]int64
	nextID   int64
	FailOn   string
}

// ErrInjected is returned by the operation named in FailOn.
var ErrInjected = errors.New("ledgertest: injected failure")

// Standard fixture ids.
const (
	BankAccountID  int64 = 1
	BankChartID    int64 = 1010
	ReceivableID   int64 = 1200
	PayableID      int64 = 2100
	MissingAccount int64 = 9999
)

// New returns a store seeded with a bank account, A/R and A/P.
func New() *Memory {
	m := &Memory{
		Accounts: map[int64]accounting.Account{
			BankChartID:  {ID: BankChartID, Code: "1010", Name: "Bank", Type: accounting.AccountTypeAsset, Balance: decimal.NewFromInt(10000), IsActive: true},
			ReceivableID: {ID: ReceivableID, Code: "1200", Name: "Accounts Receivable", Type: accounting.AccountTypeAsset, Balance: decimal.NewFromInt(5000), IsActive: true},
			PayableID:    {ID: PayableID, Code: "2100", Name: "Accounts Payable", Type: accounting.AccountTypeLiability, Balance: decimal.NewFromInt(3000), IsActive: true},
		},
		Banks: map[int64]accounting.BankAccount{
			BankAccountID: {ID: BankAccountID, Name: "Operating", BankName: "First Bank", AccountNumber: "001", ChartAccountID: BankChartID, Balance: decimal.NewFromInt(10000)},
		},
		Mappings: map[string]int64{
			accounting.MappingModuleAR + ":" + accounting.MappingKeyControl: ReceivableID,
			accounting.MappingModuleAP + ":" + accounting.MappingKeyControl: PayableID,
		},
		Entries: map[int64]accounting.JournalEntry{},
		sources: map[string]int64{},
	}
	return m
}

type snapshot struct {
	accounts map[int64]accounting.Account
	banks    map[int64]accounting.BankAccount
	entries  map[int64]accounting.JournalEntry
	sources  map[string]int64
	nextID   int64
}

// Snapshot captures the mutable state.
func (m *Memory) Snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot{
		accounts: make(map[int64]accounting.Account, len(m.Accounts)),
		banks:    make(map[int64]accounting.BankAccount, len(m.Banks)),
		entries:  make(map[int64]accounting.JournalEntry, len(m.Entries)),
		sources:  make(map[string]int64, len(m.sources)),
		nextID:   m.nextID,
	}
	for k, v := range m.Accounts {
		s.accounts[k] = v
	}
	for k, v := range m.Banks {
		s.banks[k] = v
	}
	for k, v := range m.Entries {
		s.entries[k] = v
	}
	for k, v := range m.sources {
		s.sources[k] = v
	}
	return s
}

// Restore rolls the store back to a snapshot.
func (m *Memory) Restore(v any) {
	s := v.(snapshot)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts, m.Banks, m.Entries, m.sources, m.nextID = s.accounts, s.banks, s.entries, s.sources, s.nextID
}

func (m *Memory) fail(op string) error {
	if m.FailOn == op {
		return ErrInjected
	}
	return nil
}

func (m *Memory) GetBankAccountForUpdate(ctx context.Context, id int64) (accounting.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Banks[id]
	if !ok {
		return accounting.BankAccount{}, accounting.ErrBankAccountNotFound
	}
	return b, nil
}

func (m *Memory) GetAccountForUpdate(ctx context.Context, id int64) (accounting.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok || !a.IsActive {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) ResolveMapping(ctx context.Context, module, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.Mappings[module+":"+key]
	if !ok {
		return 0, accounting.ErrMappingNotFound
	}
	return id, nil
}

func (m *Memory) InsertJournalEntry(ctx context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	if err := m.fail("InsertJournalEntry"); err != nil {
		return accounting.JournalEntry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.sources[entry.SourceID.String()]; dup {
		return accounting.JournalEntry{}, accounting.ErrSourceAlreadyPosted
	}
	m.nextID++
	entry.ID = m.nextID
	entry.CreatedAt = time.Now()
	m.Entries[entry.ID] = entry
	m.sources[entry.SourceID.String()] = entry.ID
	return entry, nil
}

func (m *Memory) InsertJournalLines(ctx context.Context, entryID int64, lines []accounting.JournalLine) ([]accounting.JournalLine, error) {
	if err := m.fail("InsertJournalLines"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.Entries[entryID]
	out := make([]accounting.JournalLine, 0, len(lines))
	for i, l := range lines {
		l.ID = entryID*100 + int64(i) + 1
		l.JournalID = entryID
		out = append(out, l)
	}
	entry.Lines = append(entry.Lines, out...)
	m.Entries[entryID] = entry
	return out, nil
}

func (m *Memory) AdjustAccountBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	if err := m.fail("AdjustAccountBalance"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[accountID]
	if !ok {
		return accounting.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(delta)
	m.Accounts[accountID] = a
	return nil
}

func (m *Memory) AdjustBankAccountBalance(ctx context.Context, bankAccountID int64, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Banks[bankAccountID]
	if !ok {
		return accounting.ErrBankAccountNotFound
	}
	b.Balance = b.Balance.Add(delta)
	m.Banks[bankAccountID] = b
	return nil
}

func (m *Memory) MarkJournalPosted(ctx context.Context, entryID int64, at time.Time) error {
	if err := m.fail("MarkJournalPosted"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Entries[entryID]
	if !ok || e.Status != accounting.JournalStatusDraft {
		return accounting.ErrInvalidStatus
	}
	e.Status = accounting.JournalStatusPosted
	e.PostedAt = &at
	m.Entries[entryID] = e
	return nil
}

// Balance returns the chart balance of an account.
func (m *Memory) Balance(id int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Accounts[id].Balance
}

// BankBalance returns the cached balance of a bank account.
func (m *Memory) BankBalance(id int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Banks[id].Balance
}
