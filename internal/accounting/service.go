package accounting

import (
	"context"

	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

// ReadRepository serves the read-only ledger endpoints.
type ReadRepository interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	GetJournal(ctx context.Context, id int64) (JournalEntry, error)
}

// Service exposes chart and journal queries per tenant.
type Service struct {
	repos func(tenant.Handle) ReadRepository
}

// NewService constructs the ledger query service.
func NewService(repos func(tenant.Handle) ReadRepository) *Service {
	return &Service{repos: repos}
}

// PostgresRepositories builds repositories on the tenant pool.
func PostgresRepositories(h tenant.Handle) ReadRepository {
	return NewRepository(h.Pool)
}

// ListAccounts returns the tenant chart of accounts.
func (s *Service) ListAccounts(ctx context.Context, h tenant.Handle) ([]Account, error) {
	return s.repos(h).ListAccounts(ctx)
}

// GetJournal returns an entry with lines.
func (s *Service) GetJournal(ctx context.Context, h tenant.Handle, id int64) (JournalEntry, error) {
	if id <= 0 {
		return JournalEntry{}, ErrJournalNotFound
	}
	return s.repos(h).GetJournal(ctx, id)
}
