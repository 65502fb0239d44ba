package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-billing/internal/jobs"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

type fakeTenants struct {
	ids []string
}

func (f fakeTenants) ForEach(ctx context.Context, limit int, fn func(context.Context, tenant.Handle) error) error {
	for _, id := range f.ids {
		if err := fn(ctx, tenant.Handle{ID: id}); err != nil {
			return fmt.Errorf("tenant %s: %w", id, err)
		}
	}
	return nil
}

type recordingSweeper struct {
	mu     sync.Mutex
	calls  map[string]time.Time
	counts map[string]int64
	failOn string
}

func newRecordingSweeper() *recordingSweeper {
	return &recordingSweeper{calls: map[string]time.Time{}, counts: map[string]int64{"acme": 3, "bloom": 0}}
}

func (s *recordingSweeper) run(ctx context.Context, h tenant.Handle, asOf time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == s.failOn {
		return 0, errors.New("database unavailable")
	}
	s.calls[h.ID] = asOf
	return s.counts[h.ID], nil
}

func (s *recordingSweeper) MarkOverdue(ctx context.Context, h tenant.Handle, asOf time.Time) (int64, error) {
	return s.run(ctx, h, asOf)
}

func (s *recordingSweeper) ExpireDue(ctx context.Context, h tenant.Handle, asOf time.Time) (int64, error) {
	return s.run(ctx, h, asOf)
}

var sweepNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func newSweepJobs(t *testing.T, sweeper *recordingSweeper) (*SweepJobs, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	return &SweepJobs{
		Tenants:  fakeTenants{ids: []string{"acme", "bloom"}},
		Invoices: sweeper,
		Quotes:   sweeper,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics,
		clock:    func() time.Time { return sweepNow },
	}, reg
}

func mustTask(t *testing.T, taskType string, payload SweepPayload) *asynq.Task {
	t.Helper()
	task, err := NewSweepTask(taskType, payload)
	require.NoError(t, err)
	return task
}

func TestOverdueSweepVisitsEveryTenant(t *testing.T) {
	sweeper := newRecordingSweeper()
	jobs, reg := newSweepJobs(t, sweeper)

	err := jobs.HandleOverdueSweep(context.Background(), mustTask(t, TaskInvoiceOverdueSweep, SweepPayload{}))
	require.NoError(t, err)
	require.Equal(t, map[string]time.Time{"acme": sweepNow, "bloom": sweepNow}, sweeper.calls)
	// bloom changed nothing, so only acme has an affected series.
	count, err := testutil.GatherAndCount(reg, "odyssey_jobs_affected_documents_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestQuoteExpirySingleTenantWithAsOf(t *testing.T) {
	sweeper := newRecordingSweeper()
	jobs, _ := newSweepJobs(t, sweeper)

	task := mustTask(t, TaskQuoteExpirySweep, SweepPayload{TenantID: "bloom", AsOf: "2024-04-01T00:00:00Z"})
	require.NoError(t, jobs.HandleQuoteExpiry(context.Background(), task))
	require.Len(t, sweeper.calls, 1)
	require.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), sweeper.calls["bloom"])
}

func TestSweepFailureIsReturned(t *testing.T) {
	sweeper := newRecordingSweeper()
	sweeper.failOn = "acme"
	jobs, reg := newSweepJobs(t, sweeper)

	err := jobs.HandleOverdueSweep(context.Background(), mustTask(t, TaskInvoiceOverdueSweep, SweepPayload{}))
	require.ErrorContains(t, err, "tenant acme: database unavailable")

	count, err := testutil.GatherAndCount(reg, "odyssey_jobs_tenant_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSweepRejectsBadPayload(t *testing.T) {
	jobs, _ := newSweepJobs(t, newRecordingSweeper())

	err := jobs.HandleOverdueSweep(context.Background(), asynq.NewTask(TaskInvoiceOverdueSweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = jobs.HandleQuoteExpiry(context.Background(), mustTask(t, TaskQuoteExpirySweep, SweepPayload{AsOf: "tomorrow"}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestUnconfiguredSweep(t *testing.T) {
	var jobs *SweepJobs
	require.Error(t, jobs.HandleOverdueSweep(context.Background(), asynq.NewTask(TaskInvoiceOverdueSweep, nil)))
	require.Error(t, (&SweepJobs{}).HandleIdempotencyCleanup(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	jobs, _ := newSweepJobs(t, newRecordingSweeper())
	var mu sync.Mutex
	got := map[string]time.Duration{}
	jobs.Cleaner = func(ctx context.Context, h tenant.Handle, olderThan time.Duration) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		got[h.ID] = olderThan
		return 2, nil
	}
	jobs.Retention = 48 * time.Hour

	task, err := NewCleanupTask(CleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, jobs.HandleIdempotencyCleanup(context.Background(), task))
	require.Equal(t, map[string]time.Duration{"acme": 48 * time.Hour, "bloom": 48 * time.Hour}, got)

	task, err = NewCleanupTask(CleanupPayload{TenantID: "acme", Retention: "1h"})
	require.NoError(t, err)
	require.NoError(t, jobs.HandleIdempotencyCleanup(context.Background(), task))
	require.Equal(t, time.Hour, got["acme"])

	task, err = NewCleanupTask(CleanupPayload{Retention: "-5m"})
	require.NoError(t, err)
	require.ErrorIs(t, jobs.HandleIdempotencyCleanup(context.Background(), task), asynq.SkipRetry)
}

func TestNewSweepTask(t *testing.T) {
	task, err := NewSweepTask(TaskQuoteExpirySweep, SweepPayload{TenantID: "acme"})
	require.NoError(t, err)
	require.Equal(t, TaskQuoteExpirySweep, task.Type())
	var payload SweepPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "acme", payload.TenantID)

	_, err = NewSweepTask(TaskIdempotencyCleanup, SweepPayload{})
	require.Error(t, err)
}

func TestHandlersCoverEveryTask(t *testing.T) {
	jobs, _ := newSweepJobs(t, newRecordingSweeper())
	types := map[string]bool{}
	for _, h := range jobs.Handlers() {
		require.NotNil(t, h.Handler)
		types[h.Type] = true
	}
	require.Equal(t, map[string]bool{
		TaskInvoiceOverdueSweep: true,
		TaskQuoteExpirySweep:    true,
		TaskIdempotencyCleanup:  true,
	}, types)
}
