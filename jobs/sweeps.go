package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-billing/internal/jobs"
	"github.com/odyssey-erp/odyssey-billing/internal/tenant"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Tenants fans work out over tenant databases.
type Tenants interface {
	ForEach(ctx context.Context, limit int, fn func(context.Context, tenant.Handle) error) error
}

// OverdueMarker flips invoices past due to overdue.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, h tenant.Handle, asOf time.Time) (int64, error)
}

// QuoteExpirer expires sent quotes past validity.
type QuoteExpirer interface {
	ExpireDue(ctx context.Context, h tenant.Handle, asOf time.Time) (int64, error)
}

// IdempotencyCleaner deletes idempotency records older than the retention.
type IdempotencyCleaner func(ctx context.Context, h tenant.Handle, olderThan time.Duration) (int64, error)

// SweepJobs runs the periodic billing sweeps for every tenant.
type SweepJobs struct {
	Tenants   Tenants
	Invoices  OverdueMarker
	Quotes    QuoteExpirer
	Cleaner   IdempotencyCleaner
	Retention time.Duration
	// Parallel caps how many tenants are swept at once.
	Parallel int
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// Handlers lists the asynq handlers of the sweeps.
func (j *SweepJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskInvoiceOverdueSweep, Handler: j.HandleOverdueSweep},
		{Type: TaskQuoteExpirySweep, Handler: j.HandleQuoteExpiry},
		{Type: TaskIdempotencyCleanup, Handler: j.HandleIdempotencyCleanup},
	}
}

// HandleOverdueSweep marks overdue invoices.
func (j *SweepJobs) HandleOverdueSweep(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Invoices == nil {
		return errors.New("overdue sweep: handler not configured")
	}
	return j.sweep(ctx, TaskInvoiceOverdueSweep, t, j.Invoices.MarkOverdue)
}

// HandleQuoteExpiry expires stale quotes.
func (j *SweepJobs) HandleQuoteExpiry(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Quotes == nil {
		return errors.New("quote expiry: handler not configured")
	}
	return j.sweep(ctx, TaskQuoteExpirySweep, t, j.Quotes.ExpireDue)
}

func (j *SweepJobs) sweep(ctx context.Context, job string, t *asynq.Task, fn func(context.Context, tenant.Handle, time.Time) (int64, error)) (resultErr error) {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf, err := payload.asOf(j.now())
	if err != nil {
		return errors.Join(err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(job)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger(job).With(slog.String("run_id", uuid.NewString()), slog.Time("as_of", asOf))
	logger.Info("starting sweep")
	start := time.Now()

	var total atomic.Int64
	err = j.forTenants(ctx, payload.TenantID, func(ctx context.Context, h tenant.Handle) error {
		n, err := fn(ctx, h, asOf)
		if err != nil {
			logger.Error("sweep tenant failed", slog.String("tenant", h.ID), slog.Any("error", err))
			j.metrics().TenantFailed(job, h.ID)
			return err
		}
		j.metrics().AddAffected(job, h.ID, n)
		if n > 0 {
			logger.Info("sweep updated documents", slog.String("tenant", h.ID), slog.Int64("count", n))
		}
		total.Add(n)
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("completed sweep", slog.Int64("updated", total.Load()), slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleIdempotencyCleanup removes expired idempotency keys.
func (j *SweepJobs) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Cleaner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := j.Retention
	if payload.Retention != "" {
		d, err := time.ParseDuration(payload.Retention)
		if err != nil || d <= 0 {
			return asynq.SkipRetry
		}
		retention = d
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger(TaskIdempotencyCleanup).With(slog.Duration("retention", retention))

	return j.forTenants(ctx, payload.TenantID, func(ctx context.Context, h tenant.Handle) error {
		n, err := j.Cleaner(ctx, h, retention)
		if err != nil {
			logger.Error("cleanup tenant failed", slog.String("tenant", h.ID), slog.Any("error", err))
			j.metrics().TenantFailed(TaskIdempotencyCleanup, h.ID)
			return err
		}
		j.metrics().AddAffected(TaskIdempotencyCleanup, h.ID, n)
		logger.Info("idempotency keys removed", slog.String("tenant", h.ID), slog.Int64("count", n))
		return nil
	})
}

// forTenants runs fn for one tenant, or for all of them when tenantID is empty.
func (j *SweepJobs) forTenants(ctx context.Context, tenantID string, fn func(context.Context, tenant.Handle) error) error {
	if j.Tenants == nil {
		return errors.New("jobs: tenants not configured")
	}
	return j.Tenants.ForEach(ctx, j.parallel(), func(ctx context.Context, h tenant.Handle) error {
		if tenantID != "" && h.ID != tenantID {
			return nil
		}
		return fn(ctx, h)
	})
}

func (j *SweepJobs) parallel() int {
	if j.Parallel > 0 {
		return j.Parallel
	}
	return 1
}

func (j *SweepJobs) logger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *SweepJobs) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SweepJobs) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
