package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	TaskInvoiceOverdueSweep = "billing:invoices:overdue_sweep"
	TaskQuoteExpirySweep    = "billing:quotes:expiry_sweep"
	TaskIdempotencyCleanup  = "billing:idempotency:cleanup"
)

// SweepPayload scopes a sweep. An empty TenantID fans out to every active
// tenant; an empty AsOf means the time the task runs.
type SweepPayload struct {
	TenantID string `json:"tenant_id,omitempty"`
	AsOf     string `json:"as_of,omitempty"`
}

func (p SweepPayload) asOf(now time.Time) (time.Time, error) {
	if p.AsOf == "" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, p.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: invalid as_of %q: %w", p.AsOf, err)
	}
	return t, nil
}

// CleanupPayload configures the idempotency cleanup.
type CleanupPayload struct {
	TenantID  string `json:"tenant_id,omitempty"`
	Retention string `json:"retention,omitempty"`
}

// NewSweepTask builds one of the sweep tasks.
func NewSweepTask(taskType string, payload SweepPayload) (*asynq.Task, error) {
	switch taskType {
	case TaskInvoiceOverdueSweep, TaskQuoteExpirySweep:
	default:
		return nil, fmt.Errorf("jobs: %s is not a sweep task", taskType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NewCleanupTask builds an idempotency cleanup task.
func NewCleanupTask(payload CleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
