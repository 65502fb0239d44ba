package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every billing sweep.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	affected    *prometheus.CounterVec
	tenantFails *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers on registerer, or once on the default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() {
		defaultMetrics = register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Tracker times one run of a job.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the outcome and hands err back so callers can `return t.End(err)`.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
	} else {
		t.m.lastSuccess.WithLabelValues(t.job).SetToCurrentTime()
	}
	t.m.runs.WithLabelValues(t.job, status).Inc()
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddAffected counts documents a sweep changed for one tenant.
func (m *Metrics) AddAffected(job, tenantID string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.affected.WithLabelValues(job, tenantLabel(tenantID)).Add(float64(count))
}

// TenantFailed counts a tenant whose part of a sweep returned an error.
func (m *Metrics) TenantFailed(job, tenantID string) {
	if m == nil {
		return
	}
	m.tenantFails.WithLabelValues(job, tenantLabel(tenantID)).Inc()
}

func tenantLabel(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Job executions by job name and status.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Wall time of a job run across all tenants.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_affected_documents_total",
			Help: "Documents changed by sweep jobs grouped by job and tenant.",
		}, []string{"job", "tenant"}),
		tenantFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_tenant_failures_total",
			Help: "Per-tenant sweep failures grouped by job and tenant.",
		}, []string{"job", "tenant"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run of each job.",
		}, []string{"job"}),
	}
	registerer.MustRegister(m.runs, m.duration, m.affected, m.tenantFails, m.lastSuccess)
	return m
}
