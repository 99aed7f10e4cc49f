package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SweepJobReasonDeadlineExceeded = "deadline_exceeded"
	SweepJobReasonCanceled         = "canceled"
	SweepJobReasonUnknown          = "unknown"

	SweepItemOutcomePublished = "published"
	SweepItemOutcomeFailed    = "failed"
	SweepItemOutcomeRequeued  = "requeued"
)

// SweepMetrics tracks background sweep job health.
type SweepMetrics struct {
	cfg Config

	jobRuns      *prometheus.CounterVec
	jobErrors    *prometheus.CounterVec
	jobTimeouts  *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	itemOutcomes *prometheus.CounterVec
	runLoopLag   prometheus.Histogram
}

var (
	sweepMu       sync.Mutex
	sweepInstance *SweepMetrics
)

// Sweep returns the process-wide sweep metrics, initializing with empty
// labels when SweepWithConfig was never called.
func Sweep() *SweepMetrics {
	sweepMu.Lock()
	defer sweepMu.Unlock()
	if sweepInstance == nil {
		sweepInstance = newSweepMetrics(Config{})
	}
	return sweepInstance
}

// SweepWithConfig initializes the sweep metrics singleton with static labels.
func SweepWithConfig(cfg Config) *SweepMetrics {
	sweepMu.Lock()
	defer sweepMu.Unlock()
	if sweepInstance == nil {
		sweepInstance = newSweepMetrics(cfg)
	}
	return sweepInstance
}

// ResetSweepMetricsForTest clears the singleton so tests can swap registries.
func ResetSweepMetricsForTest() {
	sweepMu.Lock()
	defer sweepMu.Unlock()
	sweepInstance = nil
}

func newSweepMetrics(cfg Config) *SweepMetrics {
	labels := prometheus.Labels{
		"service": cfg.ServiceName,
		"env":     cfg.Environment,
	}
	m := &SweepMetrics{
		cfg: cfg,
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "postloom_sweep_job_runs_total",
			Help:        "Total sweep job invocations.",
			ConstLabels: labels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "postloom_sweep_job_errors_total",
			Help:        "Total sweep job errors by reason.",
			ConstLabels: labels,
		}, []string{"job", "reason"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "postloom_sweep_job_timeouts_total",
			Help:        "Total sweep jobs that hit their deadline.",
			ConstLabels: labels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "postloom_sweep_job_duration_seconds",
			Help:        "Sweep job wall time.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"job"}),
		itemOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "postloom_sweep_items_total",
			Help:        "Content items processed by the publish sweep, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "postloom_sweep_run_loop_lag_seconds",
			Help:        "Delay between the scheduled and actual start of a sweep pass.",
			ConstLabels: labels,
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}
	prometheus.DefaultRegisterer.MustRegister(
		m.jobRuns, m.jobErrors, m.jobTimeouts, m.jobDuration, m.itemOutcomes, m.runLoopLag,
	)
	return m
}

func (m *SweepMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SweepMetrics) IncJobError(job string, err error) {
	m.jobErrors.WithLabelValues(job, ClassifySweepJobReason(err)).Inc()
}

func (m *SweepMetrics) IncJobTimeout(job string) {
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SweepMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SweepMetrics) IncItemOutcome(outcome string) {
	m.itemOutcomes.WithLabelValues(outcome).Inc()
}

func (m *SweepMetrics) ObserveRunLoopLag(d time.Duration) {
	m.runLoopLag.Observe(d.Seconds())
}

// ClassifySweepJobReason buckets job errors for the error counter.
func ClassifySweepJobReason(err error) string {
	switch {
	case err == nil:
		return SweepJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return SweepJobReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return SweepJobReasonCanceled
	default:
		return SweepJobReasonUnknown
	}
}
