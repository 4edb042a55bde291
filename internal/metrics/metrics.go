// Package metrics exposes Prometheus collectors for archive jobs and
// compressor detection. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "archiver"

type Metrics struct {
	JobsTotal      *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	BytesArchived  *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
	ActiveJobs     prometheus.Gauge
	ProbesTotal    *prometheus.CounterVec
	ProbeDuration  prometheus.Histogram
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// for the process-wide registry or a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Archive jobs by backend used and result.",
		}, []string{"backend", "result"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall clock duration of archive jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"backend"}),
		BytesArchived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_archived_total",
			Help:      "Source bytes written into successful archives.",
		}, []string{"backend"}),
		FallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Native attempts that fell back to the buffered backend, by primary error kind.",
		}, []string{"error_kind"}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Archive jobs currently running.",
		}),
		ProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binary",
			Name:      "probes_total",
			Help:      "Compressor detection runs by result.",
		}, []string{"result"}),
		ProbeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "binary",
			Name:      "probe_duration_seconds",
			Help:      "Duration of compressor detection runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// JobStarted increments the active job gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

// JobFinished records a terminal job result.
func (m *Metrics) JobFinished(backend string, success bool, errorKind string, elapsed time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()

	result := "success"
	if !success {
		result = errorKind
	}
	m.JobsTotal.WithLabelValues(backend, result).Inc()
	m.JobDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	if success && bytes > 0 {
		m.BytesArchived.WithLabelValues(backend).Add(float64(bytes))
	}
}

// Fallback records a switch from the native to the buffered backend.
func (m *Metrics) Fallback(errorKind string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(errorKind).Inc()
}

// ObserveProbe records one compressor detection run.
func (m *Metrics) ObserveProbe(found bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "found"
	if !found {
		result = "not_found"
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
	m.ProbeDuration.Observe(elapsed.Seconds())
}
