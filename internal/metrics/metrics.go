// Package metrics exposes Prometheus instrumentation for import and export jobs.
package metrics

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crm_import"

// Metrics holds all import/export Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Row outcomes: inserted, updated, skipped, failed
	RowsTotal *prometheus.CounterVec
	// Jobs by terminal status
	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Worker pool
	QueueDepth    prometheus.Gauge
	ActiveWorkers prometheus.Gauge
	JobsRejected  prometheus.Counter

	ExportRows *prometheus.CounterVec
}

// New registers every metric on a fresh registry, so tests can create as
// many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Import rows by entity type and outcome",
		}, []string{"entity_type", "outcome"}),
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Import jobs that reached a terminal status",
		}, []string{"entity_type", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of the batch loop",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
		}, []string{"entity_type"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently running a job",
		}),
		JobsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Jobs refused because the queue was full",
		}),
		ExportRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_rows_total",
			Help:      "Records written to export files",
		}, []string{"entity_type"}),
	}
}

// RegisterDB adds connection pool statistics for db
func (m *Metrics) RegisterDB(db *sql.DB) error {
	return m.registry.Register(collectors.NewDBStatsCollector(db, namespace))
}

// RegisterRuntime adds Go runtime and process collectors
func (m *Metrics) RegisterRuntime() error {
	if err := m.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return m.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRow counts one row outcome
func (m *Metrics) RecordRow(entityType, outcome string) {
	m.RowsTotal.WithLabelValues(entityType, outcome).Inc()
}

// RecordJob counts a finished job and its duration
func (m *Metrics) RecordJob(entityType, status string, duration time.Duration) {
	m.JobsTotal.WithLabelValues(entityType, status).Inc()
	if duration > 0 {
		m.JobDuration.WithLabelValues(entityType).Observe(duration.Seconds())
	}
}
