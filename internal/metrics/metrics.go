// Package metrics holds the Prometheus instruments of discovery and masking
// runs. Every method is safe on a nil *Metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "maskflow"

// Metrics contains the run instruments.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	TablesProcessed    *prometheus.CounterVec
	BatchesTotal       *prometheus.CounterVec
	RowsWritten        *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	ConstraintOps      *prometheus.CounterVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Discovery and masking runs by operation and final status.",
		}, []string{"operation", "status"}),

		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}, []string{"operation"}),

		TablesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_processed_total",
			Help:      "Tables processed by operation and outcome.",
		}, []string{"operation", "status"}),

		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mask_batches_total",
			Help:      "Batches sent to the masking service by outcome.",
		}, []string{"status"}),

		RowsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to sinks by write mode.",
		}, []string{"mode"}),

		APIRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Latency of profiling and masking service calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"endpoint", "code"}),

		ConstraintOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "constraint_operations_total",
			Help:      "Foreign key drop and recreate operations by outcome.",
		}, []string{"op", "status"}),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(operation, status).Inc()
	m.RunDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// TableDone counts one table outcome.
func (m *Metrics) TableDone(operation, status string) {
	if m == nil {
		return
	}
	m.TablesProcessed.WithLabelValues(operation, status).Inc()
}

// Batch counts one masking batch.
func (m *Metrics) Batch(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.BatchesTotal.WithLabelValues(status).Inc()
}

// Rows counts rows written with the given mode ("masked", "bulk_copy",
// "dataflow_copy").
func (m *Metrics) Rows(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsWritten.WithLabelValues(mode).Add(float64(n))
}

// Constraint counts one constraint operation.
func (m *Metrics) Constraint(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ConstraintOps.WithLabelValues(op, status).Inc()
}

// ObserveAPICall records one service call; status 0 is a transport error.
// Its signature matches hyperscale.Observer.
func (m *Metrics) ObserveAPICall(endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.APIRequestDuration.WithLabelValues(endpoint, code).Observe(d.Seconds())
}
