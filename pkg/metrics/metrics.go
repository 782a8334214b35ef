package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics for an obfuscation run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Run metrics
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram

	// Table metrics
	tablesTotal   *prometheus.CounterVec
	tableDuration *prometheus.HistogramVec
	rowsTotal     *prometheus.CounterVec

	// Output metrics
	bytesWrittenTotal prometheus.Counter
	headerBytes       prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgscrub_runs_total",
				Help: "Total number of obfuscation runs",
			},
			[]string{"status"},
		),

		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pgscrub_run_duration_seconds",
				Help:    "Obfuscation run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
		),

		tablesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgscrub_tables_total",
				Help: "Total number of table data blocks rewritten",
			},
			[]string{"mode"},
		),

		tableDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgscrub_table_duration_seconds",
				Help:    "Time spent rewriting one table's data block",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		rowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgscrub_rows_total",
				Help: "Total number of data rows seen",
			},
			[]string{"table", "outcome"},
		),

		bytesWrittenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pgscrub_data_bytes_written_total",
				Help: "Total number of framed data block bytes written",
			},
		),

		headerBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pgscrub_header_bytes",
				Help: "Size of the archive header of the current run",
			},
		),
	}

	return m
}

// RecordTable records one finished table
func (m *Metrics) RecordTable(table, mode string, rows, omitted, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.tablesTotal.WithLabelValues(mode).Inc()
	m.tableDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.rowsTotal.WithLabelValues(table, "written").Add(float64(rows))
	if omitted > 0 {
		m.rowsTotal.WithLabelValues(table, "omitted").Add(float64(omitted))
	}
	m.bytesWrittenTotal.Add(float64(bytes))
}

// RecordHeader records the size of the emitted header
func (m *Metrics) RecordHeader(size int) {
	if m == nil {
		return
	}
	m.headerBytes.Set(float64(size))
}

// RecordRun records a finished run
func (m *Metrics) RecordRun(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}
