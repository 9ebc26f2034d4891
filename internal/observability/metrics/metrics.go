package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "meterbook_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ledgerAppendTotal   *prometheus.CounterVec
	ledgerAppendLatency *prometheus.HistogramVec
	validationFailures  *prometheus.CounterVec
	revertTotal         *prometheus.CounterVec
	rowsSkipped         prometheus.Counter

	metricsComputeLatency *prometheus.HistogramVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec

	tenantBalance *prometheus.GaugeVec
)

// Init registers ledger metrics. A non-nil db also registers row-count
// gauges backed by the Postgres ledger table.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ledgerAppendTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_append_total",
				Help: "Total ledger append operations by result",
			},
			[]string{"result"},
		)
		ledgerAppendLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ledger_append_latency_seconds",
				Help:    "Ledger append latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		validationFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "validation_failures_total",
				Help: "Rejected reading batches by reason",
			},
			[]string{"reason"},
		)
		revertTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "revert_total",
				Help: "Total revert operations by result",
			},
			[]string{"result"},
		)
		rowsSkipped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rows_skipped_total",
				Help: "Malformed ledger rows skipped while loading",
			},
		)

		metricsComputeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "metrics_compute_latency_seconds",
				Help:    "Usage metrics computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report export operations by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		tenantBalance = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tenant_balance",
				Help: "Current balance per tenant",
			},
			[]string{"book", "tenant"},
		)

		prometheus.MustRegister(
			ledgerAppendTotal,
			ledgerAppendLatency,
			validationFailures,
			revertTotal,
			rowsSkipped,
			metricsComputeLatency,
			reportExportTotal,
			reportExportLatency,
			tenantBalance,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveLedgerAppend records append duration and result.
func ObserveLedgerAppend(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ledgerAppendTotal != nil {
		ledgerAppendTotal.WithLabelValues(result).Inc()
	}
	if ledgerAppendLatency != nil {
		ledgerAppendLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncValidationFailure increments the rejected batch counter.
func IncValidationFailure(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if validationFailures != nil {
		validationFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveRevert counts a revert attempt.
func ObserveRevert(result string) {
	if result == "" {
		result = resultSuccess
	}
	if revertTotal != nil {
		revertTotal.WithLabelValues(result).Inc()
	}
}

// AddRowsSkipped increments the skipped row counter by count.
func AddRowsSkipped(count int) {
	if count <= 0 {
		return
	}
	if rowsSkipped != nil {
		rowsSkipped.Add(float64(count))
	}
}

// ObserveMetricsCompute records usage metrics latency and result.
func ObserveMetricsCompute(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if metricsComputeLatency != nil {
		metricsComputeLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// SetTenantBalance publishes the current balance of a tenant.
func SetTenantBalance(book, tenant string, balance float64) {
	if tenantBalance != nil {
		tenantBalance.WithLabelValues(book, tenant).Set(balance)
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
