package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "warehouse"

// Metrics holds the collectors the services report to. Pass a fresh
// registry in tests so collectors do not clash across instances.
type Metrics struct {
	ReceiptsSubmitted   *prometheus.CounterVec
	ReceiptDuration     prometheus.Histogram
	TransactionAttempts *prometheus.CounterVec
	StockAdjustments    *prometheus.CounterVec
	AuditFailures       *prometheus.CounterVec
	AuditQueueDepth     prometheus.Gauge
	HTTPRequests        *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReceiptsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_submitted_total",
			Help:      "Receipt submissions by outcome.",
		}, []string{"outcome"}),
		ReceiptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "receipt_submit_duration_seconds",
			Help:      "Time to submit a receipt, including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		TransactionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_attempts_total",
			Help:      "Store transaction attempts by operation and result.",
		}, []string{"operation", "result"}),
		StockAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_adjustments_total",
			Help:      "Manual stock adjustments by direction.",
		}, []string{"direction"}),
		AuditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit entries that could not be written.",
		}, []string{"reason"}),
		AuditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Audit entries waiting to be written.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ReceiptsSubmitted,
			m.ReceiptDuration,
			m.TransactionAttempts,
			m.StockAdjustments,
			m.AuditFailures,
			m.AuditQueueDepth,
			m.HTTPRequests,
		)
	}
	return m
}

// NewNop returns unregistered collectors.
func NewNop() *Metrics {
	return New(nil)
}
