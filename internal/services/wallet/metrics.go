package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordOperation(string, string)                {}
func (NoopMetricsCollector) RecordOperationDuration(string, time.Duration) {}
func (NoopMetricsCollector) RecordTransaction(string, decimal.Decimal)     {}
func (NoopMetricsCollector) RecordError(string, string)                    {}

// PrometheusCollector exports wallet operation metrics.
type PrometheusCollector struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	volume     *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_operations_total",
			Help: "Wallet operations by name and result.",
		}, []string{"operation", "result"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_operation_duration_seconds",
			Help:    "Wallet operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		volume: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transaction_volume",
			Help: "Total moved amount by category.",
		}, []string{"category"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_errors_total",
			Help: "Wallet operation errors by code.",
		}, []string{"operation", "code"}),
	}
}

func (c *PrometheusCollector) RecordOperation(operation, result string) {
	c.operations.WithLabelValues(operation, result).Inc()
}

func (c *PrometheusCollector) RecordOperationDuration(operation string, d time.Duration) {
	c.durations.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *PrometheusCollector) RecordTransaction(category string, amount decimal.Decimal) {
	f, _ := amount.Abs().Float64()
	c.volume.WithLabelValues(category).Add(f)
}

func (c *PrometheusCollector) RecordError(operation, code string) {
	c.errors.WithLabelValues(operation, code).Inc()
}
