package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationErrors   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Fire-and-forget metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchInFlight prometheus.Gauge

	// Scan metrics
	ScanPages   *prometheus.CounterVec
	ScanKeys    *prometheus.CounterVec
	KeysDeleted prometheus.Counter

	// Fleet metrics
	OnlineInstances prometheus.Gauge
}

// NewMetrics creates Prometheus metrics registered on reg.
// A nil reg registers on the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statmanager_operations_total",
				Help: "Total number of counter operations processed",
			},
			[]string{"operation", "mode"},
		),

		OperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statmanager_operation_errors_total",
				Help: "Total number of failed counter operations",
			},
			[]string{"operation", "error_type"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statmanager_operation_duration_seconds",
				Help:    "Duration of counter operations against the store",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statmanager_dispatch_total",
				Help: "Fire-and-forget commands by outcome",
			},
			[]string{"operation", "outcome"},
		),

		DispatchInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "statmanager_dispatch_in_flight",
				Help: "Fire-and-forget commands accepted but not yet settled",
			},
		),

		ScanPages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statmanager_scan_pages_total",
				Help: "Total number of SCAN round trips",
			},
			[]string{"operation"},
		),

		ScanKeys: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statmanager_scan_keys_total",
				Help: "Total number of keys returned by SCAN",
			},
			[]string{"operation"},
		),

		KeysDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "statmanager_keys_deleted_total",
				Help: "Total number of keys removed by pattern deletes",
			},
		),

		OnlineInstances: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "statmanager_online_instances",
				Help: "Last observed fleet online count",
			},
		),
	}
}

// RecordOperation records an awaited operation's outcome and latency
func (m *Metrics) RecordOperation(operation string, duration time.Duration, errorType string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, "await").Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if errorType != "" {
		m.OperationErrors.WithLabelValues(operation, errorType).Inc()
	}
}

// RecordDispatch records a fire-and-forget outcome: accepted, ok, failed or rejected
func (m *Metrics) RecordDispatch(operation, outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(operation, outcome).Inc()
	switch outcome {
	case "accepted":
		m.OperationsTotal.WithLabelValues(operation, "fire_and_forget").Inc()
		m.DispatchInFlight.Inc()
	case "ok", "failed":
		m.DispatchInFlight.Dec()
	}
}

// RecordScanPage records one SCAN round trip
func (m *Metrics) RecordScanPage(operation string, keys int) {
	if m == nil {
		return
	}
	m.ScanPages.WithLabelValues(operation).Inc()
	m.ScanKeys.WithLabelValues(operation).Add(float64(keys))
}

// RecordDeleted records keys removed by a pattern delete
func (m *Metrics) RecordDeleted(n int64) {
	if m == nil {
		return
	}
	m.KeysDeleted.Add(float64(n))
}

// RecordOnline records the latest fleet census
func (m *Metrics) RecordOnline(n int64) {
	if m == nil {
		return
	}
	m.OnlineInstances.Set(float64(n))
}
