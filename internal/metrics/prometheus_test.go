package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation("incr", 2*time.Millisecond, "")
	m.RecordOperation("incr", time.Millisecond, "store_unavailable")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("incr", "await")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("incr", "store_unavailable")))
}

func TestMetrics_DispatchInFlight(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDispatch("incr", "accepted")
	m.RecordDispatch("incr", "accepted")
	m.RecordDispatch("incr", "ok")
	m.RecordDispatch("incr", "rejected")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("incr", "rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("incr", "fire_and_forget")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("get", time.Millisecond, "")
		m.RecordDispatch("incr", "accepted")
		m.RecordScanPage("scan", 3)
		m.RecordDeleted(2)
		m.RecordOnline(5)
	})
}

func TestMetrics_ScanAndFleet(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordScanPage("scan", 3)
	m.RecordScanPage("scan", 0)
	m.RecordDeleted(4)
	m.RecordOnline(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScanPages.WithLabelValues("scan")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ScanKeys.WithLabelValues("scan")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.KeysDeleted))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.OnlineInstances))
}
