package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/dense-identity/softphone/internal/phone"
)

func TestMonitorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.SetStatus(phone.StatusRegistered)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.regStatus.WithLabelValues("Registered")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.regStatus.WithLabelValues("Disconnected")))

	m.CallEnded(phone.DirectionOutgoing, OutcomeAnswered, 42*time.Second)
	m.CallEnded(phone.DirectionIncoming, OutcomeMissed, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("outgoing", OutcomeAnswered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("incoming", OutcomeMissed)))

	m.Rejected("busy")
	m.SetActiveCalls(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeCalls))

	// Registering twice reuses the existing collectors.
	again := NewWithRegistry(reg, reg)
	assert.Equal(t, 1.0, testutil.ToFloat64(again.activeCalls))
}

func TestNilMonitor(t *testing.T) {
	var m *Monitor
	m.SetStatus(phone.StatusError)
	m.CallEnded(phone.DirectionOutgoing, OutcomeFailed, 0)
	m.Rejected("busy")
	m.SetActiveCalls(0)
	m.SessionStart("ok")
	assert.NotNil(t, m.Handler())
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionStart("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `softphone_session_starts_total{result="ok"} 1`)
}
