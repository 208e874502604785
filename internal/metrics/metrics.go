package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dense-identity/softphone/internal/phone"
)

var durBuckets = []float64{1, 10, 30, 60, 5 * 60, 10 * 60, 30 * 60, 3600}

// Call outcomes.
const (
	OutcomeAnswered   = "answered"
	OutcomeMissed     = "missed"
	OutcomeUnanswered = "unanswered"
	OutcomeFailed     = "failed"
)

// Monitor owns the softphone collectors. A nil *Monitor is valid and
// records nothing.
type Monitor struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	calls        *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	activeCalls  prometheus.Gauge
	regStatus    *prometheus.GaugeVec
	sessions     *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
}

func mustRegister[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			return e.ExistingCollector.(T)
		}
		panic(err)
	}
	return c
}

// New registers the collectors on a fresh registry that also carries the
// Go and process collectors.
func New() *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers on reg and serves from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Monitor {
	m := &Monitor{reg: reg, gatherer: g}

	m.calls = mustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "softphone",
		Name:      "calls_total",
		Help:      "Calls by direction and outcome",
	}, []string{"direction", "outcome"}))

	m.rejections = mustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "softphone",
		Name:      "call_rejections_total",
		Help:      "Call attempts refused by admission control",
	}, []string{"reason"}))

	m.activeCalls = mustRegister(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "softphone",
		Name:      "active_calls",
		Help:      "Calls currently in the identity map",
	}))

	m.regStatus = mustRegister(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "softphone",
		Name:      "registration_status",
		Help:      "1 for the current connection status, 0 otherwise",
	}, []string{"status"}))

	m.sessions = mustRegister(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "softphone",
		Name:      "session_starts_total",
		Help:      "Session bring-up attempts by result",
	}, []string{"result"}))

	m.callDuration = mustRegister(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "softphone",
		Name:      "call_duration_seconds",
		Help:      "Duration of answered calls",
		Buckets:   durBuckets,
	}, []string{"direction"}))

	m.SetStatus(phone.StatusDisconnected)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// CallEnded records a finished call.
func (m *Monitor) CallEnded(dir phone.Direction, outcome string, answeredFor time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(string(dir), outcome).Inc()
	if outcome == OutcomeAnswered {
		m.callDuration.WithLabelValues(string(dir)).Observe(answeredFor.Seconds())
	}
}

// Rejected records an admission control refusal.
func (m *Monitor) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// SetActiveCalls mirrors the identity map size.
func (m *Monitor) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.activeCalls.Set(float64(n))
}

// SetStatus sets the one-hot registration gauge.
func (m *Monitor) SetStatus(s phone.ConnectionStatus) {
	if m == nil {
		return
	}
	for st := phone.StatusDisconnected; st <= phone.StatusError; st++ {
		v := 0.0
		if st == s {
			v = 1
		}
		m.regStatus.WithLabelValues(st.String()).Set(v)
	}
}

// SessionStart records a bring-up attempt result: ok, error or superseded.
func (m *Monitor) SessionStart(result string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(result).Inc()
}
