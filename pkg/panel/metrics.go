package panel

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Actions and outcomes as labelled on the requests counter
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"

	OutcomeOK        = "ok"
	OutcomeInvalid   = "invalid"
	OutcomeTransport = "transport_error"
	OutcomeService   = "service_error"
)

// Metrics are the controller's Prometheus collectors
type Metrics struct {
	Requests *prometheus.CounterVec
	InFlight prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg, if given
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iperfpanel",
			Name:      "requests_total",
			Help:      "Start, stop and restart actions by outcome.",
		}, []string{"action", "outcome"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "iperfpanel",
			Name:      "requests_in_flight",
			Help:      "Start and stop requests waiting for the service.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.InFlight)
	}
	return m
}

func (m *Metrics) observe(action, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) inFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}
