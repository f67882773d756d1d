package events

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts events by type and the state they ended in.
type Metrics struct {
	Events *prometheus.CounterVec
}

// NewMetrics creates the event counters and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_events_total",
			Help: "Events handled by the coordinator, by final state.",
		}, []string{"type", "state"}),
	}
	if reg != nil {
		reg.MustRegister(m.Events)
	}
	return m
}

func (m *Metrics) observe(t Type, s State) {
	m.Events.WithLabelValues(string(t), string(s)).Inc()
}
