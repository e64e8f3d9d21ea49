package reactor

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the reactor's optional prometheus instrumentation: counters
// and gauges labeled by listener name, registered once and shared by
// every Listener a Reactor creates.
type Metrics struct {
	accepted  *prometheus.CounterVec
	active    *prometheus.GaugeVec
	rejected  *prometheus.CounterVec
	handshake *prometheus.CounterVec
}

// NewMetrics constructs and registers the reactor's metric families on
// reg. Pass prometheus.DefaultRegisterer to expose them on the process
// default /metrics handler.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twisted",
			Subsystem: "reactor",
			Name:      "connections_accepted_total",
			Help:      "Total connections accepted per listener.",
		}, []string{"listener"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "twisted",
			Subsystem: "reactor",
			Name:      "connections_active",
			Help:      "Currently open connections per listener.",
		}, []string{"listener"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twisted",
			Subsystem: "reactor",
			Name:      "connections_rejected_total",
			Help:      "Connections rejected because MaxConnections was reached.",
		}, []string{"listener"}),
		handshake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twisted",
			Subsystem: "reactor",
			Name:      "handshake_failures_total",
			Help:      "Handshake failures per listener (TLS negotiation, etc).",
		}, []string{"listener"}),
	}

	for _, c := range []prometheus.Collector{m.accepted, m.active, m.rejected, m.handshake} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) onAccept(listener string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(listener).Inc()
	m.active.WithLabelValues(listener).Inc()
}

func (m *Metrics) onClose(listener string) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(listener).Dec()
}

func (m *Metrics) onRejected(listener string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(listener).Inc()
}

func (m *Metrics) onHandshakeFailure(listener string) {
	if m == nil {
		return
	}
	m.handshake.WithLabelValues(listener).Inc()
}
