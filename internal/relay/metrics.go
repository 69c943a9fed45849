package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	Clients  prometheus.Gauge
	Rooms    prometheus.Gauge
	Routed   *prometheus.CounterVec
	Failures *prometheus.CounterVec
}

// NewMetrics registers the relay collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Clients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshroom",
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Connected signaling clients.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshroom",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Routed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshroom",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages handled, by type.",
		}, []string{"type"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshroom",
			Subsystem: "relay",
			Name:      "failures_total",
			Help:      "Messages rejected or dropped, by reason.",
		}, []string{"reason"}),
	}
}
