package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Clients prometheus.Gauge
	Rooms   prometheus.Gauge
	Relayed *prometheus.CounterVec
	Dropped prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Clients: f.NewGauge(prometheus.GaugeOpts{
			Name: "confab_relay_clients",
			Help: "Number of currently connected clients.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "confab_relay_rooms",
			Help: "Number of rooms with at least one member.",
		}),
		Relayed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confab_relay_messages_total",
			Help: "Messages forwarded between peers by type.",
		}, []string{"type"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "confab_relay_dropped_messages_total",
			Help: "Messages dropped due to decode errors or missing targets.",
		}),
	}
}
