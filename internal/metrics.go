package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Connections     prometheus.Gauge
	Pushes          *prometheus.CounterVec
	Downloads       prometheus.Counter
	Redeliveries    *prometheus.CounterVec
	Acknowledgments prometheus.Counter
	Backpressure    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notify_connections",
			Help: "Current websocket connections on this instance.",
		}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_pushes_total",
			Help: "Acknowledged pushes by result (delivered, stored, failed).",
		}, []string{"result"}),
		Downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_downloads_total",
			Help: "Fire-and-forget download notices sent.",
		}),
		Redeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_redeliveries_total",
			Help: "Buffered messages sent again, by trigger (connect, poll).",
		}, []string{"trigger"}),
		Acknowledgments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_acknowledgments_total",
			Help: "notification_received events handled.",
		}),
		Backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notify_backpressure_total",
			Help: "Frames dropped because a connection queue was full.",
		}),
	}

	reg.MustRegister(
		m.Connections,
		m.Pushes,
		m.Downloads,
		m.Redeliveries,
		m.Acknowledgments,
		m.Backpressure,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}
