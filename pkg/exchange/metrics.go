package exchange

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	CallsTotal    *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	EventsTotal   *prometheus.CounterVec
	Compensations *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_calls_total",
				Help: "Total exchange calls processed.",
			},
			[]string{"op", "status"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exchange_call_duration_seconds",
				Help:    "Exchange call duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_events_total",
				Help: "Total events appended to the event log.",
			},
			[]string{"event"},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exchange_compensations_total",
				Help: "Total refunds and reverts after a failed commit or transfer.",
			},
			[]string{"op"},
		),
	}

	registry.MustRegister(
		m.CallsTotal,
		m.CallDuration,
		m.EventsTotal,
		m.Compensations,
	)
	return m
}

func (m *Metrics) observeCall(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(op, status).Inc()
	m.CallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) incEvent(name string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) incCompensation(op string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(op).Inc()
}
