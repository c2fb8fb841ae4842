// Package metric holds the Prometheus instrumentation for the pipeline.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the pipeline-level counters. Alerting and the event bus
// share one instance so a single /metrics endpoint covers both processes.
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	HandlerFailures *prometheus.CounterVec
	AlertsSent      prometheus.Counter
	AlertsFailed    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "greenservers",
				Subsystem: "bus",
				Name:      "events_published_total",
				Help:      "Events accepted by the bus after schema validation",
			},
			[]string{"topic"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "greenservers",
				Subsystem: "bus",
				Name:      "events_dropped_total",
				Help:      "Events dropped by the bus (schema mismatch, decode failure)",
			},
			[]string{"topic", "reason"},
		),
		HandlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "greenservers",
				Subsystem: "bus",
				Name:      "handler_failures_total",
				Help:      "Handler invocations that panicked or errored",
			},
			[]string{"topic", "handler"},
		),
		AlertsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "greenservers",
				Subsystem: "alert",
				Name:      "emails_sent_total",
				Help:      "Alert emails handed to the mail transport",
			},
		),
		AlertsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "greenservers",
				Subsystem: "alert",
				Name:      "emails_failed_total",
				Help:      "Alert emails the mail transport rejected (swallowed)",
			},
		),
	}
}

// Register registers all counters with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.EventsPublished,
		m.EventsDropped,
		m.HandlerFailures,
		m.AlertsSent,
		m.AlertsFailed,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewHandler builds a /metrics handler with the pipeline counters and the
// standard process/go collectors registered.
func NewHandler(m *Metrics) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
