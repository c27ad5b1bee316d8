package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ResultOK labels successful operations.
const ResultOK = "ok"

// Metrics holds the Prometheus collectors for event capture.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registrations   *prometheus.CounterVec
	Unregistrations *prometheus.CounterVec
	Invocations     prometheus.Counter
	Dropped         prometheus.Counter
	Active          prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Register calls by result",
		}, []string{"result"}),
		Unregistrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unregistrations_total",
			Help:      "Unregister calls by result",
		}, []string{"result"}),
		Invocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Event firings captured into a log",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_invocations_total",
			Help:      "Captures discarded because their event id was not registered",
		}),
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_registrations",
			Help:      "Registrations currently attached to a target",
		}),
	}
}

// ObserveRegistration counts a Register call and tracks the active gauge.
func (m *Metrics) ObserveRegistration(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.Active.Inc()
	}
}

// ObserveUnregistration counts an Unregister call and tracks the active gauge.
func (m *Metrics) ObserveUnregistration(result string) {
	if m == nil {
		return
	}
	m.Unregistrations.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.Active.Dec()
	}
}

// IncInvocations increments the captured invocations counter by 1
func (m *Metrics) IncInvocations() {
	if m == nil {
		return
	}
	m.Invocations.Inc()
}

// IncDropped increments the dropped invocations counter by 1
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}
