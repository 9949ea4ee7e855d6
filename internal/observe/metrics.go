package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gamecat"

// Metrics counts what the sync loop and the mutator do. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	snapshots          prometheus.Counter
	documents          prometheus.Gauge
	subscriptionErrors prometheus.Counter
	decodeErrors       prometheus.Counter
	mutations          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalogue",
			Name:      "snapshots_applied_total",
			Help:      "Snapshots that replaced the in-memory list.",
		}),
		documents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalogue",
			Name:      "records",
			Help:      "Records in the current in-memory list.",
		}),
		subscriptionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalogue",
			Name:      "subscription_errors_total",
			Help:      "Watch establishment failures and error events.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalogue",
			Name:      "decode_errors_total",
			Help:      "Documents skipped because they could not be decoded.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutator",
			Name:      "requests_total",
			Help:      "Read status updates by outcome.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.snapshots, m.documents, m.subscriptionErrors, m.decodeErrors, m.mutations)
	}
	return m
}

// ObserveSnapshot records an applied snapshot of n records.
func (m *Metrics) ObserveSnapshot(n int) {
	if m == nil {
		return
	}
	m.snapshots.Inc()
	m.documents.Set(float64(n))
}

func (m *Metrics) ObserveSubscriptionError() {
	if m == nil {
		return
	}
	m.subscriptionErrors.Inc()
}

func (m *Metrics) ObserveDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// ObserveMutation records one finished update request.
func (m *Metrics) ObserveMutation(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mutations.WithLabelValues(result).Inc()
}

// Handler serves the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
