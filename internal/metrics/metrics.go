// Package metrics holds the Prometheus collectors for the lead pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leads"

// Metrics is the set of collectors recorded by the service and the CRM transport.
type Metrics struct {
	Submissions  *prometheus.CounterVec
	CRMRequests  *prometheus.CounterVec
	CRMLatency   *prometheus.HistogramVec
	FormsTracked prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Lead submissions by outcome and upstream action.",
		}, []string{"outcome", "action"}),
		CRMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_requests_total",
			Help:      "Requests sent to the CRM by method and status code.",
		}, []string{"method", "code"}),
		CRMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crm_request_duration_seconds",
			Help:      "CRM request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		FormsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forms_tracked",
			Help:      "Form instances currently held by the result reporter.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Submissions, m.CRMRequests, m.CRMLatency, m.FormsTracked,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSubmission counts one finished submission.
func (m *Metrics) ObserveSubmission(outcome, action string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome, action).Inc()
}

// InstrumentTransport wraps next so every CRM request is counted and timed.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if m == nil {
		return next
	}
	return promhttp.InstrumentRoundTripperCounter(m.CRMRequests,
		promhttp.InstrumentRoundTripperDuration(m.CRMLatency, next))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
