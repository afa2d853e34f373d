// Package metrics holds the prometheus collectors shared by the host page
// cache and the change endpoints.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	PageRebuilds  *prometheus.CounterVec
	PageResponses *prometheus.CounterVec
	DeleteResults *prometheus.CounterVec
}

// New registers the collectors, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PageRebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewhost",
			Subsystem: "hostpage",
			Name:      "rebuilds_total",
			Help:      "Host page rebuilds by result.",
		}, []string{"result"}),
		PageResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewhost",
			Subsystem: "hostpage",
			Name:      "responses_total",
			Help:      "Host page responses by user variant and content encoding.",
		}, []string{"variant", "encoding"}),
		DeleteResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewhost",
			Subsystem: "change",
			Name:      "delete_total",
			Help:      "Delete change requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.PageRebuilds,
		m.PageResponses,
		m.DeleteResults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
