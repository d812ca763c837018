package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the DASH resolver.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	manifestsResolvedTotal prometheus.Counter
	manifestUpdatesTotal   prometheus.Counter
	liveManifests          prometheus.Gauge
	errorsTotal            prometheus.Counter
}

// New creates and registers Prometheus metrics for the resolver.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_requests_total",
		Help: "Total number of HTTP requests received",
	})
	manifestsResolvedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_manifests_resolved_total",
		Help: "Total number of MPD documents successfully resolved",
	})
	manifestUpdatesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_manifest_updates_total",
		Help: "Total number of live manifest updates applied",
	})
	liveManifests := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dash_live_manifests",
		Help: "Number of stored manifests with a dynamic presentation",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dash_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		manifestsResolvedTotal,
		manifestUpdatesTotal,
		liveManifests,
		errorsTotal,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		manifestsResolvedTotal: manifestsResolvedTotal,
		manifestUpdatesTotal:   manifestUpdatesTotal,
		liveManifests:          liveManifests,
		errorsTotal:            errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncManifestsResolved increments the manifests resolved counter.
func (m *Metrics) IncManifestsResolved() {
	m.manifestsResolvedTotal.Inc()
}

// IncManifestUpdates increments the manifest updates counter.
func (m *Metrics) IncManifestUpdates() {
	m.manifestUpdatesTotal.Inc()
}

// SetLiveManifests sets the live manifests gauge.
func (m *Metrics) SetLiveManifests(n int) {
	m.liveManifests.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. live manifests).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
