package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the review service.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	activeSessions      prometheus.Gauge
	searchesTotal       prometheus.Counter
	searchFailuresTotal *prometheus.CounterVec
	resyncsTotal        prometheus.Counter
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "review_active_sessions",
		Help: "Number of open montage sessions",
	})
	searchesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_montage_searches_total",
		Help: "Total number of montage searches that loaded results",
	})
	searchFailuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_montage_search_failures_total",
		Help: "Total number of montage searches that failed, by kind (api or network)",
	}, []string{"kind"})
	resyncsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_montage_resyncs_total",
		Help: "Total number of hard seeks issued to correct feed drift",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		activeSessions,
		searchesTotal,
		searchFailuresTotal,
		resyncsTotal,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		activeSessions:      activeSessions,
		searchesTotal:       searchesTotal,
		searchFailuresTotal: searchFailuresTotal,
		resyncsTotal:        resyncsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetActiveSessions sets the open sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncSearches increments the successful search counter.
func (m *Metrics) IncSearches() {
	m.searchesTotal.Inc()
}

// IncSearchFailures increments the failed search counter for kind.
func (m *Metrics) IncSearchFailures(kind string) {
	m.searchFailuresTotal.WithLabelValues(kind).Inc()
}

// IncResyncs increments the resync counter.
func (m *Metrics) IncResyncs() {
	m.resyncsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
