// Package telemetry provides Prometheus instrumentation for the exporter's
// own operation. These collectors describe the sidecar itself (fetch
// attempts, breaker state, drain progress); the bridged agent metrics are
// rendered separately by the exposition package and never pass through this
// registry.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScrapesTotal counts /metrics requests by outcome ("ok", "fallback").
	ScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_scrapes_total",
			Help: "Total /metrics scrapes served, by outcome",
		},
		[]string{"outcome"},
	)

	// FetchAttemptsTotal counts individual upstream fetch attempts.
	FetchAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exporter_fetch_attempts_total",
			Help: "Total upstream fetch attempts",
		},
	)

	// FetchFailuresTotal counts failed fetch attempts by error kind.
	FetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exporter_fetch_failures_total",
			Help: "Total failed upstream fetch attempts, by error kind",
		},
		[]string{"kind"},
	)

	// StaleServesTotal counts scrapes answered from the stale cache after
	// all retries were exhausted.
	StaleServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exporter_stale_serves_total",
			Help: "Total scrapes served from stale cache after retry exhaustion",
		},
	)

	// CircuitBreakerState reports the breaker state as a number
	// (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exporter_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// Draining reports whether the exporter has entered its drain phase.
	Draining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exporter_draining",
			Help: "1 while the exporter is draining after a termination signal",
		},
	)

	// DrainPollsTotal counts upstream liveness probes made while draining.
	DrainPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exporter_drain_polls_total",
			Help: "Total upstream liveness probes during drain",
		},
	)
)

// Init registers all collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		ScrapesTotal,
		FetchAttemptsTotal,
		FetchFailuresTotal,
		StaleServesTotal,
		CircuitBreakerState,
		Draining,
		DrainPollsTotal,
	)
}

// Handler returns an http.Handler serving the exporter's own telemetry.
func Handler() http.Handler {
	return promhttp.Handler()
}
