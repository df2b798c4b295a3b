// Package server exposes the exporter's scrape-facing HTTP endpoints:
// /metrics, which always answers 200 with parseable exposition text, and
// /health, which deliberately surfaces degraded state so the orchestrator
// can restart an unhealthy sidecar.
package server

import (
	"log/slog"
	"net/http"

	"github.com/matillion-public/agent-metrics-exporter/internal/drain"
	"github.com/matillion-public/agent-metrics-exporter/internal/exposition"
	"github.com/matillion-public/agent-metrics-exporter/internal/fetcher"
	"github.com/matillion-public/agent-metrics-exporter/internal/telemetry"
)

// maxFetchFailures is the consecutive fetch failure count beyond which
// /health reports the exporter as unhealthy.
const maxFetchFailures = 10

// Pre-built health bodies; the endpoint must answer in sub-millisecond time
// regardless of upstream state.
var (
	bodyOK              = []byte("OK")
	bodyShuttingDown    = []byte("Shutting down")
	bodyTooManyFailures = []byte("Too many fetch failures")
)

// Handler serves the scrape and health endpoints.
type Handler struct {
	fetcher  *fetcher.Fetcher
	state    *drain.State
	counters *telemetry.Counters
	logger   *slog.Logger
}

// New creates a Handler over the shared fetcher, drain state, and failure
// counters.
func New(f *fetcher.Fetcher, state *drain.State, counters *telemetry.Counters, logger *slog.Logger) *Handler {
	return &Handler{fetcher: f, state: state, counters: counters, logger: logger}
}

// RegisterRoutes adds the scrape and health routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /metrics", h.metrics)
	mux.HandleFunc("GET /health", h.health)
}

// metrics always answers 200 text/plain. When the fetch pipeline fails in
// any way (open breaker, exhausted retries, shutdown abort) the minimal
// zeroed document is served instead, because autoscaling consumers need a
// parseable response on every scrape.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	info, err := h.fetcher.Fetch(r.Context())
	if err != nil {
		h.logger.Error("error fetching metrics, serving fallback document", "error", err)
		telemetry.ScrapesTotal.WithLabelValues("fallback").Inc()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(exposition.Fallback()))
		return
	}

	telemetry.ScrapesTotal.WithLabelValues("ok").Inc()
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(exposition.Render(info)))
}

// health reads only the drain latch and the failure counter; it never
// touches the fetcher. The shutdown check comes first so a draining
// exporter reports "Shutting down" even when fetches are also failing.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if h.state.ShutdownRequested() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write(bodyShuttingDown)
		return
	}
	if h.counters.Get(telemetry.FetchKey) > maxFetchFailures {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write(bodyTooManyFailures)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(bodyOK)
}
