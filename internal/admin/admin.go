// Package admin provides a read-only endpoint for runtime inspection of the
// exporter: breaker state, cache age, drain progress, and the fetch failure
// counter. Protected by an IP allowlist and disabled by default.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/matillion-public/agent-metrics-exporter/internal/drain"
	"github.com/matillion-public/agent-metrics-exporter/internal/fetcher"
	"github.com/matillion-public/agent-metrics-exporter/internal/telemetry"
)

// Handler serves the admin status endpoint.
type Handler struct {
	fetcher     *fetcher.Fetcher
	state       *drain.State
	counters    *telemetry.Counters
	endpoint    string
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates an admin Handler. Invalid allowlist entries are skipped with a
// warning; an empty allowlist rejects everything.
func New(f *fetcher.Fetcher, state *drain.State, counters *telemetry.Counters, endpoint string, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid admin allowlist CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		fetcher:     f,
		state:       state,
		counters:    counters,
		endpoint:    endpoint,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds the admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/status", h.status)
}

type statusResponse struct {
	UpstreamEndpoint  string  `json:"upstream_endpoint"`
	Draining          bool    `json:"draining"`
	ShutdownRequested bool    `json:"shutdown_requested"`
	BreakerState      string  `json:"breaker_state"`
	BreakerFailures   int     `json:"breaker_failures"`
	FetchFailures     int64   `json:"fetch_failures"`
	CachePresent      bool    `json:"cache_present"`
	CacheAgeSeconds   float64 `json:"cache_age_seconds,omitempty"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if !h.allowed(r) {
		h.logger.Warn("admin request rejected", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	resp := statusResponse{
		UpstreamEndpoint:  h.endpoint,
		Draining:          h.state.Draining(),
		ShutdownRequested: h.state.ShutdownRequested(),
		BreakerState:      h.fetcher.Breaker().State().String(),
		BreakerFailures:   h.fetcher.Breaker().ConsecutiveFailures(),
		FetchFailures:     h.counters.Get(telemetry.FetchKey),
	}
	if age, ok := h.fetcher.Cache().Age(); ok {
		resp.CachePresent = true
		resp.CacheAgeSeconds = age.Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// allowed reports whether the request's source IP is inside the allowlist.
func (h *Handler) allowed(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
