// Package fetcher implements the upstream fetch loop: TTL-cached reads,
// circuit-breaker-guarded network calls, a retry budget that shrinks while
// the process drains, and a stale-cache fallback under sustained failure.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/matillion-public/agent-metrics-exporter/internal/agent"
	"github.com/matillion-public/agent-metrics-exporter/internal/circuitbreaker"
	"github.com/matillion-public/agent-metrics-exporter/internal/drain"
	"github.com/matillion-public/agent-metrics-exporter/internal/telemetry"
)

// ErrShuttingDown is returned when the shutdown latch fires before or during
// a fetch; the caller should stop asking.
var ErrShuttingDown = errors.New("shutdown in progress, aborting metrics fetch")

// staleFallbackThreshold is the consecutive-failure count at which an
// expired cache entry is served rather than an error. Keeps the
// horizontal-scaling signals alive through upstream outages.
const staleFallbackThreshold = 3

// Default retry settings, overridable via configuration.
const (
	DefaultMaxAttempts      = 30
	DefaultRetryDelay       = 5 * time.Second
	DefaultDrainMaxAttempts = 3
	DefaultDrainRetryDelay  = time.Second
	DefaultCacheTTL         = 30 * time.Second
)

// Settings is the retry budget and cache freshness window. The drain budget
// is deliberately small: a draining process should exit promptly instead of
// hammering a dying upstream.
type Settings struct {
	MaxAttempts      int
	RetryDelay       time.Duration
	DrainMaxAttempts int
	DrainRetryDelay  time.Duration
	CacheTTL         time.Duration
}

// DefaultSettings returns the stock retry budget.
func DefaultSettings() Settings {
	return Settings{
		MaxAttempts:      DefaultMaxAttempts,
		RetryDelay:       DefaultRetryDelay,
		DrainMaxAttempts: DefaultDrainMaxAttempts,
		DrainRetryDelay:  DefaultDrainRetryDelay,
		CacheTTL:         DefaultCacheTTL,
	}
}

// InfoClient fetches the upstream info document. Satisfied by *agent.Client.
type InfoClient interface {
	FetchInfo(ctx context.Context) (*agent.Info, error)
}

// Fetcher serves the most recent valid info document, fetching through the
// circuit breaker only when the cache has gone stale.
type Fetcher struct {
	client   InfoClient
	breaker  *circuitbreaker.Breaker
	cache    *Cache
	counters *telemetry.Counters
	state    *drain.State
	settings func() Settings
	logger   *slog.Logger
}

// New creates a Fetcher. settings is consulted on every fetch so hot-reloaded
// budgets take effect without restarts; pass a function returning
// DefaultSettings() when reload is not wired.
func New(client InfoClient, breaker *circuitbreaker.Breaker, cache *Cache, counters *telemetry.Counters, state *drain.State, settings func() Settings, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:   client,
		breaker:  breaker,
		cache:    cache,
		counters: counters,
		state:    state,
		settings: settings,
		logger:   logger,
	}
}

// Cache returns the underlying cache, for runtime inspection.
func (f *Fetcher) Cache() *Cache {
	return f.cache
}

// Breaker returns the circuit breaker, for runtime inspection.
func (f *Fetcher) Breaker() *circuitbreaker.Breaker {
	return f.breaker
}

// Fetch returns the most recent valid info document. A cache entry younger
// than the TTL is returned without touching the network. Otherwise the
// upstream is called through the circuit breaker up to the budgeted number
// of attempts, after which a sufficiently failed fetcher falls back to the
// stale cache rather than erroring.
func (f *Fetcher) Fetch(ctx context.Context) (*agent.Info, error) {
	s := f.settings()

	if info, fetchedAt, ok := f.cache.Get(); ok && time.Since(fetchedAt) < s.CacheTTL {
		f.logger.Debug("returning cached metrics", "age", time.Since(fetchedAt))
		return info, nil
	}

	draining := f.state.Draining()
	maxAttempts, delay := s.MaxAttempts, s.RetryDelay
	if draining {
		maxAttempts, delay = s.DrainMaxAttempts, s.DrainRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if f.state.ShutdownRequested() {
			return nil, ErrShuttingDown
		}

		telemetry.FetchAttemptsTotal.Inc()
		var info *agent.Info
		err := f.breaker.Call(func() error {
			fetched, err := f.client.FetchInfo(ctx)
			if err != nil {
				return err
			}
			info = fetched
			return nil
		})
		telemetry.CircuitBreakerState.Set(float64(f.breaker.State()))

		if err == nil {
			f.cache.Set(info)
			f.counters.Reset(telemetry.FetchKey)
			return info, nil
		}

		lastErr = err
		f.counters.Inc(telemetry.FetchKey)
		telemetry.FetchFailuresTotal.WithLabelValues(errorKind(err)).Inc()

		if attempt < maxAttempts {
			if !draining {
				f.logger.Warn("metrics fetch attempt failed, retrying",
					"attempt", attempt,
					"max_attempts", maxAttempts,
					"retry_delay", delay,
					"error", err,
				)
			}
			select {
			case <-time.After(delay):
			case <-f.state.Done():
				return nil, ErrShuttingDown
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if draining {
		f.logger.Info("agent appears to be shutting down, metrics no longer available")
	} else {
		f.logger.Error("failed to fetch metrics, retries exhausted",
			"attempts", maxAttempts,
			"error", lastErr,
		)
	}

	if info, fetchedAt, ok := f.cache.Get(); ok && f.counters.Get(telemetry.FetchKey) >= staleFallbackThreshold {
		f.logger.Warn("returning stale cached metrics due to repeated fetch failures",
			"age", time.Since(fetchedAt),
		)
		telemetry.StaleServesTotal.Inc()
		return info, nil
	}

	return nil, lastErr
}

// errorKind maps a fetch error onto its telemetry label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, agent.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, agent.ErrBadStatus):
		return "bad_status"
	case errors.Is(err, agent.ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}
