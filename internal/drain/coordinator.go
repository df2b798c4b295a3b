package drain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/matillion-public/agent-metrics-exporter/internal/agent"
	"github.com/matillion-public/agent-metrics-exporter/internal/telemetry"
)

// Default drain settings.
const (
	DefaultGracePeriod  = 12 * time.Hour
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 5 * time.Second
)

// Pinger probes the upstream for liveness. Satisfied by *agent.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Coordinator drives the Running → Draining → Terminating sequence. It polls
// the upstream directly (no cache, no breaker) and declares the drain over as
// soon as the upstream answers non-200 or becomes unreachable.
type Coordinator struct {
	state        *State
	pinger       Pinger
	gracePeriod  time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *slog.Logger
}

// NewCoordinator creates a Coordinator. Non-positive durations fall back to
// the package defaults.
func NewCoordinator(state *State, pinger Pinger, gracePeriod, pollInterval, pollTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &Coordinator{
		state:        state,
		pinger:       pinger,
		gracePeriod:  gracePeriod,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logger:       logger,
	}
}

// Drain runs the drain protocol to completion: it marks the process as
// draining, polls the upstream once per interval until the upstream stops
// answering 200 or the grace period elapses, then latches the shutdown
// signal. It blocks the caller for the duration; run it from the goroutine
// that handles the termination signal, not from a request handler.
func (c *Coordinator) Drain(ctx context.Context) {
	c.state.BeginDrain()
	telemetry.Draining.Set(1)
	c.logger.Info("termination signal received, waiting for agent drain",
		"grace_period", c.gracePeriod,
		"poll_interval", c.pollInterval,
	)

	graceCtx, cancel := context.WithTimeout(ctx, c.gracePeriod)
	defer cancel()

	// Burst of 1: the first probe fires immediately, then one per interval.
	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)

	for {
		if err := limiter.Wait(graceCtx); err != nil {
			c.logger.Info("grace period elapsed, agent drain window over")
			break
		}

		pollCtx, pollCancel := context.WithTimeout(ctx, c.pollTimeout)
		err := c.pinger.Ping(pollCtx)
		pollCancel()
		telemetry.DrainPollsTotal.Inc()

		if err == nil {
			c.logger.Debug("agent still active, continuing to serve metrics")
			continue
		}
		if errors.Is(err, agent.ErrBadStatus) {
			c.logger.Info("agent stopped responding, initiating shutdown", "error", err)
		} else {
			c.logger.Info("agent no longer accessible, initiating shutdown", "error", err)
		}
		break
	}

	c.logger.Info("agent drain complete, shutting down metrics exporter")
	c.state.RequestShutdown()
}
