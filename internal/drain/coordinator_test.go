package drain

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matillion-public/agent-metrics-exporter/internal/agent"
)

func newTestCoordinator(state *State, url string, grace, interval time.Duration) *Coordinator {
	client := agent.New(url, time.Second, slog.Default())
	return NewCoordinator(state, client, grace, interval, time.Second, slog.Default())
}

func TestState_DrainFlags(t *testing.T) {
	s := NewState()

	if s.Draining() {
		t.Fatal("fresh state must not be draining")
	}
	if s.ShutdownRequested() {
		t.Fatal("fresh state must not have shutdown latched")
	}

	s.BeginDrain()
	if !s.Draining() {
		t.Fatal("expected draining after BeginDrain")
	}

	s.RequestShutdown()
	s.RequestShutdown() // latch is idempotent
	if !s.ShutdownRequested() {
		t.Fatal("expected shutdown latched")
	}

	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel must be closed after RequestShutdown")
	}
}

func TestDrain_ExitsWhenUpstreamStopsAnswering(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) >= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	state := NewState()
	c := newTestCoordinator(state, srv.URL, time.Hour, 10*time.Millisecond)

	start := time.Now()
	c.Drain(context.Background())
	elapsed := time.Since(start)

	if !state.ShutdownRequested() {
		t.Fatal("expected shutdown latched after drain")
	}
	if !state.Draining() {
		t.Fatal("expected draining flag set")
	}
	// Exited on the second poll, nowhere near the hour-long grace period.
	if elapsed > 2*time.Second {
		t.Fatalf("drain took %v, expected prompt exit after upstream went away", elapsed)
	}
	if got := polls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 polls, got %d", got)
	}
}

func TestDrain_ExitsOnConnectionRefused(t *testing.T) {
	state := NewState()
	c := newTestCoordinator(state, "http://127.0.0.1:1", time.Hour, 10*time.Millisecond)

	start := time.Now()
	c.Drain(context.Background())

	if !state.ShutdownRequested() {
		t.Fatal("expected shutdown latched")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("drain took %v, expected prompt exit on unreachable upstream", elapsed)
	}
}

func TestDrain_GracePeriodCeiling(t *testing.T) {
	// Upstream keeps answering 200; the grace period must end the drain.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	state := NewState()
	c := newTestCoordinator(state, srv.URL, 100*time.Millisecond, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Drain(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("drain did not respect the grace period ceiling")
	}
	if !state.ShutdownRequested() {
		t.Fatal("expected shutdown latched after grace period")
	}
}

func TestDrain_HealthyUpstreamKeepsPolling(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	state := NewState()
	c := newTestCoordinator(state, srv.URL, 120*time.Millisecond, 20*time.Millisecond)
	c.Drain(context.Background())

	// With a 20ms interval inside a 120ms grace window the coordinator
	// should have probed several times without latching early.
	if got := polls.Load(); got < 3 {
		t.Fatalf("expected repeated polls against a healthy upstream, got %d", got)
	}
}
