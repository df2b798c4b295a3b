// Package drain coordinates graceful shutdown with the upstream agent. On a
// termination signal the exporter enters a draining mode but keeps serving
// scrapes until the agent itself stops answering (or a grace ceiling
// elapses), so autoscaling signals outlive the SIGTERM.
package drain

import (
	"sync"
	"sync/atomic"
)

// State holds the process-wide drain flags. The Coordinator is the single
// writer; the fetch loop and the health endpoint are readers.
type State struct {
	draining atomic.Bool

	once sync.Once
	done chan struct{}
}

// NewState returns a State in the running (not draining) phase.
func NewState() *State {
	return &State{done: make(chan struct{})}
}

// BeginDrain flips the process into draining mode. Flips at most once per
// process; repeat calls are no-ops.
func (s *State) BeginDrain() {
	s.draining.Store(true)
}

// Draining reports whether a termination signal has been received.
func (s *State) Draining() bool {
	return s.draining.Load()
}

// RequestShutdown latches the shutdown signal. The latch never clears.
func (s *State) RequestShutdown() {
	s.once.Do(func() { close(s.done) })
}

// ShutdownRequested reports whether the shutdown latch has fired.
func (s *State) ShutdownRequested() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when shutdown is requested. Blocking waits
// in the fetch loop select on it so they abort promptly.
func (s *State) Done() <-chan struct{} {
	return s.done
}
