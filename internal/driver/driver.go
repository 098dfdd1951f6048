// Package driver runs the child process behind a dashboard.
//
// A driver owns exactly one child. Output is captured line by line in a
// logbuf.Ring so callers can scrape it while the child is starting and
// tail it afterwards.
package driver

import (
	"context"
	"time"

	"github.com/orangebricks/autodash/internal/logbuf"
)

// State represents the lifecycle state of a managed process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFailed   State = "failed"
)

// DefaultBufSize is the number of output lines kept when a config leaves
// BufSize at zero.
const DefaultBufSize = 1000

// ProcessInfo holds runtime information about a managed process.
type ProcessInfo struct {
	PID       int
	State     State
	StartedAt time.Time
	ExitCode  int
	Error     string
}

// Driver is the interface for process lifecycle management.
// Native and container drivers both implement this.
type Driver interface {
	// Start launches the process and returns once it has been spawned.
	// The child is not tied to ctx; it keeps running after ctx ends.
	Start(ctx context.Context) error

	// Terminate sends a graceful shutdown signal and returns without
	// waiting for the child to exit.
	Terminate() error

	// Stop sends a graceful shutdown signal, waits up to timeout,
	// then force-kills if still running.
	Stop(ctx context.Context, timeout time.Duration) error

	// Alive reports whether the child has been started and has not exited.
	// It never blocks.
	Alive() bool

	// Info returns current process state and metadata.
	Info() ProcessInfo

	// Wait blocks until the process exits and returns the exit code.
	Wait() (int, error)

	// Output returns the ring holding the child's combined stdout/stderr.
	// The ring is closed once the child's output stream ends.
	Output() *logbuf.Ring
}

func newRing(size int) *logbuf.Ring {
	if size <= 0 {
		size = DefaultBufSize
	}
	return logbuf.New(size)
}

// running reports whether a child whose exit closes done is still up. A nil
// done means the child was never started.
func running(done <-chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
