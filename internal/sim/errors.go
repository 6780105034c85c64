package sim

import (
	"errors"
	"fmt"

	"slicesim/internal/telemetry"
)

var (
	// ErrNotFound is returned for simulation ids the orchestrator does not know.
	ErrNotFound = errors.New("simulation not found")
	// ErrInvalidTransition is wrapped by StateError.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrShuttingDown rejects new work once Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator shutting down")

	errNotRunning = errors.New("run no longer running")
)

// StateError reports an operation that is not allowed in the run's status.
type StateError struct {
	ID     string
	Op     string
	Status telemetry.Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s simulation %s: status is %s", e.Op, e.ID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidTransition }
