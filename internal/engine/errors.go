package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is returned by blocking calls once Shutdown has begun.
	ErrShutdown = errors.New("engine is shut down")

	// ErrWorkerNotFound indicates no worker is registered for a task queue.
	ErrWorkerNotFound = errors.New("no worker registered for task queue")

	// ErrWorkerExists indicates a worker is already registered for a task queue.
	ErrWorkerExists = errors.New("worker already registered for task queue")

	// ErrInvalidWorkerConfig indicates WorkerConfig failed validation.
	ErrInvalidWorkerConfig = errors.New("invalid worker config")

	// ErrNoOutstandingActivation indicates a completion for a run that has
	// no activation in flight.
	ErrNoOutstandingActivation = errors.New("no outstanding activation for run")

	// ErrUnknownActivityTask indicates a completion for an activity task the
	// engine did not hand out.
	ErrUnknownActivityTask = errors.New("unknown activity task")

	// ErrHistoryNotFound indicates the service has no history for an execution.
	ErrHistoryNotFound = errors.New("workflow history not found")

	// ErrReplayOnly indicates an operation a replay engine cannot perform.
	ErrReplayOnly = errors.New("operation not supported by a replay engine")
)

// NondeterminismError reports commands that do not match recorded history.
type NondeterminismError struct {
	RunID   string
	EventID int64
	Message string
}

func (e *NondeterminismError) Error() string {
	if e.EventID > 0 {
		return fmt.Sprintf("nondeterminism in run %s at event %d: %s", e.RunID, e.EventID, e.Message)
	}
	return fmt.Sprintf("nondeterminism in run %s: %s", e.RunID, e.Message)
}

// WorkflowTaskError reports a worker-side failure completing a replayed
// activation.
type WorkflowTaskError struct {
	RunID string
	Err   error
}

func (e *WorkflowTaskError) Error() string {
	return fmt.Sprintf("workflow task failed for run %s: %v", e.RunID, e.Err)
}

func (e *WorkflowTaskError) Unwrap() error {
	return e.Err
}

// IsNondeterminism reports whether err carries a NondeterminismError.
func IsNondeterminism(err error) bool {
	var nd *NondeterminismError
	return errors.As(err, &nd)
}
