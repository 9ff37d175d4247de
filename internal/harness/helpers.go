package harness

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/wfharness/internal/engine"
)

// CompleteExecution answers the run's outstanding activation by completing
// the workflow. Submission errors are returned unchanged.
func CompleteExecution(ctx context.Context, eng engine.Engine, taskQueue, runID string) error {
	return eng.CompleteWorkflowActivation(ctx,
		engine.CompletionFromCommands(taskQueue, runID, engine.CompleteWorkflowExecution{}))
}

// CompleteTimer answers the run's outstanding activation by starting timer
// seq. Submission errors are returned unchanged.
func CompleteTimer(ctx context.Context, eng engine.Engine, taskQueue, runID string, seq uint32, d time.Duration) error {
	return eng.CompleteWorkflowActivation(ctx,
		engine.CompletionFromCommands(taskQueue, runID, StartTimerCmd(seq, d)))
}
