package engine

import (
	commonpb "go.temporal.io/api/common/v1"
	failurepb "go.temporal.io/api/failure/v1"
)

// Activation is one batch of jobs for a workflow run. The worker answers it
// with exactly one ActivationCompletion.
type Activation struct {
	RunID       string
	WorkflowID  string
	TaskQueue   string
	IsReplaying bool
	Jobs        []Job
}

// IsEviction reports whether the activation only asks the worker to drop
// the run.
func (a *Activation) IsEviction() bool {
	if len(a.Jobs) != 1 {
		return false
	}
	_, ok := a.Jobs[0].(RemoveFromCache)
	return ok
}

// Job is one unit of work inside an activation.
type Job interface {
	isJob()
}

// StartWorkflow begins a run.
type StartWorkflow struct {
	WorkflowType string
	WorkflowID   string
	Arguments    *commonpb.Payloads
}

// FireTimer resolves the timer started with Seq.
type FireTimer struct {
	Seq uint32
}

// ResolveActivity resolves the activity scheduled with Seq. Exactly one of
// Result or Failure is meaningful; a nil Failure means success.
type ResolveActivity struct {
	Seq     uint32
	Result  *commonpb.Payloads
	Failure *failurepb.Failure
}

// RemoveFromCache tells the worker to forget the run.
type RemoveFromCache struct {
	Reason string
}

func (StartWorkflow) isJob()   {}
func (FireTimer) isJob()       {}
func (ResolveActivity) isJob() {}
func (RemoveFromCache) isJob() {}

// ActivationCompletion answers an activation. A non-nil Failure fails the
// workflow task instead of submitting Commands.
type ActivationCompletion struct {
	TaskQueue string
	RunID     string
	Commands  []Command
	Failure   error
}

// CompletionFromCommands builds a successful completion.
func CompletionFromCommands(taskQueue, runID string, cmds ...Command) *ActivationCompletion {
	return &ActivationCompletion{
		TaskQueue: taskQueue,
		RunID:     runID,
		Commands:  cmds,
	}
}

// ActivityTask is an activity handed to the worker.
type ActivityTask struct {
	TaskQueue    string
	TaskToken    []byte
	WorkflowID   string
	RunID        string
	ActivityID   string
	ActivityType string
	Input        *commonpb.Payloads
	Attempt      int32
}

// ActivityTaskCompletion reports an activity outcome. A non-nil Failure
// fails the activity.
type ActivityTaskCompletion struct {
	TaskQueue string
	TaskToken []byte
	Result    *commonpb.Payloads
	Failure   error
}
