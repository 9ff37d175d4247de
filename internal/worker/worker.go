// Package worker drives workflow and activity handlers against an engine.
//
// A Worker is bound to one task queue and holds exactly one engine at a
// time. SwapEngine replaces that engine without touching the worker's
// registrations or run counters, which is how a live worker is moved onto a
// replay engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	commonpb "go.temporal.io/api/common/v1"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/wfharness/internal/engine"
	"github.com/fyrsmithlabs/wfharness/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/wfharness/internal/worker"

// errDone cancels the poll loops once every expected run has completed.
var errDone = errors.New("expected runs completed")

// WorkflowFunc handles the jobs of one activation and returns the commands
// to submit. Returning an error fails the workflow task.
type WorkflowFunc func(run *Run, jobs []engine.Job) ([]engine.Command, error)

// ActivityFunc executes an activity task.
type ActivityFunc func(ctx context.Context, task *engine.ActivityTask) (*commonpb.Payloads, error)

// Worker runs registered handlers for one task queue.
type Worker struct {
	taskQueue  string
	wftTimeout time.Duration
	logger     *logging.Logger

	activations metric.Int64Counter
	completions metric.Int64Counter

	// mu guards the engine together with the runs cached for it.
	mu         sync.Mutex
	eng        engine.Engine
	workflows  map[string]WorkflowFunc
	activities map[string]ActivityFunc
	runs       map[string]*Run
	expected   int
	completed  int
}

// New creates a worker for taskQueue on eng.
func New(eng engine.Engine, taskQueue string, opts ...Option) *Worker {
	o := &options{
		logger: logging.NewNop(),
		meter:  noop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}

	w := &Worker{
		taskQueue:  taskQueue,
		wftTimeout: o.wftTimeout,
		logger:     o.logger.Named("worker").With(zap.String("task_queue", taskQueue)),
		eng:        eng,
		workflows:  make(map[string]WorkflowFunc),
		activities: make(map[string]ActivityFunc),
		runs:       make(map[string]*Run),
	}

	var err error
	w.activations, err = o.meter.Int64Counter("wfharness.worker.activations",
		metric.WithDescription("Workflow activations handled by the worker"))
	if err != nil {
		w.activations, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("wfharness.worker.activations")
	}
	w.completions, err = o.meter.Int64Counter("wfharness.worker.completed_runs",
		metric.WithDescription("Workflow runs the worker completed"))
	if err != nil {
		w.completions, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("wfharness.worker.completed_runs")
	}
	return w
}

// TaskQueue returns the task queue the worker serves.
func (w *Worker) TaskQueue() string {
	return w.taskQueue
}

// Engine returns the engine currently installed.
func (w *Worker) Engine() engine.Engine {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.eng
}

// SwapEngine installs eng and returns the engine it replaced. Registered
// handlers and run counters are kept; cached run state is dropped because
// it belonged to the previous engine. Activations already polled from the
// previous engine complete there without being cached.
func (w *Worker) SwapEngine(eng engine.Engine) engine.Engine {
	w.mu.Lock()
	defer w.mu.Unlock()
	prev := w.eng
	w.eng = eng
	w.runs = make(map[string]*Run)
	return prev
}

// RegisterWorkflow installs fn for workflowType, replacing any previous
// handler.
func (w *Worker) RegisterWorkflow(workflowType string, fn WorkflowFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.workflows[workflowType] = fn
}

// RegisterActivity installs fn for activityType. RunUntilDone polls for
// activity tasks only when at least one activity is registered.
func (w *Worker) RegisterActivity(activityType string, fn ActivityFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activities[activityType] = fn
}

// SubmitWorkflow starts a workflow on the worker's task queue and expects
// one more completed run.
func (w *Worker) SubmitWorkflow(ctx context.Context, workflowID, workflowType string, input *commonpb.Payloads) (string, error) {
	runID, err := w.Engine().Gateway().StartWorkflow(ctx, input, w.taskQueue, workflowID, workflowType, w.wftTimeout)
	if err != nil {
		return "", err
	}
	w.IncrExpectedRunCount(1)
	return runID, nil
}

// IncrExpectedRunCount raises the number of runs RunUntilDone waits for.
func (w *Worker) IncrExpectedRunCount(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expected += n
}

// ExpectedRunCount returns how many runs the worker expects to complete.
func (w *Worker) ExpectedRunCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expected
}

// CompletedRunCount returns how many runs the worker has completed.
func (w *Worker) CompletedRunCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed
}

func (w *Worker) done() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.completed >= w.expected
}

// RunUntilDone handles activations, and activity tasks when activities are
// registered, until the completed run count reaches the expected count.
// The first handler or engine error stops the worker and is returned.
func (w *Worker) RunUntilDone(ctx context.Context) error {
	if w.done() {
		return nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			if w.done() {
				cancel(errDone)
				return nil
			}
			eng := w.Engine()
			act, err := eng.PollWorkflowActivation(gctx, w.taskQueue)
			if err != nil {
				return w.stopErr(ctx, err)
			}
			if err := w.handleActivation(gctx, eng, act); err != nil {
				return err
			}
		}
	})

	if w.hasActivities() {
		g.Go(func() error {
			for {
				task, err := w.Engine().PollActivityTask(gctx, w.taskQueue)
				if err != nil {
					return w.stopErr(ctx, err)
				}
				if err := w.handleActivity(gctx, task); err != nil {
					return w.stopErr(ctx, err)
				}
			}
		})
	}

	return g.Wait()
}

// stopErr hides errors caused by the worker stopping itself.
func (w *Worker) stopErr(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errDone) {
		return nil
	}
	return err
}

func (w *Worker) hasActivities() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.activities) > 0
}

// handleActivation runs the handler for act, which was polled from eng.
func (w *Worker) handleActivation(ctx context.Context, eng engine.Engine, act *engine.Activation) error {
	ctx = logging.WithWorkflow(ctx, logging.Execution{
		TaskQueue:  w.taskQueue,
		WorkflowID: act.WorkflowID,
		RunID:      act.RunID,
	})
	w.activations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_queue", w.taskQueue),
		attribute.Bool("replaying", act.IsReplaying),
	))

	if act.IsEviction() {
		w.forget(eng, act.RunID)
		w.logger.Debug(ctx, "run evicted", zap.String("reason", act.Jobs[0].(engine.RemoveFromCache).Reason))
		return eng.CompleteWorkflowActivation(ctx, engine.CompletionFromCommands(w.taskQueue, act.RunID))
	}

	run, fn := w.runFor(eng, act)
	run.IsReplaying = act.IsReplaying

	var (
		cmds []engine.Command
		err  error
	)
	if fn == nil {
		err = fmt.Errorf("no workflow registered for type %q", run.WorkflowType)
	} else {
		cmds, err = fn(run, act.Jobs)
	}

	if err != nil {
		w.logger.Warn(ctx, "workflow task failed", zap.Error(err))
		if cerr := eng.CompleteWorkflowActivation(ctx, &engine.ActivationCompletion{
			TaskQueue: w.taskQueue,
			RunID:     act.RunID,
			Failure:   err,
		}); cerr != nil {
			return cerr
		}
		return fmt.Errorf("workflow %s run %s: %w", act.WorkflowID, act.RunID, err)
	}

	if err := eng.CompleteWorkflowActivation(ctx, engine.CompletionFromCommands(w.taskQueue, act.RunID, cmds...)); err != nil {
		return err
	}

	if completesRun(cmds) {
		w.forget(eng, act.RunID)
		w.mu.Lock()
		w.completed++
		completed, expected := w.completed, w.expected
		w.mu.Unlock()

		w.completions.Add(ctx, 1, metric.WithAttributes(attribute.String("task_queue", w.taskQueue)))
		w.logger.Debug(ctx, "run completed",
			zap.Bool("replaying", act.IsReplaying),
			zap.Int("completed", completed),
			zap.Int("expected", expected),
		)
	}
	return nil
}

// runFor returns the cached run for act, creating it from the activation's
// StartWorkflow job when needed. Runs of an engine that has been swapped
// out are not cached.
func (w *Worker) runFor(eng engine.Engine, act *engine.Activation) (*Run, WorkflowFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := eng == w.eng
	run, ok := w.runs[act.RunID]
	if !ok || !current {
		run = &Run{WorkflowID: act.WorkflowID, RunID: act.RunID}
		for _, job := range act.Jobs {
			if start, ok := job.(engine.StartWorkflow); ok {
				run.WorkflowType = start.WorkflowType
				run.Input = start.Arguments
			}
		}
		if current {
			w.runs[act.RunID] = run
		}
	}
	return run, w.workflows[run.WorkflowType]
}

// forget drops the cached run unless eng has been swapped out, in which
// case the cache already belongs to the new engine.
func (w *Worker) forget(eng engine.Engine, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if eng == w.eng {
		delete(w.runs, runID)
	}
}

func (w *Worker) handleActivity(ctx context.Context, task *engine.ActivityTask) error {
	w.mu.Lock()
	fn := w.activities[task.ActivityType]
	w.mu.Unlock()

	completion := &engine.ActivityTaskCompletion{TaskQueue: w.taskQueue, TaskToken: task.TaskToken}
	if fn == nil {
		completion.Failure = fmt.Errorf("no activity registered for type %q", task.ActivityType)
	} else {
		completion.Result, completion.Failure = fn(ctx, task)
	}
	if completion.Failure != nil {
		w.logger.Debug(ctx, "activity failed",
			zap.String("activity.id", task.ActivityID),
			zap.Error(completion.Failure),
		)
	}
	return w.Engine().CompleteActivityTask(ctx, completion)
}

func completesRun(cmds []engine.Command) bool {
	for _, cmd := range cmds {
		if _, ok := cmd.(engine.CompleteWorkflowExecution); ok {
			return true
		}
	}
	return false
}
