package engine

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const evictionReason = "workflow cache full"

// workflowTask is a polled workflow task with its full history.
type workflowTask struct {
	token        []byte
	runID        string
	workflowID   string
	workflowType string
	events       []*historypb.HistoryEvent
	release      func()
}

// taskFailure is a workflow task that must be reported as failed.
type taskFailure struct {
	runID string
	token []byte
	cause enumspb.WorkflowTaskFailedCause
	err   error
}

// workflowQueue serves workflow activations for one task queue.
type workflowQueue struct {
	core       *Core
	cfg        WorkerConfig
	slots      *semaphore.Weighted
	activities *activityQueue

	mu    sync.Mutex
	runs  map[string]*runState
	idle  *lru.Cache[string, struct{}] // cached runs without a task, oldest first
	ready []string                     // runs whose current activation is not issued yet
}

func newWorkflowQueue(c *Core, cfg WorkerConfig) *workflowQueue {
	// Size is validated to be positive, the only New error.
	idle, _ := lru.New[string, struct{}](cfg.MaxCachedWorkflows)
	return &workflowQueue{
		core:       c,
		cfg:        cfg,
		slots:      semaphore.NewWeighted(int64(cfg.MaxOutstandingWorkflowTasks)),
		activities: newActivityQueue(c, cfg),
		runs:       make(map[string]*runState),
		idle:       idle,
	}
}

// poll returns the next ready activation, polling the service for a new
// workflow task when none is pending.
func (q *workflowQueue) poll(ctx context.Context) (*Activation, error) {
	for {
		if act := q.takeReady(ctx); act != nil {
			return act, nil
		}
		if err := q.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		task, err := q.pollTask(ctx)
		if err != nil {
			q.slots.Release(1)
			return nil, err
		}
		if task == nil {
			q.slots.Release(1)
			continue
		}
		if err := q.ingest(ctx, task); err != nil {
			return nil, err
		}
	}
}

func (q *workflowQueue) pollTask(ctx context.Context) (*workflowTask, error) {
	svc := q.core.svc
	resp, err := svc.PollWorkflowTaskQueue(ctx, &workflowservice.PollWorkflowTaskQueueRequest{
		Namespace: q.core.namespace,
		TaskQueue: &taskqueuepb.TaskQueue{Name: q.cfg.TaskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
		Identity:  q.core.identity,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("polling workflow task queue %s: %w", q.cfg.TaskQueue, err)
	}
	if len(resp.GetTaskToken()) == 0 {
		return nil, nil
	}

	events := append([]*historypb.HistoryEvent(nil), resp.GetHistory().GetEvents()...)
	if len(resp.GetNextPageToken()) > 0 {
		rest, err := fetchHistory(ctx, svc, q.core.namespace, resp.GetWorkflowExecution(), resp.GetNextPageToken())
		if err != nil {
			return nil, err
		}
		events = append(events, rest.GetEvents()...)
	}

	var once sync.Once
	return &workflowTask{
		token:        resp.GetTaskToken(),
		runID:        resp.GetWorkflowExecution().GetRunId(),
		workflowID:   resp.GetWorkflowExecution().GetWorkflowId(),
		workflowType: resp.GetWorkflowType().GetName(),
		events:       events,
		release: func() {
			once.Do(func() { q.slots.Release(1) })
		},
	}, nil
}

// ingest attaches a polled task to its run and queues the first activation.
func (q *workflowQueue) ingest(ctx context.Context, task *workflowTask) error {
	q.mu.Lock()
	run, ok := q.runs[task.runID]
	switch {
	case ok && run.evicting:
		run.deferred = task
		q.mu.Unlock()
		return nil
	case ok && run.task != nil:
		q.mu.Unlock()
		task.release()
		return fmt.Errorf("run %s already has a workflow task in progress", task.runID)
	case ok:
		q.idle.Remove(task.runID)
	default:
		run = newRunState(q.cfg.TaskQueue, task)
		q.runs[task.runID] = run
	}

	run.load(task)
	failure := q.advance(run)
	q.trim()
	q.mu.Unlock()

	q.core.logger.Trace(ctx, "workflow task received",
		zap.String("run.id", task.runID),
		zap.Int("events", len(task.events)),
		zap.Bool("cached", ok),
	)
	if failure != nil {
		return q.failTask(ctx, failure)
	}
	return nil
}

// advance queues run's next activation or ends its task. Caller holds q.mu.
func (q *workflowQueue) advance(run *runState) *taskFailure {
	act, expected, err := run.next()
	if err != nil {
		return q.abandon(run, err)
	}
	if act == nil {
		q.finishTask(run)
		return nil
	}
	run.current, run.expected, run.issued = act, expected, false
	q.ready = append(q.ready, run.runID)
	return nil
}

func (q *workflowQueue) takeReady(ctx context.Context) *Activation {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ready) > 0 {
		id := q.ready[0]
		q.ready = q.ready[1:]
		run, ok := q.runs[id]
		if !ok || run.current == nil || run.issued {
			continue
		}
		run.issued = true
		q.core.metrics.recordActivation(q.cfg.TaskQueue, run.current.IsReplaying)
		q.core.logger.Trace(ctx, "activation issued",
			zap.String("run.id", id),
			zap.Bool("replaying", run.current.IsReplaying),
			zap.Int("jobs", len(run.current.Jobs)),
		)
		return run.current
	}
	return nil
}

// complete applies a worker's answer to the run's outstanding activation.
func (q *workflowQueue) complete(ctx context.Context, comp *ActivationCompletion) error {
	ctx, span := q.core.tracer.Start(ctx, "engine.CompleteWorkflowActivation", trace.WithAttributes(
		attribute.String("task_queue", q.cfg.TaskQueue),
		attribute.String("run.id", comp.RunID),
		attribute.Int("commands", len(comp.Commands)),
	))
	defer span.End()

	err := q.applyCompletion(ctx, comp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
	}
	return err
}

func (q *workflowQueue) applyCompletion(ctx context.Context, comp *ActivationCompletion) error {
	tq := q.cfg.TaskQueue

	q.mu.Lock()
	run, ok := q.runs[comp.RunID]
	if !ok || run.current == nil || !run.issued {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoOutstandingActivation, comp.RunID)
	}
	act := run.current
	run.current, run.issued = nil, false

	if run.evicting {
		failure := q.finishEviction(run)
		q.mu.Unlock()
		q.core.metrics.recordCompletion(tq, outcomeEvicted)
		if failure != nil {
			return q.failTask(ctx, failure)
		}
		return nil
	}

	if comp.Failure != nil {
		failure := q.abandon(run, comp.Failure)
		q.mu.Unlock()
		q.core.metrics.recordCompletion(tq, outcomeFailure)
		if act.IsReplaying || q.core.IsReplay() {
			return &WorkflowTaskError{RunID: comp.RunID, Err: comp.Failure}
		}
		if err := q.respondFailed(ctx, failure); err != nil {
			return err
		}
		return nil
	}

	if act.IsReplaying {
		if err := run.match(comp.Commands, run.expected); err != nil {
			failure := q.abandon(run, err)
			q.mu.Unlock()
			return q.failTask(ctx, failure)
		}
		run.expected = nil
		if completes(comp.Commands) {
			run.completed = true
		}
		failure := q.advance(run)
		q.mu.Unlock()
		if failure != nil {
			return q.failTask(ctx, failure)
		}
		q.core.metrics.recordCompletion(tq, outcomeSuccess)
		return nil
	}

	token := run.task.token
	q.mu.Unlock()

	cmds, err := toProtos(comp.Commands)
	if err == nil {
		_, err = q.core.svc.RespondWorkflowTaskCompleted(ctx, &workflowservice.RespondWorkflowTaskCompletedRequest{
			Namespace: q.core.namespace,
			TaskToken: token,
			Commands:  cmds,
			Identity:  q.core.identity,
		})
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		run.task.release()
		q.removeRun(run)
		q.core.metrics.recordCompletion(tq, outcomeFailure)
		return fmt.Errorf("completing workflow task for run %s: %w", comp.RunID, err)
	}
	run.lastCommands = comp.Commands
	if completes(comp.Commands) {
		run.completed = true
	}
	q.finishTask(run)
	q.core.metrics.recordCompletion(tq, outcomeSuccess)
	return nil
}

// finishTask releases the task slot and returns the run to the cache.
// Caller holds q.mu.
func (q *workflowQueue) finishTask(run *runState) {
	run.task.release()
	run.task = nil
	run.events = nil
	run.pos = 0
	if run.completed {
		q.removeRun(run)
		return
	}
	q.idle.Add(run.runID, struct{}{})
	q.trim()
}

// abandon drops run and its task. Caller holds q.mu.
func (q *workflowQueue) abandon(run *runState, err error) *taskFailure {
	failure := &taskFailure{
		runID: run.runID,
		token: run.task.token,
		cause: enumspb.WORKFLOW_TASK_FAILED_CAUSE_WORKFLOW_WORKER_UNHANDLED_FAILURE,
		err:   err,
	}
	if IsNondeterminism(err) {
		failure.cause = enumspb.WORKFLOW_TASK_FAILED_CAUSE_NON_DETERMINISTIC_ERROR
	}
	run.task.release()
	q.removeRun(run)
	return failure
}

// failTask reports a task failure to the service and returns its cause.
func (q *workflowQueue) failTask(ctx context.Context, failure *taskFailure) error {
	outcome := outcomeFailure
	if IsNondeterminism(failure.err) {
		outcome = outcomeNondeterminism
	}
	q.core.metrics.recordCompletion(q.cfg.TaskQueue, outcome)
	q.core.logger.Warn(ctx, "workflow task failed",
		zap.String("run.id", failure.runID),
		zap.Stringer("cause", failure.cause),
		zap.Error(failure.err),
	)

	if !q.core.IsReplay() {
		if err := q.respondFailed(ctx, failure); err != nil {
			q.core.logger.Warn(ctx, "reporting workflow task failure", zap.Error(err))
		}
	}
	return failure.err
}

func (q *workflowQueue) respondFailed(ctx context.Context, failure *taskFailure) error {
	_, err := q.core.svc.RespondWorkflowTaskFailed(ctx, &workflowservice.RespondWorkflowTaskFailedRequest{
		Namespace: q.core.namespace,
		TaskToken: failure.token,
		Cause:     failure.cause,
		Failure:   temporal.GetDefaultFailureConverter().ErrorToFailure(failure.err),
		Identity:  q.core.identity,
	})
	if err != nil {
		return fmt.Errorf("failing workflow task for run %s: %w", failure.runID, err)
	}
	return nil
}

// trim evicts the least recently used idle runs while the cache is over
// capacity. Caller holds q.mu.
func (q *workflowQueue) trim() {
	for q.cachedCount() > q.cfg.MaxCachedWorkflows {
		id, _, ok := q.idle.RemoveOldest()
		if !ok {
			break
		}
		run := q.runs[id]
		run.evicting = true
		run.current = &Activation{
			RunID:      id,
			WorkflowID: run.workflowID,
			TaskQueue:  q.cfg.TaskQueue,
			Jobs:       []Job{RemoveFromCache{Reason: evictionReason}},
		}
		run.issued = false
		q.ready = append(q.ready, id)
		q.core.metrics.recordEviction(q.cfg.TaskQueue)
	}
	q.core.metrics.setCachedRuns(q.cfg.TaskQueue, q.cachedCount())
}

// finishEviction forgets an evicted run and starts any task that arrived
// for it meanwhile. Caller holds q.mu.
func (q *workflowQueue) finishEviction(run *runState) *taskFailure {
	delete(q.runs, run.runID)
	task := run.deferred
	if task == nil {
		return nil
	}
	fresh := newRunState(q.cfg.TaskQueue, task)
	q.runs[task.runID] = fresh
	fresh.load(task)
	failure := q.advance(fresh)
	q.trim()
	return failure
}

// removeRun drops run from the cache. Caller holds q.mu.
func (q *workflowQueue) removeRun(run *runState) {
	delete(q.runs, run.runID)
	q.idle.Remove(run.runID)
	q.core.metrics.setCachedRuns(q.cfg.TaskQueue, q.cachedCount())
}

func (q *workflowQueue) cachedCount() int {
	n := 0
	for _, run := range q.runs {
		if !run.evicting {
			n++
		}
	}
	return n
}

// cachedRuns returns the ids of runs currently held in the cache.
func (q *workflowQueue) cachedRuns() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.runs))
	for id, run := range q.runs {
		if !run.evicting {
			ids = append(ids, id)
		}
	}
	return ids
}
