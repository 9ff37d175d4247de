package engine

import (
	"context"
	"fmt"
	"sync"

	enumspb "go.temporal.io/api/enums/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// activityQueue hands out activity tasks for one task queue.
type activityQueue struct {
	core      *Core
	taskQueue string
	slots     *semaphore.Weighted // outstanding tasks
	polls     *semaphore.Weighted // concurrent service polls

	mu          sync.Mutex
	outstanding map[string]struct{}
}

func newActivityQueue(c *Core, cfg WorkerConfig) *activityQueue {
	return &activityQueue{
		core:        c,
		taskQueue:   cfg.TaskQueue,
		slots:       semaphore.NewWeighted(int64(cfg.MaxOutstandingActivities)),
		polls:       semaphore.NewWeighted(int64(cfg.MaxConcurrentActivityPolls)),
		outstanding: make(map[string]struct{}),
	}
}

func (q *activityQueue) poll(ctx context.Context) (*ActivityTask, error) {
	if err := q.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	task, err := q.pollOnce(ctx)
	if err != nil {
		q.slots.Release(1)
		return nil, err
	}
	return task, nil
}

func (q *activityQueue) pollOnce(ctx context.Context) (*ActivityTask, error) {
	if err := q.polls.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer q.polls.Release(1)

	for {
		resp, err := q.core.svc.PollActivityTaskQueue(ctx, &workflowservice.PollActivityTaskQueueRequest{
			Namespace: q.core.namespace,
			TaskQueue: &taskqueuepb.TaskQueue{Name: q.taskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
			Identity:  q.core.identity,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("polling activity task queue %s: %w", q.taskQueue, err)
		}
		if len(resp.GetTaskToken()) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}

		q.mu.Lock()
		q.outstanding[string(resp.GetTaskToken())] = struct{}{}
		q.mu.Unlock()

		task := &ActivityTask{
			TaskQueue:    q.taskQueue,
			TaskToken:    resp.GetTaskToken(),
			WorkflowID:   resp.GetWorkflowExecution().GetWorkflowId(),
			RunID:        resp.GetWorkflowExecution().GetRunId(),
			ActivityID:   resp.GetActivityId(),
			ActivityType: resp.GetActivityType().GetName(),
			Input:        resp.GetInput(),
			Attempt:      resp.GetAttempt(),
		}
		q.core.logger.Trace(ctx, "activity task received",
			zap.String("activity.id", task.ActivityID),
			zap.String("activity.type", task.ActivityType),
			zap.String("run.id", task.RunID),
		)
		return task, nil
	}
}

func (q *activityQueue) complete(ctx context.Context, comp *ActivityTaskCompletion) error {
	key := string(comp.TaskToken)
	q.mu.Lock()
	_, ok := q.outstanding[key]
	delete(q.outstanding, key)
	q.mu.Unlock()
	if !ok {
		return ErrUnknownActivityTask
	}
	defer q.slots.Release(1)

	var err error
	if comp.Failure != nil {
		_, err = q.core.svc.RespondActivityTaskFailed(ctx, &workflowservice.RespondActivityTaskFailedRequest{
			Namespace: q.core.namespace,
			TaskToken: comp.TaskToken,
			Failure:   temporal.GetDefaultFailureConverter().ErrorToFailure(comp.Failure),
			Identity:  q.core.identity,
		})
	} else {
		_, err = q.core.svc.RespondActivityTaskCompleted(ctx, &workflowservice.RespondActivityTaskCompletedRequest{
			Namespace: q.core.namespace,
			TaskToken: comp.TaskToken,
			Result:    comp.Result,
			Identity:  q.core.identity,
		})
	}
	q.core.metrics.recordActivityTask(q.taskQueue, comp.Failure != nil)
	if err != nil {
		return fmt.Errorf("completing activity task on %s: %w", q.taskQueue, err)
	}
	return nil
}
