package history

import (
	"time"

	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	failurepb "go.temporal.io/api/failure/v1"
	historypb "go.temporal.io/api/history/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	// CannedWorkflowType is the workflow type recorded by canned histories.
	CannedWorkflowType = "canned_wf"

	// CannedTaskQueue is the task queue recorded by canned histories.
	CannedTaskQueue = "canned_tq"

	// CannedActivityType is the activity type recorded by canned histories.
	CannedActivityType = "test_activity"
)

// cannedEpoch anchors event timestamps so canned histories are stable.
var cannedEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Builder assembles a history with consecutive event ids, one second apart.
// The zero value is ready to use.
type Builder struct {
	events []*historypb.HistoryEvent

	// last workflow task scheduled, started and completed ids
	taskScheduled int64
	taskStarted   int64
	taskCompleted int64
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) add(t enumspb.EventType, attrs func(e *historypb.HistoryEvent)) *Builder {
	id := int64(len(b.events)) + 1
	e := &historypb.HistoryEvent{
		EventId:   id,
		EventType: t,
		EventTime: timestamppb.New(cannedEpoch.Add(time.Duration(id) * time.Second)),
	}
	if attrs != nil {
		attrs(e)
	}
	b.events = append(b.events, e)
	return b
}

// LastID is the id of the most recently added event, or 0.
func (b *Builder) LastID() int64 {
	return int64(len(b.events))
}

// Events returns the events added so far.
func (b *Builder) Events() []*historypb.HistoryEvent {
	return b.events
}

// History returns a copy of the built history.
func (b *Builder) History() *historypb.History {
	h := &historypb.History{Events: b.events}
	return proto.Clone(h).(*historypb.History)
}

// Started adds the execution started event. An empty runID leaves the
// run id for the consumer to assign.
func (b *Builder) Started(workflowType, runID string) *Builder {
	return b.add(enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowExecutionStartedEventAttributes{
			WorkflowExecutionStartedEventAttributes: &historypb.WorkflowExecutionStartedEventAttributes{
				WorkflowType:           &commonpb.WorkflowType{Name: workflowType},
				TaskQueue:              &taskqueuepb.TaskQueue{Name: CannedTaskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
				WorkflowTaskTimeout:    durationpb.New(10 * time.Second),
				OriginalExecutionRunId: runID,
				FirstExecutionRunId:    runID,
				Attempt:                1,
			},
		}
	})
}

// WorkflowTask adds a scheduled and started workflow task pair.
func (b *Builder) WorkflowTask() *Builder {
	b.add(enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowTaskScheduledEventAttributes{
			WorkflowTaskScheduledEventAttributes: &historypb.WorkflowTaskScheduledEventAttributes{
				TaskQueue:           &taskqueuepb.TaskQueue{Name: CannedTaskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
				StartToCloseTimeout: durationpb.New(10 * time.Second),
				Attempt:             1,
			},
		}
	})
	b.taskScheduled = b.LastID()
	b.add(enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowTaskStartedEventAttributes{
			WorkflowTaskStartedEventAttributes: &historypb.WorkflowTaskStartedEventAttributes{
				ScheduledEventId: b.taskScheduled,
			},
		}
	})
	b.taskStarted = b.LastID()
	return b
}

// TaskCompleted completes the last workflow task.
func (b *Builder) TaskCompleted() *Builder {
	b.add(enumspb.EVENT_TYPE_WORKFLOW_TASK_COMPLETED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowTaskCompletedEventAttributes{
			WorkflowTaskCompletedEventAttributes: &historypb.WorkflowTaskCompletedEventAttributes{
				ScheduledEventId: b.taskScheduled,
				StartedEventId:   b.taskStarted,
			},
		}
	})
	b.taskCompleted = b.LastID()
	return b
}

// TaskFailed fails the last workflow task with msg.
func (b *Builder) TaskFailed(msg string) *Builder {
	return b.add(enumspb.EVENT_TYPE_WORKFLOW_TASK_FAILED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowTaskFailedEventAttributes{
			WorkflowTaskFailedEventAttributes: &historypb.WorkflowTaskFailedEventAttributes{
				ScheduledEventId: b.taskScheduled,
				StartedEventId:   b.taskStarted,
				Cause:            enumspb.WORKFLOW_TASK_FAILED_CAUSE_WORKFLOW_WORKER_UNHANDLED_FAILURE,
				Failure:          &failurepb.Failure{Message: msg},
			},
		}
	})
}

// TimerStarted adds a one second timer.
func (b *Builder) TimerStarted(timerID string) *Builder {
	return b.add(enumspb.EVENT_TYPE_TIMER_STARTED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_TimerStartedEventAttributes{
			TimerStartedEventAttributes: &historypb.TimerStartedEventAttributes{
				TimerId:                      timerID,
				StartToFireTimeout:           durationpb.New(time.Second),
				WorkflowTaskCompletedEventId: b.taskCompleted,
			},
		}
	})
}

// TimerFired fires the timer started by startedID.
func (b *Builder) TimerFired(timerID string, startedID int64) *Builder {
	return b.add(enumspb.EVENT_TYPE_TIMER_FIRED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_TimerFiredEventAttributes{
			TimerFiredEventAttributes: &historypb.TimerFiredEventAttributes{
				TimerId:        timerID,
				StartedEventId: startedID,
			},
		}
	})
}

// ActivityScheduled schedules activityID with the given type.
func (b *Builder) ActivityScheduled(activityID, activityType string) *Builder {
	return b.add(enumspb.EVENT_TYPE_ACTIVITY_TASK_SCHEDULED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_ActivityTaskScheduledEventAttributes{
			ActivityTaskScheduledEventAttributes: &historypb.ActivityTaskScheduledEventAttributes{
				ActivityId:                   activityID,
				ActivityType:                 &commonpb.ActivityType{Name: activityType},
				TaskQueue:                    &taskqueuepb.TaskQueue{Name: CannedTaskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
				WorkflowTaskCompletedEventId: b.taskCompleted,
			},
		}
	})
}

// ActivityStarted starts the activity scheduled by scheduledID.
func (b *Builder) ActivityStarted(scheduledID int64) *Builder {
	return b.add(enumspb.EVENT_TYPE_ACTIVITY_TASK_STARTED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_ActivityTaskStartedEventAttributes{
			ActivityTaskStartedEventAttributes: &historypb.ActivityTaskStartedEventAttributes{
				ScheduledEventId: scheduledID,
				Attempt:          1,
			},
		}
	})
}

// ActivityCompleted resolves the activity scheduled by scheduledID.
func (b *Builder) ActivityCompleted(scheduledID int64, result *commonpb.Payloads) *Builder {
	return b.add(enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_ActivityTaskCompletedEventAttributes{
			ActivityTaskCompletedEventAttributes: &historypb.ActivityTaskCompletedEventAttributes{
				ScheduledEventId: scheduledID,
				Result:           result,
			},
		}
	})
}

// ActivityFailed fails the activity scheduled by scheduledID with msg.
func (b *Builder) ActivityFailed(scheduledID int64, msg string) *Builder {
	return b.add(enumspb.EVENT_TYPE_ACTIVITY_TASK_FAILED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_ActivityTaskFailedEventAttributes{
			ActivityTaskFailedEventAttributes: &historypb.ActivityTaskFailedEventAttributes{
				ScheduledEventId: scheduledID,
				Failure:          &failurepb.Failure{Message: msg},
			},
		}
	})
}

// WorkflowCompleted closes the run.
func (b *Builder) WorkflowCompleted() *Builder {
	return b.add(enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED, func(e *historypb.HistoryEvent) {
		e.Attributes = &historypb.HistoryEvent_WorkflowExecutionCompletedEventAttributes{
			WorkflowExecutionCompletedEventAttributes: &historypb.WorkflowExecutionCompletedEventAttributes{
				WorkflowTaskCompletedEventId: b.taskCompleted,
			},
		}
	})
}

// Canned histories. None carries a run id; use WithRunID to set one.

// SingleTimer is a completed run that started timerID and completed when
// it fired.
//
//	1 WorkflowExecutionStarted
//	2 WorkflowTaskScheduled
//	3 WorkflowTaskStarted
//	4 WorkflowTaskCompleted
//	5 TimerStarted
//	6 TimerFired
//	7 WorkflowTaskScheduled
//	8 WorkflowTaskStarted
//	9 WorkflowTaskCompleted
//	10 WorkflowExecutionCompleted
func SingleTimer(timerID string) *historypb.History {
	b := NewBuilder().Started(CannedWorkflowType, "").WorkflowTask().TaskCompleted().TimerStarted(timerID)
	return b.TimerFired(timerID, b.LastID()).
		WorkflowTask().TaskCompleted().WorkflowCompleted().History()
}

// SingleActivity is a completed run that scheduled one activity of
// CannedActivityType and completed after its result arrived.
//
//	1 WorkflowExecutionStarted
//	2 WorkflowTaskScheduled
//	3 WorkflowTaskStarted
//	4 WorkflowTaskCompleted
//	5 ActivityTaskScheduled
//	6 ActivityTaskStarted
//	7 ActivityTaskCompleted
//	8 WorkflowTaskScheduled
//	9 WorkflowTaskStarted
//	10 WorkflowTaskCompleted
//	11 WorkflowExecutionCompleted
func SingleActivity(activityID string) *historypb.History {
	return singleActivity(activityID, func(b *Builder, scheduled int64) {
		b.ActivityCompleted(scheduled, nil)
	})
}

// SingleFailedActivity is SingleActivity with the activity failing.
func SingleFailedActivity(activityID string) *historypb.History {
	return singleActivity(activityID, func(b *Builder, scheduled int64) {
		b.ActivityFailed(scheduled, "activity failed")
	})
}

func singleActivity(activityID string, resolve func(b *Builder, scheduled int64)) *historypb.History {
	b := NewBuilder().Started(CannedWorkflowType, "").WorkflowTask().TaskCompleted().
		ActivityScheduled(activityID, CannedActivityType)
	scheduled := b.LastID()
	b.ActivityStarted(scheduled)
	resolve(b, scheduled)
	return b.WorkflowTask().TaskCompleted().WorkflowCompleted().History()
}

// WorkflowTaskFailure is a run whose first workflow task failed. The retried
// task completed it.
//
//	1 WorkflowExecutionStarted
//	2 WorkflowTaskScheduled
//	3 WorkflowTaskStarted
//	4 WorkflowTaskFailed
//	5 WorkflowTaskScheduled
//	6 WorkflowTaskStarted
//	7 WorkflowTaskCompleted
//	8 WorkflowExecutionCompleted
func WorkflowTaskFailure() *historypb.History {
	return NewBuilder().Started(CannedWorkflowType, "").WorkflowTask().TaskFailed("task failed").
		WorkflowTask().TaskCompleted().WorkflowCompleted().History()
}

// OpenWorkflowTask is a run whose first workflow task is still in flight.
func OpenWorkflowTask() *historypb.History {
	return NewBuilder().Started(CannedWorkflowType, "").WorkflowTask().History()
}

// WithRunID returns a copy of h with its started event recording runID.
func WithRunID(h *historypb.History, runID string) *historypb.History {
	out := proto.Clone(h).(*historypb.History)
	if len(out.GetEvents()) == 0 {
		return out
	}
	if attrs := out.GetEvents()[0].GetWorkflowExecutionStartedEventAttributes(); attrs != nil {
		attrs.OriginalExecutionRunId = runID
		attrs.FirstExecutionRunId = runID
	}
	return out
}
