package devserver

import (
	"time"

	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	failurepb "go.temporal.io/api/failure/v1"
	historypb "go.temporal.io/api/history/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Event constructors. Ids and timestamps are assigned by execution.append.

func workflowStarted(wfType, taskQueue string, input *commonpb.Payloads, wftTimeout *durationpb.Duration, runID, identity string) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED,
		Attributes: &historypb.HistoryEvent_WorkflowExecutionStartedEventAttributes{
			WorkflowExecutionStartedEventAttributes: &historypb.WorkflowExecutionStartedEventAttributes{
				WorkflowType:           &commonpb.WorkflowType{Name: wfType},
				TaskQueue:              &taskqueuepb.TaskQueue{Name: taskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
				Input:                  input,
				WorkflowTaskTimeout:    wftTimeout,
				OriginalExecutionRunId: runID,
				FirstExecutionRunId:    runID,
				Identity:               identity,
				Attempt:                1,
			},
		},
	}
}

func workflowTaskScheduled(taskQueue string, timeout *durationpb.Duration) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED,
		Attributes: &historypb.HistoryEvent_WorkflowTaskScheduledEventAttributes{
			WorkflowTaskScheduledEventAttributes: &historypb.WorkflowTaskScheduledEventAttributes{
				TaskQueue:           &taskqueuepb.TaskQueue{Name: taskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
				StartToCloseTimeout: timeout,
				Attempt:             1,
			},
		},
	}
}

func workflowTaskStarted(scheduledID int64, identity, requestID string) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED,
		Attributes: &historypb.HistoryEvent_WorkflowTaskStartedEventAttributes{
			WorkflowTaskStartedEventAttributes: &historypb.WorkflowTaskStartedEventAttributes{
				ScheduledEventId: scheduledID,
				Identity:         identity,
				RequestId:        requestID,
			},
		},
	}
}

func workflowTaskCompleted(scheduledID, startedID int64, identity string) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_TASK_COMPLETED,
		Attributes: &historypb.HistoryEvent_WorkflowTaskCompletedEventAttributes{
			WorkflowTaskCompletedEventAttributes: &historypb.WorkflowTaskCompletedEventAttributes{
				ScheduledEventId: scheduledID,
				StartedEventId:   startedID,
				Identity:         identity,
			},
		},
	}
}

func workflowTaskFailed(scheduledID, startedID int64, cause enumspb.WorkflowTaskFailedCause, failure *failurepb.Failure, identity string) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_TASK_FAILED,
		Attributes: &historypb.HistoryEvent_WorkflowTaskFailedEventAttributes{
			WorkflowTaskFailedEventAttributes: &historypb.WorkflowTaskFailedEventAttributes{
				ScheduledEventId: scheduledID,
				StartedEventId:   startedID,
				Cause:            cause,
				Failure:          failure,
				Identity:         identity,
			},
		},
	}
}

func timerStarted(timerID string, timeout *durationpb.Duration, completedID int64) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_TIMER_STARTED,
		Attributes: &historypb.HistoryEvent_TimerStartedEventAttributes{
			TimerStartedEventAttributes: &historypb.TimerStartedEventAttributes{
				TimerId:                      timerID,
				StartToFireTimeout:           timeout,
				WorkflowTaskCompletedEventId: completedID,
			},
		},
	}
}

func timerFired(timerID string, startedID int64) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_TIMER_FIRED,
		Attributes: &historypb.HistoryEvent_TimerFiredEventAttributes{
			TimerFiredEventAttributes: &historypb.TimerFiredEventAttributes{
				TimerId:        timerID,
				StartedEventId: startedID,
			},
		},
	}
}

func activityScheduled(attrs *historypb.ActivityTaskScheduledEventAttributes) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_ACTIVITY_TASK_SCHEDULED,
		Attributes: &historypb.HistoryEvent_ActivityTaskScheduledEventAttributes{
			ActivityTaskScheduledEventAttributes: attrs,
		},
	}
}

func activityStarted(scheduledID int64, identity, requestID string, attempt int32) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_ACTIVITY_TASK_STARTED,
		Attributes: &historypb.HistoryEvent_ActivityTaskStartedEventAttributes{
			ActivityTaskStartedEventAttributes: &historypb.ActivityTaskStartedEventAttributes{
				ScheduledEventId: scheduledID,
				Identity:         identity,
				RequestId:        requestID,
				Attempt:          attempt,
			},
		},
	}
}

func activityCompleted(scheduledID, startedID int64, result *commonpb.Payloads, identity string) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED,
		Attributes: &historypb.HistoryEvent_ActivityTaskCompletedEventAttributes{
			ActivityTaskCompletedEventAttributes: &historypb.ActivityTaskCompletedEventAttributes{
				Result:           result,
				ScheduledEventId: scheduledID,
				StartedEventId:   startedID,
				Identity:         identity,
			},
		},
	}
}

func activityFailed(scheduledID, startedID int64, failure *failurepb.Failure, identity string) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_ACTIVITY_TASK_FAILED,
		Attributes: &historypb.HistoryEvent_ActivityTaskFailedEventAttributes{
			ActivityTaskFailedEventAttributes: &historypb.ActivityTaskFailedEventAttributes{
				Failure:          failure,
				ScheduledEventId: scheduledID,
				StartedEventId:   startedID,
				Identity:         identity,
			},
		},
	}
}

func workflowCompleted(result *commonpb.Payloads, completedID int64) *historypb.HistoryEvent {
	return &historypb.HistoryEvent{
		EventType: enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED,
		Attributes: &historypb.HistoryEvent_WorkflowExecutionCompletedEventAttributes{
			WorkflowExecutionCompletedEventAttributes: &historypb.WorkflowExecutionCompletedEventAttributes{
				Result:                       result,
				WorkflowTaskCompletedEventId: completedID,
			},
		},
	}
}

func stamp(e *historypb.HistoryEvent, id int64, now time.Time) *historypb.HistoryEvent {
	e.EventId = id
	e.EventTime = timestamppb.New(now)
	return e
}
