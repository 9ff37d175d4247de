package devserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commandpb "go.temporal.io/api/command/v1"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	failurepb "go.temporal.io/api/failure/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/api/serviceerror"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.uber.org/zap/zapcore"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/fyrsmithlabs/wfharness/internal/logging"
)

const testQueue = "devserver-test"

func start(t *testing.T, s *Server, workflowID string) string {
	t.Helper()
	resp, err := s.StartWorkflowExecution(context.Background(), &workflowservice.StartWorkflowExecutionRequest{
		Namespace:    "default",
		WorkflowId:   workflowID,
		WorkflowType: &commonpb.WorkflowType{Name: testQueue},
		TaskQueue:    &taskqueuepb.TaskQueue{Name: testQueue},
		RequestId:    workflowID + "-request",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.GetRunId())
	return resp.GetRunId()
}

func pollWorkflow(t *testing.T, s *Server) *workflowservice.PollWorkflowTaskQueueResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := s.PollWorkflowTaskQueue(ctx, &workflowservice.PollWorkflowTaskQueueRequest{
		TaskQueue: &taskqueuepb.TaskQueue{Name: testQueue},
		Identity:  "test-worker",
	})
	require.NoError(t, err)
	return resp
}

func respond(t *testing.T, s *Server, token []byte, cmds ...*commandpb.Command) {
	t.Helper()
	_, err := s.RespondWorkflowTaskCompleted(context.Background(), &workflowservice.RespondWorkflowTaskCompletedRequest{
		TaskToken: token,
		Commands:  cmds,
		Identity:  "test-worker",
	})
	require.NoError(t, err)
}

func eventTypes(events []*historypb.HistoryEvent) []enumspb.EventType {
	out := make([]enumspb.EventType, len(events))
	for i, e := range events {
		out[i] = e.GetEventType()
	}
	return out
}

func history(t *testing.T, s *Server, workflowID, runID string) []*historypb.HistoryEvent {
	t.Helper()
	resp, err := s.GetWorkflowExecutionHistory(context.Background(), &workflowservice.GetWorkflowExecutionHistoryRequest{
		Execution: &commonpb.WorkflowExecution{WorkflowId: workflowID, RunId: runID},
	})
	require.NoError(t, err)
	return resp.GetHistory().GetEvents()
}

func completeCmd() *commandpb.Command {
	return &commandpb.Command{
		CommandType: enumspb.COMMAND_TYPE_COMPLETE_WORKFLOW_EXECUTION,
		Attributes: &commandpb.Command_CompleteWorkflowExecutionCommandAttributes{
			CompleteWorkflowExecutionCommandAttributes: &commandpb.CompleteWorkflowExecutionCommandAttributes{},
		},
	}
}

func timerCmd(id string, d time.Duration) *commandpb.Command {
	return &commandpb.Command{
		CommandType: enumspb.COMMAND_TYPE_START_TIMER,
		Attributes: &commandpb.Command_StartTimerCommandAttributes{
			StartTimerCommandAttributes: &commandpb.StartTimerCommandAttributes{
				TimerId:            id,
				StartToFireTimeout: durationpb.New(d),
			},
		},
	}
}

func activityCmd(id string) *commandpb.Command {
	return &commandpb.Command{
		CommandType: enumspb.COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK,
		Attributes: &commandpb.Command_ScheduleActivityTaskCommandAttributes{
			ScheduleActivityTaskCommandAttributes: &commandpb.ScheduleActivityTaskCommandAttributes{
				ActivityId:   id,
				ActivityType: &commonpb.ActivityType{Name: "test_activity"},
			},
		},
	}
}

func TestServer_StartPollComplete(t *testing.T) {
	s := New(WithLogger(logging.NewNop()))
	defer s.Close()
	runID := start(t, s, "wf-1")

	task := pollWorkflow(t, s)
	assert.Equal(t, runID, task.GetWorkflowExecution().GetRunId())
	assert.Equal(t, "wf-1", task.GetWorkflowExecution().GetWorkflowId())
	assert.Equal(t, testQueue, task.GetWorkflowType().GetName())
	assert.Equal(t, []enumspb.EventType{
		enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED,
	}, eventTypes(task.GetHistory().GetEvents()))
	assert.Equal(t, int64(3), task.GetStartedEventId())

	respond(t, s, task.GetTaskToken(), completeCmd())

	events := history(t, s, "wf-1", runID)
	assert.Equal(t, []enumspb.EventType{
		enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_COMPLETED,
		enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED,
	}, eventTypes(events))
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.GetEventId())
		assert.NotNil(t, e.GetEventTime())
	}

	// The token is spent.
	_, err := s.RespondWorkflowTaskCompleted(context.Background(), &workflowservice.RespondWorkflowTaskCompletedRequest{
		TaskToken: task.GetTaskToken(),
	})
	var notFound *serviceerror.NotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestServer_DuplicateStart(t *testing.T) {
	s := New()
	defer s.Close()
	runID := start(t, s, "dup")

	_, err := s.StartWorkflowExecution(context.Background(), &workflowservice.StartWorkflowExecutionRequest{
		WorkflowId:   "dup",
		WorkflowType: &commonpb.WorkflowType{Name: testQueue},
		TaskQueue:    &taskqueuepb.TaskQueue{Name: testQueue},
		RequestId:    "another-request",
	})
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	require.ErrorAs(t, err, &started)
	assert.Equal(t, runID, started.RunId)

	// Retrying the original request is idempotent.
	again := start(t, s, "dup")
	assert.Equal(t, runID, again)
}

func TestServer_StartAfterCompletion(t *testing.T) {
	s := New()
	defer s.Close()
	first := start(t, s, "reuse")
	respond(t, s, pollWorkflow(t, s).GetTaskToken(), completeCmd())

	resp, err := s.StartWorkflowExecution(context.Background(), &workflowservice.StartWorkflowExecutionRequest{
		WorkflowId:   "reuse",
		WorkflowType: &commonpb.WorkflowType{Name: testQueue},
		TaskQueue:    &taskqueuepb.TaskQueue{Name: testQueue},
		RequestId:    "second",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, resp.GetRunId())

	// An empty run id selects the newest run.
	events := history(t, s, "reuse", "")
	assert.Len(t, events, 2)
}

func TestServer_InvalidStart(t *testing.T) {
	s := New()
	defer s.Close()
	_, err := s.StartWorkflowExecution(context.Background(), &workflowservice.StartWorkflowExecutionRequest{WorkflowId: "x"})
	var invalid *serviceerror.InvalidArgument
	assert.ErrorAs(t, err, &invalid)
}

func TestServer_HistoryNotFound(t *testing.T) {
	s := New()
	defer s.Close()
	_, err := s.GetWorkflowExecutionHistory(context.Background(), &workflowservice.GetWorkflowExecutionHistoryRequest{
		Execution: &commonpb.WorkflowExecution{WorkflowId: "nope", RunId: "missing"},
	})
	var notFound *serviceerror.NotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestServer_TimerFires(t *testing.T) {
	s := New()
	defer s.Close()
	start(t, s, "timer")

	respond(t, s, pollWorkflow(t, s).GetTaskToken(), timerCmd("1", time.Millisecond))

	task := pollWorkflow(t, s)
	events := task.GetHistory().GetEvents()
	assert.Equal(t, []enumspb.EventType{
		enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_COMPLETED,
		enumspb.EVENT_TYPE_TIMER_STARTED,
		enumspb.EVENT_TYPE_TIMER_FIRED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED,
	}, eventTypes(events))

	fired := events[5].GetTimerFiredEventAttributes()
	assert.Equal(t, "1", fired.GetTimerId())
	assert.Equal(t, int64(5), fired.GetStartedEventId())
}

func TestServer_EventsBufferedDuringWorkflowTask(t *testing.T) {
	s := New()
	defer s.Close()
	start(t, s, "buffer")
	respond(t, s, pollWorkflow(t, s).GetTaskToken(), activityCmd("a1"), activityCmd("a2"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pollActivity := func() *workflowservice.PollActivityTaskQueueResponse {
		resp, err := s.PollActivityTaskQueue(ctx, &workflowservice.PollActivityTaskQueueRequest{
			TaskQueue: &taskqueuepb.TaskQueue{Name: testQueue},
		})
		require.NoError(t, err)
		return resp
	}
	first, second := pollActivity(), pollActivity()
	assert.Equal(t, "a1", first.GetActivityId())
	assert.Equal(t, "a2", second.GetActivityId())

	_, err := s.RespondActivityTaskCompleted(ctx, &workflowservice.RespondActivityTaskCompletedRequest{TaskToken: first.GetTaskToken()})
	require.NoError(t, err)
	task := pollWorkflow(t, s)

	// The second result arrives while the workflow task is in flight.
	_, err = s.RespondActivityTaskCompleted(ctx, &workflowservice.RespondActivityTaskCompletedRequest{TaskToken: second.GetTaskToken()})
	require.NoError(t, err)
	events := history(t, s, "buffer", "")
	assert.Equal(t, enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED, events[len(events)-1].GetEventType())

	respond(t, s, task.GetTaskToken())
	events = history(t, s, "buffer", "")
	assert.Equal(t, []enumspb.EventType{
		enumspb.EVENT_TYPE_WORKFLOW_TASK_COMPLETED,
		enumspb.EVENT_TYPE_ACTIVITY_TASK_STARTED,
		enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED,
		enumspb.EVENT_TYPE_WORKFLOW_TASK_SCHEDULED,
	}, eventTypes(events[len(events)-4:]))
	completed := events[len(events)-2].GetActivityTaskCompletedEventAttributes()
	assert.Equal(t, events[len(events)-3].GetEventId(), completed.GetStartedEventId())
}

func TestServer_ActivityFailure(t *testing.T) {
	s := New()
	defer s.Close()
	start(t, s, "act-fail")
	respond(t, s, pollWorkflow(t, s).GetTaskToken(), activityCmd("a1"))

	ctx := context.Background()
	act, err := s.PollActivityTaskQueue(ctx, &workflowservice.PollActivityTaskQueueRequest{
		TaskQueue: &taskqueuepb.TaskQueue{Name: testQueue},
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", act.GetActivityId())
	assert.Equal(t, "test_activity", act.GetActivityType().GetName())

	_, err = s.RespondActivityTaskFailed(ctx, &workflowservice.RespondActivityTaskFailedRequest{
		TaskToken: act.GetTaskToken(),
		Failure:   &failurepb.Failure{Message: "boom"},
	})
	require.NoError(t, err)

	events := pollWorkflow(t, s).GetHistory().GetEvents()
	failed := events[len(events)-3]
	require.Equal(t, enumspb.EVENT_TYPE_ACTIVITY_TASK_FAILED, failed.GetEventType())
	attrs := failed.GetActivityTaskFailedEventAttributes()
	assert.Equal(t, "boom", attrs.GetFailure().GetMessage())
	assert.Equal(t, int64(5), attrs.GetScheduledEventId())
	assert.Equal(t, failed.GetEventId()-1, attrs.GetStartedEventId())

	_, err = s.RespondActivityTaskCompleted(ctx, &workflowservice.RespondActivityTaskCompletedRequest{TaskToken: act.GetTaskToken()})
	var notFound *serviceerror.NotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestServer_WorkflowTaskFailed(t *testing.T) {
	s := New()
	defer s.Close()
	runID := start(t, s, "wft-fail")
	task := pollWorkflow(t, s)

	_, err := s.RespondWorkflowTaskFailed(context.Background(), &workflowservice.RespondWorkflowTaskFailedRequest{
		TaskToken: task.GetTaskToken(),
		Cause:     enumspb.WORKFLOW_TASK_FAILED_CAUSE_NON_DETERMINISTIC_ERROR,
		Failure:   &failurepb.Failure{Message: "mismatch"},
	})
	require.NoError(t, err)

	events := history(t, s, "wft-fail", runID)
	last := events[len(events)-1]
	require.Equal(t, enumspb.EVENT_TYPE_WORKFLOW_TASK_FAILED, last.GetEventType())
	assert.Equal(t, enumspb.WORKFLOW_TASK_FAILED_CAUSE_NON_DETERMINISTIC_ERROR, last.GetWorkflowTaskFailedEventAttributes().GetCause())

	// Failed tasks are not retried.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.PollWorkflowTaskQueue(ctx, &workflowservice.PollWorkflowTaskQueueRequest{
		TaskQueue: &taskqueuepb.TaskQueue{Name: testQueue},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServer_UnsupportedCommand(t *testing.T) {
	s := New()
	defer s.Close()
	start(t, s, "bad-cmd")
	task := pollWorkflow(t, s)

	_, err := s.RespondWorkflowTaskCompleted(context.Background(), &workflowservice.RespondWorkflowTaskCompletedRequest{
		TaskToken: task.GetTaskToken(),
		Commands:  []*commandpb.Command{{CommandType: enumspb.COMMAND_TYPE_CANCEL_TIMER}},
	})
	var invalid *serviceerror.InvalidArgument
	require.ErrorAs(t, err, &invalid)

	// The task is still open.
	respond(t, s, task.GetTaskToken(), completeCmd())
}

func TestServer_HistoryPaging(t *testing.T) {
	s := New(WithHistoryPageSize(2))
	defer s.Close()
	runID := start(t, s, "paged")

	task := pollWorkflow(t, s)
	assert.Len(t, task.GetHistory().GetEvents(), 2)
	require.NotEmpty(t, task.GetNextPageToken())

	respond(t, s, task.GetTaskToken(), timerCmd("1", time.Hour))

	// The poll's token stops at the started event even though history grew.
	resp, err := s.GetWorkflowExecutionHistory(context.Background(), &workflowservice.GetWorkflowExecutionHistoryRequest{
		Execution:     task.GetWorkflowExecution(),
		NextPageToken: task.GetNextPageToken(),
	})
	require.NoError(t, err)
	assert.Equal(t, []enumspb.EventType{enumspb.EVENT_TYPE_WORKFLOW_TASK_STARTED}, eventTypes(resp.GetHistory().GetEvents()))
	assert.Empty(t, resp.GetNextPageToken())

	var all []*historypb.HistoryEvent
	var token []byte
	for {
		resp, err := s.GetWorkflowExecutionHistory(context.Background(), &workflowservice.GetWorkflowExecutionHistoryRequest{
			Execution:     &commonpb.WorkflowExecution{WorkflowId: "paged", RunId: runID},
			NextPageToken: token,
		})
		require.NoError(t, err)
		all = append(all, resp.GetHistory().GetEvents()...)
		if token = resp.GetNextPageToken(); len(token) == 0 {
			break
		}
	}
	assert.Len(t, all, 5)

	_, err = s.GetWorkflowExecutionHistory(context.Background(), &workflowservice.GetWorkflowExecutionHistoryRequest{
		Execution:     &commonpb.WorkflowExecution{WorkflowId: "paged", RunId: runID},
		NextPageToken: []byte("garbage"),
	})
	var invalid *serviceerror.InvalidArgument
	assert.ErrorAs(t, err, &invalid)
}

func TestServer_CloseUnblocksPolls(t *testing.T) {
	s := New()
	errs := make(chan error, 2)
	go func() {
		_, err := s.PollWorkflowTaskQueue(context.Background(), &workflowservice.PollWorkflowTaskQueueRequest{
			TaskQueue: &taskqueuepb.TaskQueue{Name: testQueue},
		})
		errs <- err
	}()
	go func() {
		_, err := s.PollActivityTaskQueue(context.Background(), &workflowservice.PollActivityTaskQueueRequest{
			TaskQueue: &taskqueuepb.TaskQueue{Name: testQueue},
		})
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()
	s.Close()

	for range 2 {
		select {
		case err := <-errs:
			assert.True(t, errors.Is(err, ErrClosed))
		case <-time.After(5 * time.Second):
			t.Fatal("poll did not return after Close")
		}
	}
}

func TestServer_LogsThroughLogger(t *testing.T) {
	logger := logging.NewTestLogger()
	s := New(WithLogger(logger.Logger))
	defer s.Close()
	start(t, s, "logged")
	logger.AssertLogged(t, zapcore.DebugLevel, "workflow started")
}
