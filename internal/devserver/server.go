// Package devserver is an in-memory workflow service for tests. It speaks
// the Temporal frontend request and response types for the calls a worker
// engine makes: start, history, and workflow and activity task polling.
//
// Nothing is persisted, workflow tasks never time out and failed workflow
// tasks are not retried.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	commandpb "go.temporal.io/api/command/v1"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/api/serviceerror"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/fyrsmithlabs/wfharness/internal/logging"
)

// ErrClosed is returned by polls once the server is closed.
var ErrClosed = errors.New("devserver: closed")

// Server is an in-memory workflow service. It is safe for concurrent use.
type Server struct {
	logger   *logging.Logger
	pageSize int

	mu         sync.Mutex
	executions map[string]*execution // by run id
	latest     map[string]string     // workflow id -> newest run id
	wfQueues   map[string][]string   // task queue -> runs with a scheduled workflow task
	actQueues  map[string][]*activityTask
	wfTokens   map[string]*workflowTask
	actTokens  map[string]*activityTask
	timers     []*time.Timer
	changed    chan struct{}
	closed     bool
}

type execution struct {
	workflowID   string
	runID        string
	workflowType string
	taskQueue    string
	requestID    string
	wftTimeout   *durationpb.Duration
	events       []*historypb.HistoryEvent
	running      bool

	// Workflow task bookkeeping. Events produced while a task is in
	// flight are buffered until it finishes.
	wftScheduled int64
	wftStarted   int64
	buffered     []*historypb.HistoryEvent
}

type workflowTask struct {
	runID       string
	scheduledID int64
	startedID   int64
}

type activityTask struct {
	runID       string
	scheduledID int64
	attrs       *historypb.ActivityTaskScheduledEventAttributes
}

// New creates an empty Server.
func New(opts ...Option) *Server {
	s := &Server{
		logger:     logging.NewNop(),
		executions: make(map[string]*execution),
		latest:     make(map[string]string),
		wfQueues:   make(map[string][]string),
		actQueues:  make(map[string][]*activityTask),
		wfTokens:   make(map[string]*workflowTask),
		actTokens:  make(map[string]*activityTask),
		changed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close stops pending timers and unblocks polls. It is idempotent.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.notify()
}

// StartWorkflowExecution starts a run. A running workflow with the same id
// is rejected unless the request id matches the one that started it.
func (s *Server) StartWorkflowExecution(ctx context.Context, in *workflowservice.StartWorkflowExecutionRequest, _ ...grpc.CallOption) (*workflowservice.StartWorkflowExecutionResponse, error) {
	if in.GetWorkflowId() == "" || in.GetTaskQueue().GetName() == "" || in.GetWorkflowType().GetName() == "" {
		return nil, serviceerror.NewInvalidArgument("workflow id, task queue and workflow type are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.executions[s.latest[in.GetWorkflowId()]]; ok && prev.running {
		if in.GetRequestId() != "" && prev.requestID == in.GetRequestId() {
			return &workflowservice.StartWorkflowExecutionResponse{RunId: prev.runID}, nil
		}
		return nil, serviceerror.NewWorkflowExecutionAlreadyStarted(
			fmt.Sprintf("workflow %s is already running", in.GetWorkflowId()), prev.requestID, prev.runID)
	}

	e := &execution{
		workflowID:   in.GetWorkflowId(),
		runID:        uuid.NewString(),
		workflowType: in.GetWorkflowType().GetName(),
		taskQueue:    in.GetTaskQueue().GetName(),
		requestID:    in.GetRequestId(),
		wftTimeout:   in.GetWorkflowTaskTimeout(),
		running:      true,
	}
	e.append(workflowStarted(e.workflowType, e.taskQueue, in.GetInput(), e.wftTimeout, e.runID, in.GetIdentity()))
	s.executions[e.runID] = e
	s.latest[e.workflowID] = e.runID
	s.scheduleWorkflowTask(e)

	s.logger.Debug(ctx, "workflow started",
		zap.String("workflow.id", e.workflowID),
		zap.String("run.id", e.runID),
		zap.String("task_queue", e.taskQueue),
	)
	return &workflowservice.StartWorkflowExecutionResponse{RunId: e.runID}, nil
}

// GetWorkflowExecutionHistory returns a run's history. An empty run id
// selects the newest run of the workflow.
func (s *Server) GetWorkflowExecutionHistory(_ context.Context, in *workflowservice.GetWorkflowExecutionHistoryRequest, _ ...grpc.CallOption) (*workflowservice.GetWorkflowExecutionHistoryResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(in.GetExecution())
	if err != nil {
		return nil, err
	}

	start, end := 0, len(e.events)
	if tok := in.GetNextPageToken(); len(tok) > 0 {
		if start, end, err = parsePageToken(tok); err != nil || end > len(e.events) || start > end {
			return nil, serviceerror.NewInvalidArgument("invalid next page token")
		}
	}
	pageSize := s.pageSize
	if n := int(in.GetMaximumPageSize()); n > 0 && (pageSize == 0 || n < pageSize) {
		pageSize = n
	}
	events, token := page(e.events, start, end, pageSize)
	return &workflowservice.GetWorkflowExecutionHistoryResponse{
		History:       &historypb.History{Events: events},
		NextPageToken: token,
	}, nil
}

// PollWorkflowTaskQueue blocks until a workflow task is scheduled on the
// queue, then starts it.
func (s *Server) PollWorkflowTaskQueue(ctx context.Context, in *workflowservice.PollWorkflowTaskQueueRequest, _ ...grpc.CallOption) (*workflowservice.PollWorkflowTaskQueueResponse, error) {
	name := in.GetTaskQueue().GetName()
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if resp := s.startWorkflowTask(name, in.GetIdentity()); resp != nil {
			s.mu.Unlock()
			return resp, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (s *Server) startWorkflowTask(taskQueue, identity string) *workflowservice.PollWorkflowTaskQueueResponse {
	for len(s.wfQueues[taskQueue]) > 0 {
		runID := s.wfQueues[taskQueue][0]
		s.wfQueues[taskQueue] = s.wfQueues[taskQueue][1:]
		e := s.executions[runID]
		if e == nil || !e.running || e.wftScheduled == 0 || e.wftStarted != 0 {
			continue
		}

		token := uuid.NewString()
		e.wftStarted = e.append(workflowTaskStarted(e.wftScheduled, identity, token)).GetEventId()
		s.wfTokens[token] = &workflowTask{runID: runID, scheduledID: e.wftScheduled, startedID: e.wftStarted}

		events, next := page(e.events, 0, len(e.events), s.pageSize)
		return &workflowservice.PollWorkflowTaskQueueResponse{
			TaskToken:         []byte(token),
			WorkflowExecution: &commonpb.WorkflowExecution{WorkflowId: e.workflowID, RunId: e.runID},
			WorkflowType:      &commonpb.WorkflowType{Name: e.workflowType},
			StartedEventId:    e.wftStarted,
			Attempt:           1,
			History:           &historypb.History{Events: events},
			NextPageToken:     next,
		}
	}
	return nil
}

// RespondWorkflowTaskCompleted records the task's commands.
func (s *Server) RespondWorkflowTaskCompleted(ctx context.Context, in *workflowservice.RespondWorkflowTaskCompletedRequest, _ ...grpc.CallOption) (*workflowservice.RespondWorkflowTaskCompletedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, e, err := s.takeWorkflowTask(in.GetTaskToken())
	if err != nil {
		return nil, err
	}
	if err := validateCommands(in.GetCommands()); err != nil {
		// The task stays in flight so the worker may answer again.
		s.wfTokens[string(in.GetTaskToken())] = task
		return nil, err
	}

	completedID := e.append(workflowTaskCompleted(task.scheduledID, task.startedID, in.GetIdentity())).GetEventId()
	e.wftScheduled, e.wftStarted = 0, 0

	for _, cmd := range in.GetCommands() {
		if !e.running {
			break
		}
		s.applyCommand(e, cmd, completedID)
	}
	s.flush(e)

	s.logger.Debug(ctx, "workflow task completed",
		zap.String("run.id", e.runID),
		zap.Int("commands", len(in.GetCommands())),
		zap.Bool("running", e.running),
	)
	return &workflowservice.RespondWorkflowTaskCompletedResponse{}, nil
}

// RespondWorkflowTaskFailed records a failed workflow task.
func (s *Server) RespondWorkflowTaskFailed(ctx context.Context, in *workflowservice.RespondWorkflowTaskFailedRequest, _ ...grpc.CallOption) (*workflowservice.RespondWorkflowTaskFailedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, e, err := s.takeWorkflowTask(in.GetTaskToken())
	if err != nil {
		return nil, err
	}
	e.append(workflowTaskFailed(task.scheduledID, task.startedID, in.GetCause(), in.GetFailure(), in.GetIdentity()))
	e.wftScheduled, e.wftStarted = 0, 0
	e.buffered = nil

	s.logger.Warn(ctx, "workflow task failed",
		zap.String("run.id", e.runID),
		zap.Stringer("cause", in.GetCause()),
		zap.String("failure", in.GetFailure().GetMessage()),
	)
	return &workflowservice.RespondWorkflowTaskFailedResponse{}, nil
}

func (s *Server) takeWorkflowTask(token []byte) (*workflowTask, *execution, error) {
	task, ok := s.wfTokens[string(token)]
	if !ok {
		return nil, nil, serviceerror.NewNotFound("workflow task not found")
	}
	delete(s.wfTokens, string(token))
	e := s.executions[task.runID]
	if e == nil || !e.running || e.wftStarted != task.startedID {
		return nil, nil, serviceerror.NewNotFound("workflow task not found")
	}
	return task, e, nil
}

func validateCommands(cmds []*commandpb.Command) error {
	for _, cmd := range cmds {
		switch cmd.GetCommandType() {
		case enumspb.COMMAND_TYPE_START_TIMER,
			enumspb.COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK,
			enumspb.COMMAND_TYPE_COMPLETE_WORKFLOW_EXECUTION:
		default:
			return serviceerror.NewInvalidArgument(fmt.Sprintf("unsupported command %s", cmd.GetCommandType()))
		}
	}
	return nil
}

func (s *Server) applyCommand(e *execution, cmd *commandpb.Command, completedID int64) {
	switch cmd.GetCommandType() {
	case enumspb.COMMAND_TYPE_START_TIMER:
		attrs := cmd.GetStartTimerCommandAttributes()
		startedID := e.append(timerStarted(attrs.GetTimerId(), attrs.GetStartToFireTimeout(), completedID)).GetEventId()
		runID, timerID := e.runID, attrs.GetTimerId()
		s.timers = append(s.timers, time.AfterFunc(attrs.GetStartToFireTimeout().AsDuration(), func() {
			s.fireTimer(runID, timerID, startedID)
		}))

	case enumspb.COMMAND_TYPE_SCHEDULE_ACTIVITY_TASK:
		attrs := cmd.GetScheduleActivityTaskCommandAttributes()
		taskQueue := attrs.GetTaskQueue().GetName()
		if taskQueue == "" {
			taskQueue = e.taskQueue
		}
		scheduled := &historypb.ActivityTaskScheduledEventAttributes{
			ActivityId:                   attrs.GetActivityId(),
			ActivityType:                 attrs.GetActivityType(),
			TaskQueue:                    &taskqueuepb.TaskQueue{Name: taskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
			Input:                        attrs.GetInput(),
			ScheduleToCloseTimeout:       attrs.GetScheduleToCloseTimeout(),
			ScheduleToStartTimeout:       attrs.GetScheduleToStartTimeout(),
			StartToCloseTimeout:          attrs.GetStartToCloseTimeout(),
			HeartbeatTimeout:             attrs.GetHeartbeatTimeout(),
			WorkflowTaskCompletedEventId: completedID,
		}
		id := e.append(activityScheduled(scheduled)).GetEventId()
		s.actQueues[taskQueue] = append(s.actQueues[taskQueue], &activityTask{runID: e.runID, scheduledID: id, attrs: scheduled})
		s.notify()

	case enumspb.COMMAND_TYPE_COMPLETE_WORKFLOW_EXECUTION:
		e.append(workflowCompleted(cmd.GetCompleteWorkflowExecutionCommandAttributes().GetResult(), completedID))
		e.running = false
		e.buffered = nil
	}
}

func (s *Server) fireTimer(runID, timerID string, startedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if e := s.executions[runID]; e != nil {
		s.addEvents(e, timerFired(timerID, startedID))
	}
}

// PollActivityTaskQueue blocks until an activity is scheduled on the queue.
func (s *Server) PollActivityTaskQueue(ctx context.Context, in *workflowservice.PollActivityTaskQueueRequest, _ ...grpc.CallOption) (*workflowservice.PollActivityTaskQueueResponse, error) {
	name := in.GetTaskQueue().GetName()
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if resp := s.startActivityTask(name); resp != nil {
			s.mu.Unlock()
			return resp, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (s *Server) startActivityTask(taskQueue string) *workflowservice.PollActivityTaskQueueResponse {
	for len(s.actQueues[taskQueue]) > 0 {
		task := s.actQueues[taskQueue][0]
		s.actQueues[taskQueue] = s.actQueues[taskQueue][1:]
		e := s.executions[task.runID]
		if e == nil || !e.running {
			continue
		}

		token := uuid.NewString()
		s.actTokens[token] = task
		return &workflowservice.PollActivityTaskQueueResponse{
			TaskToken:         []byte(token),
			WorkflowNamespace: "default",
			WorkflowType:      &commonpb.WorkflowType{Name: e.workflowType},
			WorkflowExecution: &commonpb.WorkflowExecution{WorkflowId: e.workflowID, RunId: e.runID},
			ActivityType:      task.attrs.GetActivityType(),
			ActivityId:        task.attrs.GetActivityId(),
			Input:             task.attrs.GetInput(),
			Attempt:           1,
		}
	}
	return nil
}

// RespondActivityTaskCompleted records an activity result.
func (s *Server) RespondActivityTaskCompleted(_ context.Context, in *workflowservice.RespondActivityTaskCompletedRequest, _ ...grpc.CallOption) (*workflowservice.RespondActivityTaskCompletedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, e, err := s.takeActivityTask(in.GetTaskToken())
	if err != nil {
		return nil, err
	}
	started := activityStarted(task.scheduledID, in.GetIdentity(), string(in.GetTaskToken()), 1)
	s.addEvents(e, started, activityCompleted(task.scheduledID, 0, in.GetResult(), in.GetIdentity()))
	return &workflowservice.RespondActivityTaskCompletedResponse{}, nil
}

// RespondActivityTaskFailed records an activity failure.
func (s *Server) RespondActivityTaskFailed(_ context.Context, in *workflowservice.RespondActivityTaskFailedRequest, _ ...grpc.CallOption) (*workflowservice.RespondActivityTaskFailedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, e, err := s.takeActivityTask(in.GetTaskToken())
	if err != nil {
		return nil, err
	}
	started := activityStarted(task.scheduledID, in.GetIdentity(), string(in.GetTaskToken()), 1)
	s.addEvents(e, started, activityFailed(task.scheduledID, 0, in.GetFailure(), in.GetIdentity()))
	return &workflowservice.RespondActivityTaskFailedResponse{}, nil
}

func (s *Server) takeActivityTask(token []byte) (*activityTask, *execution, error) {
	task, ok := s.actTokens[string(token)]
	if !ok {
		return nil, nil, serviceerror.NewNotFound("activity task not found")
	}
	delete(s.actTokens, string(token))
	e := s.executions[task.runID]
	if e == nil || !e.running {
		return nil, nil, serviceerror.NewNotFound("workflow execution already completed")
	}
	return task, e, nil
}

// addEvents records events produced outside a workflow task and makes sure
// a workflow task will deliver them.
func (s *Server) addEvents(e *execution, events ...*historypb.HistoryEvent) {
	if !e.running {
		return
	}
	if e.wftStarted != 0 {
		e.buffered = append(e.buffered, events...)
		return
	}
	for _, ev := range events {
		ev := e.append(ev)
		if ev.GetEventType() == enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED {
			ev.GetActivityTaskCompletedEventAttributes().StartedEventId = ev.GetEventId() - 1
		}
		if ev.GetEventType() == enumspb.EVENT_TYPE_ACTIVITY_TASK_FAILED {
			ev.GetActivityTaskFailedEventAttributes().StartedEventId = ev.GetEventId() - 1
		}
	}
	s.scheduleWorkflowTask(e)
}

// flush writes events buffered during the finished workflow task.
func (s *Server) flush(e *execution) {
	if !e.running || len(e.buffered) == 0 {
		return
	}
	events := e.buffered
	e.buffered = nil
	s.addEvents(e, events...)
}

func (s *Server) scheduleWorkflowTask(e *execution) {
	if e.wftScheduled != 0 {
		return
	}
	e.wftScheduled = e.append(workflowTaskScheduled(e.taskQueue, e.wftTimeout)).GetEventId()
	s.wfQueues[e.taskQueue] = append(s.wfQueues[e.taskQueue], e.runID)
	s.notify()
}

// notify wakes every blocked poll. Caller holds s.mu.
func (s *Server) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) lookup(exec *commonpb.WorkflowExecution) (*execution, error) {
	runID := exec.GetRunId()
	if runID == "" {
		runID = s.latest[exec.GetWorkflowId()]
	}
	e, ok := s.executions[runID]
	if !ok || (exec.GetWorkflowId() != "" && e.workflowID != exec.GetWorkflowId()) {
		return nil, serviceerror.NewNotFound(fmt.Sprintf("workflow execution %s/%s not found", exec.GetWorkflowId(), exec.GetRunId()))
	}
	return e, nil
}

func (e *execution) append(ev *historypb.HistoryEvent) *historypb.HistoryEvent {
	stamp(ev, int64(len(e.events))+1, time.Now())
	e.events = append(e.events, ev)
	return ev
}

// page returns events[start:end] limited to size, with a token for the
// remainder. The token pins end so later events do not leak into it.
func page(events []*historypb.HistoryEvent, start, end, size int) ([]*historypb.HistoryEvent, []byte) {
	stop := end
	if size > 0 && start+size < end {
		stop = start + size
	}
	out := append([]*historypb.HistoryEvent(nil), events[start:stop]...)
	if stop == end {
		return out, nil
	}
	return out, []byte(fmt.Sprintf("%d:%d", stop, end))
}

func parsePageToken(tok []byte) (int, int, error) {
	from, to, ok := strings.Cut(string(tok), ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed token")
	}
	start, err := strconv.Atoi(from)
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.Atoi(to)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}
