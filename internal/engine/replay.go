package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	replayNamespace  = "default"
	replayWorkflowID = "replay-workflow"
)

var errReplayActivity = errors.New("replay engines do not run activities")

// replayService serves histories loaded with MakeReplayWorker as workflow
// tasks. Responses are accepted and dropped.
type replayService struct {
	mu        sync.Mutex
	queues    map[string][]*workflowservice.PollWorkflowTaskQueueResponse
	histories map[string]*historypb.History
	changed   chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func newReplayService() *replayService {
	return &replayService{
		queues:    make(map[string][]*workflowservice.PollWorkflowTaskQueueResponse),
		histories: make(map[string]*historypb.History),
		changed:   make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (s *replayService) enqueue(taskQueue string, task *workflowservice.PollWorkflowTaskQueueResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[taskQueue] = append(s.queues[taskQueue], task)
	s.histories[task.GetWorkflowExecution().GetRunId()] = task.GetHistory()
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *replayService) hasRun(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.histories[runID]
	return ok
}

func (s *replayService) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *replayService) PollWorkflowTaskQueue(ctx context.Context, in *workflowservice.PollWorkflowTaskQueueRequest, _ ...grpc.CallOption) (*workflowservice.PollWorkflowTaskQueueResponse, error) {
	name := in.GetTaskQueue().GetName()
	for {
		s.mu.Lock()
		if q := s.queues[name]; len(q) > 0 {
			task := q[0]
			s.queues[name] = q[1:]
			s.mu.Unlock()
			return task, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, ErrShutdown
		case <-changed:
		}
	}
}

func (s *replayService) RespondWorkflowTaskCompleted(context.Context, *workflowservice.RespondWorkflowTaskCompletedRequest, ...grpc.CallOption) (*workflowservice.RespondWorkflowTaskCompletedResponse, error) {
	return &workflowservice.RespondWorkflowTaskCompletedResponse{}, nil
}

func (s *replayService) RespondWorkflowTaskFailed(context.Context, *workflowservice.RespondWorkflowTaskFailedRequest, ...grpc.CallOption) (*workflowservice.RespondWorkflowTaskFailedResponse, error) {
	return &workflowservice.RespondWorkflowTaskFailedResponse{}, nil
}

func (s *replayService) StartWorkflowExecution(context.Context, *workflowservice.StartWorkflowExecutionRequest, ...grpc.CallOption) (*workflowservice.StartWorkflowExecutionResponse, error) {
	return nil, ErrReplayOnly
}

func (s *replayService) GetWorkflowExecutionHistory(_ context.Context, in *workflowservice.GetWorkflowExecutionHistoryRequest, _ ...grpc.CallOption) (*workflowservice.GetWorkflowExecutionHistoryResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[in.GetExecution().GetRunId()]
	if !ok {
		return nil, serviceerror.NewNotFound(fmt.Sprintf("no replay history for run %s", in.GetExecution().GetRunId()))
	}
	return &workflowservice.GetWorkflowExecutionHistoryResponse{History: h}, nil
}

func (s *replayService) PollActivityTaskQueue(ctx context.Context, _ *workflowservice.PollActivityTaskQueueRequest, _ ...grpc.CallOption) (*workflowservice.PollActivityTaskQueueResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrShutdown
	}
}

func (s *replayService) RespondActivityTaskCompleted(context.Context, *workflowservice.RespondActivityTaskCompletedRequest, ...grpc.CallOption) (*workflowservice.RespondActivityTaskCompletedResponse, error) {
	return nil, errReplayActivity
}

func (s *replayService) RespondActivityTaskFailed(context.Context, *workflowservice.RespondActivityTaskFailedRequest, ...grpc.CallOption) (*workflowservice.RespondActivityTaskFailedResponse, error) {
	return nil, errReplayActivity
}

// MakeReplayWorker registers a worker for cfg.TaskQueue, if there is none
// yet, and queues h to be replayed on it. Only replay engines accept it.
func (c *Core) MakeReplayWorker(cfg WorkerConfig, h *historypb.History) error {
	if !c.IsReplay() {
		return fmt.Errorf("make replay worker: %w", ErrReplayOnly)
	}
	events := h.GetEvents()
	if len(events) == 0 || events[0].GetEventType() != enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED {
		return fmt.Errorf("replay history must begin with %s", enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED)
	}

	if _, ok := c.WorkerConfig(cfg.TaskQueue); !ok {
		if err := c.RegisterWorker(cfg); err != nil && !errors.Is(err, ErrWorkerExists) {
			return err
		}
	}

	attrs := events[0].GetWorkflowExecutionStartedEventAttributes()
	runID := attrs.GetOriginalExecutionRunId()
	if runID == "" || c.replay.hasRun(runID) {
		runID = uuid.NewString()
	}

	c.replay.enqueue(cfg.TaskQueue, &workflowservice.PollWorkflowTaskQueueResponse{
		TaskToken:         []byte(uuid.NewString()),
		WorkflowExecution: &commonpb.WorkflowExecution{WorkflowId: replayWorkflowID, RunId: runID},
		WorkflowType:      attrs.GetWorkflowType(),
		History:           h,
	})
	c.logger.Debug(context.Background(), "replay history queued",
		zap.String("task_queue", cfg.TaskQueue),
		zap.String("run.id", runID),
		zap.Int("events", len(events)),
	)
	return nil
}
