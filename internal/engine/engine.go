package engine

import (
	"context"

	"github.com/fyrsmithlabs/wfharness/internal/devserver"
	"go.temporal.io/api/workflowservice/v1"
	"google.golang.org/grpc"
)

// Engine is the surface workers and test harnesses drive.
type Engine interface {
	// RegisterWorker starts serving cfg.TaskQueue. The config is copied.
	RegisterWorker(cfg WorkerConfig) error

	// Gateway returns the client used to start workflows and fetch history.
	Gateway() *Gateway

	// PollWorkflowActivation blocks until an activation is ready for the
	// task queue.
	PollWorkflowActivation(ctx context.Context, taskQueue string) (*Activation, error)

	// CompleteWorkflowActivation submits the worker's result for the run's
	// outstanding activation.
	CompleteWorkflowActivation(ctx context.Context, completion *ActivationCompletion) error

	// PollActivityTask blocks until an activity task is available.
	PollActivityTask(ctx context.Context, taskQueue string) (*ActivityTask, error)

	// CompleteActivityTask reports an activity result or failure.
	CompleteActivityTask(ctx context.Context, completion *ActivityTaskCompletion) error

	// Shutdown unblocks pollers and releases resources. It is idempotent.
	Shutdown(ctx context.Context) error
}

// WorkflowService is the part of the Temporal frontend API the engine uses.
// workflowservice.WorkflowServiceClient satisfies it.
type WorkflowService interface {
	StartWorkflowExecution(ctx context.Context, in *workflowservice.StartWorkflowExecutionRequest, opts ...grpc.CallOption) (*workflowservice.StartWorkflowExecutionResponse, error)
	GetWorkflowExecutionHistory(ctx context.Context, in *workflowservice.GetWorkflowExecutionHistoryRequest, opts ...grpc.CallOption) (*workflowservice.GetWorkflowExecutionHistoryResponse, error)
	PollWorkflowTaskQueue(ctx context.Context, in *workflowservice.PollWorkflowTaskQueueRequest, opts ...grpc.CallOption) (*workflowservice.PollWorkflowTaskQueueResponse, error)
	RespondWorkflowTaskCompleted(ctx context.Context, in *workflowservice.RespondWorkflowTaskCompletedRequest, opts ...grpc.CallOption) (*workflowservice.RespondWorkflowTaskCompletedResponse, error)
	RespondWorkflowTaskFailed(ctx context.Context, in *workflowservice.RespondWorkflowTaskFailedRequest, opts ...grpc.CallOption) (*workflowservice.RespondWorkflowTaskFailedResponse, error)
	PollActivityTaskQueue(ctx context.Context, in *workflowservice.PollActivityTaskQueueRequest, opts ...grpc.CallOption) (*workflowservice.PollActivityTaskQueueResponse, error)
	RespondActivityTaskCompleted(ctx context.Context, in *workflowservice.RespondActivityTaskCompletedRequest, opts ...grpc.CallOption) (*workflowservice.RespondActivityTaskCompletedResponse, error)
	RespondActivityTaskFailed(ctx context.Context, in *workflowservice.RespondActivityTaskFailedRequest, opts ...grpc.CallOption) (*workflowservice.RespondActivityTaskFailedResponse, error)
}

var (
	_ Engine          = (*Core)(nil)
	_ WorkflowService = (workflowservice.WorkflowServiceClient)(nil)
	_ WorkflowService = (*replayService)(nil)
	_ WorkflowService = (*devserver.Server)(nil)
)
