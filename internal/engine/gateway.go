package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/api/serviceerror"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	"go.temporal.io/api/workflowservice/v1"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Gateway starts workflows and reads history on behalf of a Core.
type Gateway struct {
	svc       WorkflowService
	namespace string
	identity  string
	tracer    trace.Tracer
}

func newGateway(svc WorkflowService, namespace, identity string, tracer trace.Tracer) *Gateway {
	return &Gateway{
		svc:       svc,
		namespace: namespace,
		identity:  identity,
		tracer:    tracer,
	}
}

// Namespace returns the namespace every request targets.
func (g *Gateway) Namespace() string {
	return g.namespace
}

// Service returns the underlying workflow service.
func (g *Gateway) Service() WorkflowService {
	return g.svc
}

// StartWorkflow starts workflowType on taskQueue and returns the run id. A
// zero wftTimeout leaves the service default in place.
func (g *Gateway) StartWorkflow(
	ctx context.Context,
	input *commonpb.Payloads,
	taskQueue, workflowID, workflowType string,
	wftTimeout time.Duration,
) (string, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.StartWorkflow", trace.WithAttributes(
		attribute.String("task_queue", taskQueue),
		attribute.String("workflow.id", workflowID),
		attribute.String("workflow.type", workflowType),
	))
	defer span.End()

	req := &workflowservice.StartWorkflowExecutionRequest{
		Namespace:    g.namespace,
		WorkflowId:   workflowID,
		WorkflowType: &commonpb.WorkflowType{Name: workflowType},
		TaskQueue:    &taskqueuepb.TaskQueue{Name: taskQueue, Kind: enumspb.TASK_QUEUE_KIND_NORMAL},
		Input:        input,
		Identity:     g.identity,
		RequestId:    uuid.NewString(),
	}
	if wftTimeout > 0 {
		req.WorkflowTaskTimeout = durationpb.New(wftTimeout)
	}

	resp, err := g.svc.StartWorkflowExecution(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return "", fmt.Errorf("starting workflow %s: %w", workflowID, err)
	}
	span.SetAttributes(attribute.String("run.id", resp.GetRunId()))
	return resp.GetRunId(), nil
}

// GetWorkflowExecutionHistory returns the complete history of a run,
// following page tokens. An empty runID selects the latest run.
func (g *Gateway) GetWorkflowExecutionHistory(ctx context.Context, workflowID, runID string) (*historypb.History, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.GetWorkflowExecutionHistory", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("run.id", runID),
	))
	defer span.End()

	history, err := fetchHistory(ctx, g.svc, g.namespace, &commonpb.WorkflowExecution{
		WorkflowId: workflowID,
		RunId:      runID,
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("history.events", len(history.GetEvents())))
	return history, nil
}

// fetchHistory pages through a run's history starting at pageToken.
func fetchHistory(
	ctx context.Context,
	svc WorkflowService,
	namespace string,
	exec *commonpb.WorkflowExecution,
	pageToken []byte,
) (*historypb.History, error) {
	history := &historypb.History{}
	for {
		resp, err := svc.GetWorkflowExecutionHistory(ctx, &workflowservice.GetWorkflowExecutionHistoryRequest{
			Namespace:     namespace,
			Execution:     exec,
			NextPageToken: pageToken,
		})
		if err != nil {
			var notFound *serviceerror.NotFound
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("%w: workflow %s run %s", ErrHistoryNotFound, exec.GetWorkflowId(), exec.GetRunId())
			}
			return nil, fmt.Errorf("fetching history for workflow %s: %w", exec.GetWorkflowId(), err)
		}
		history.Events = append(history.Events, resp.GetHistory().GetEvents()...)
		pageToken = resp.GetNextPageToken()
		if len(pageToken) == 0 {
			break
		}
	}
	if len(history.Events) == 0 {
		return nil, fmt.Errorf("%w: workflow %s run %s", ErrHistoryNotFound, exec.GetWorkflowId(), exec.GetRunId())
	}
	return history, nil
}
