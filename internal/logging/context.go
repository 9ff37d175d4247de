// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Execution identifies the workflow run a log line belongs to.
type Execution struct {
	TaskQueue  string
	WorkflowID string
	RunID      string
}

type executionCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if exec, ok := ctx.Value(executionCtxKey{}).(Execution); ok {
		if exec.TaskQueue != "" {
			fields = append(fields, zap.String("task_queue", exec.TaskQueue))
		}
		if exec.WorkflowID != "" {
			fields = append(fields, zap.String("workflow.id", exec.WorkflowID))
		}
		if exec.RunID != "" {
			fields = append(fields, zap.String("run.id", exec.RunID))
		}
	}

	return fields
}

// WithWorkflow adds workflow correlation to context. Empty fields inherit
// from any execution already stored in ctx.
func WithWorkflow(ctx context.Context, exec Execution) context.Context {
	if prev, ok := ctx.Value(executionCtxKey{}).(Execution); ok {
		if exec.TaskQueue == "" {
			exec.TaskQueue = prev.TaskQueue
		}
		if exec.WorkflowID == "" {
			exec.WorkflowID = prev.WorkflowID
		}
		if exec.RunID == "" {
			exec.RunID = prev.RunID
		}
	}
	return context.WithValue(ctx, executionCtxKey{}, exec)
}

// WorkflowFromContext returns the execution stored in ctx, if any.
func WorkflowFromContext(ctx context.Context) (Execution, bool) {
	exec, ok := ctx.Value(executionCtxKey{}).(Execution)
	return exec, ok
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
