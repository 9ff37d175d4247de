// Package logging provides structured logging for the workflow test harness.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Automatic context field injection (trace_id, task_queue, workflow.id, run.id)
//   - Secret redaction for API keys passed to the workflow service
//   - An adapter so the Temporal client logs through the same core
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with workflow correlation:
//
//	ctx = logging.WithWorkflow(ctx, logging.Execution{TaskQueue: tq, WorkflowID: id, RunID: run})
//	logger.Info(ctx, "activation completed", zap.Int("commands", n))
//
// # Log Filters
//
// The engine accepts filters in the "target=LEVEL" form used by core SDKs
// ("temporal_sdk_core=INFO") as well as plain level names. See ParseFilter.
//
// # Testing
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. Child loggers (With, Named) are
// independent and do not affect parent or siblings.
package logging
