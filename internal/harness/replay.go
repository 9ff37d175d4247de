package harness

import (
	"context"
	"fmt"

	historypb "go.temporal.io/api/history/v1"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wfharness/internal/engine"
	"github.com/fyrsmithlabs/wfharness/internal/worker"
)

const instrumentationName = "github.com/fyrsmithlabs/wfharness/internal/harness"

// FetchHistoryAndReplay fetches the history of workflowID/runID through the
// Starter's engine, creating it if needed, and replays it on w. The worker's
// engine is swapped for a replay engine holding only that history and the
// expected run count rises by one. Replay errors wrap ErrReplayFailed.
func (s *Starter) FetchHistoryAndReplay(ctx context.Context, workflowID, runID string, w *worker.Worker) error {
	eng, err := s.Engine(ctx)
	if err != nil {
		return err
	}
	history, err := eng.Gateway().GetWorkflowExecutionHistory(ctx, workflowID, runID)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}

	tel := s.initOpts.Telemetry
	tel.PrometheusBindAddress = ""
	replay, err := initReplayPreloaded(tel, w.TaskQueue(), history, s.sharedOptions()...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = replay.Shutdown(ctx)
		return ErrAlreadyShutdown
	}
	s.replays = append(s.replays, replay)
	s.mu.Unlock()

	w.SwapEngine(replay)
	w.IncrExpectedRunCount(1)
	s.log.Debug(ctx, "replaying history",
		zap.String("workflow.id", workflowID),
		zap.String("run.id", runID),
		zap.Int("events", len(history.GetEvents())),
	)
	if err := w.RunUntilDone(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrReplayFailed, err)
	}
	return nil
}

// InitReplayEnginePreloaded returns a replay engine that serves exactly
// history on taskQueue. It serves no metrics endpoint.
func InitReplayEnginePreloaded(taskQueue string, history *historypb.History, opts ...engine.Option) (*engine.Core, error) {
	return initReplayPreloaded(engine.TelemetryOptions{}, taskQueue, history, opts...)
}

func initReplayPreloaded(tel engine.TelemetryOptions, taskQueue string, history *historypb.History, opts ...engine.Option) (*engine.Core, error) {
	replay := engine.InitReplay(tel, opts...)
	cfg := engine.WorkerConfig{
		TaskQueue:          taskQueue,
		MaxCachedWorkflows: DefaultMaxCachedWorkflows,
	}
	if err := replay.MakeReplayWorker(cfg, history); err != nil {
		_ = replay.Shutdown(context.Background())
		return nil, fmt.Errorf("%w: %w", ErrReplayFailed, err)
	}
	return replay, nil
}
