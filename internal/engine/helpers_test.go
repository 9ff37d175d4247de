package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	historypb "go.temporal.io/api/history/v1"

	"github.com/fyrsmithlabs/wfharness/internal/history"
	"github.com/fyrsmithlabs/wfharness/internal/logging"
	"github.com/fyrsmithlabs/wfharness/internal/telemetry"
)

// timerHistory is a completed run that started timer 1 and finished when
// it fired.
func timerHistory(runID string) *historypb.History {
	return history.WithRunID(history.SingleTimer(TimerID(1)), runID)
}

type testEnv struct {
	core   *Core
	logger *logging.TestLogger
	tel    *telemetry.TestTelemetry
}

// newInprocCore returns a Core backed by a fresh in-process service.
func newInprocCore(t *testing.T, cfgs ...WorkerConfig) *testEnv {
	t.Helper()
	env := &testEnv{logger: logging.NewTestLogger(), tel: telemetry.NewTestTelemetry()}
	c, err := Init(context.Background(), InitOptions{
		Gateway: GatewayOptions{Namespace: "default", TargetURL: "inproc://", Identity: "engine-test"},
	}, WithLogger(env.logger.Logger), WithTelemetry(env.tel.Telemetry))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	for _, cfg := range cfgs {
		require.NoError(t, c.RegisterWorker(cfg))
	}
	env.core = c
	return env
}

func newReplayCore(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{logger: logging.NewTestLogger(), tel: telemetry.NewTestTelemetry()}
	env.core = InitReplay(TelemetryOptions{}, WithLogger(env.logger.Logger), WithTelemetry(env.tel.Telemetry))
	t.Cleanup(func() { _ = env.core.Shutdown(context.Background()) })
	return env
}

func pollActivation(t *testing.T, c *Core, taskQueue string) *Activation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	act, err := c.PollWorkflowActivation(ctx, taskQueue)
	require.NoError(t, err)
	return act
}

func completeWith(t *testing.T, c *Core, act *Activation, cmds ...Command) {
	t.Helper()
	require.NoError(t, c.CompleteWorkflowActivation(context.Background(), CompletionFromCommands(act.TaskQueue, act.RunID, cmds...)))
}
