package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/wfharness/internal/devserver"
	"github.com/fyrsmithlabs/wfharness/internal/engine"
	"github.com/fyrsmithlabs/wfharness/internal/harness"
	"github.com/fyrsmithlabs/wfharness/internal/history"
	"github.com/fyrsmithlabs/wfharness/internal/logging"
	"github.com/fyrsmithlabs/wfharness/internal/worker"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeWithLogger(t, logging.NewNop(), args...)
}

// executeWithLogger runs the command with logger carried in its context.
func executeWithLogger(t *testing.T, logger *logging.Logger, args ...string) (string, string, error) {
	t.Helper()
	fetchWorkflowID, fetchRunID, fetchOut, fetchFormat = "", "", "-", ""

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// useServer points fetch at srv and returns a Starter on the same service.
func useServer(t *testing.T, srv *devserver.Server, taskQueue string) *harness.Starter {
	t.Helper()
	for _, name := range []string{"TEMPORAL_SERVICE_ADDRESS", "TEMPORAL_INTEG_CONFIG", "TEMPORAL_INTEG_PROM_PORT", "TEMPORAL_INTEG_OTEL_URL", "TEMPORAL_NAMESPACE"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	prev := initEngine
	initEngine = func(ctx context.Context, opts engine.InitOptions) (engine.Engine, error) {
		return engine.Init(ctx, opts, engine.WithService(srv), engine.WithLogger(logging.NewNop()))
	}
	t.Cleanup(func() { initEngine = prev })

	s := harness.NewStarterWithTaskQueue(taskQueue,
		harness.WithInitOptions(engine.InitOptions{Gateway: engine.GatewayOptions{Namespace: harness.Namespace}}),
		harness.WithEngineOptions(engine.WithService(srv)),
		harness.WithLogger(logging.NewNop()),
	)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func runTimerWorkflow(t *testing.T, s *harness.Starter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w, err := s.Worker(ctx)
	require.NoError(t, err)
	w.RegisterWorkflow(s.TaskQueue(), func(run *worker.Run, jobs []engine.Job) ([]engine.Command, error) {
		for _, job := range jobs {
			switch job.(type) {
			case engine.StartWorkflow:
				return []engine.Command{harness.StartTimerCmd(run.NextSeq(), time.Millisecond)}, nil
			case engine.FireTimer:
				return []engine.Command{engine.CompleteWorkflowExecution{}}, nil
			}
		}
		return nil, nil
	})
	_, err = s.StartWorkflow(ctx)
	require.NoError(t, err)
	w.IncrExpectedRunCount(1)
	require.NoError(t, w.RunUntilDone(ctx))
}

func TestInspect_Golden(t *testing.T) {
	out, _, err := execute(t, "inspect", "testdata/timer.json")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "inspect_timer", []byte(out))
}

func TestInspect_MissingFile(t *testing.T) {
	_, _, err := execute(t, "inspect", filepath.Join(t.TempDir(), "nope.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFetch_WritesFixture(t *testing.T) {
	srv := devserver.New()
	t.Cleanup(srv.Close)
	s := useServer(t, srv, "cli-fetch")
	runTimerWorkflow(t, s)

	for _, name := range []string{"fixture.bin", "fixture.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			_, stderr, err := execute(t, "fetch", "--workflow-id", s.WorkflowID(), "--out", path)
			require.NoError(t, err)
			assert.Contains(t, stderr, "wrote 10 events")

			h, err := history.Load(path)
			require.NoError(t, err)
			summary := history.Summarize(h)
			assert.Equal(t, "cli-fetch", summary.WorkflowType)
			assert.Equal(t, "completed", summary.Status)
			assert.Len(t, summary.Events, 10)
		})
	}
}

func TestFetch_Stdout(t *testing.T) {
	srv := devserver.New()
	t.Cleanup(srv.Close)
	s := useServer(t, srv, "cli-stdout")
	runTimerWorkflow(t, s)

	out, _, err := execute(t, "fetch", "--workflow-id", s.WorkflowID())
	require.NoError(t, err)
	h, err := history.FromJSON(bytes.NewBufferString(out))
	require.NoError(t, err)
	assert.Len(t, h.GetEvents(), 10)

	_, _, err = execute(t, "fetch", "--workflow-id", s.WorkflowID(), "--format", "binary")
	assert.ErrorContains(t, err, "binary output needs --out")
}

func TestFetch_LogsThroughContextLogger(t *testing.T) {
	srv := devserver.New()
	t.Cleanup(srv.Close)
	s := useServer(t, srv, "cli-logs")
	runTimerWorkflow(t, s)

	tl := logging.NewTestLogger()
	_, _, err := executeWithLogger(t, tl.Logger, "fetch", "--workflow-id", s.WorkflowID())
	require.NoError(t, err)

	tl.AssertLogged(t, zapcore.DebugLevel, "history fetched")
	tl.AssertField(t, "history fetched", "workflow.id", s.WorkflowID())
	tl.AssertField(t, "history fetched", "events", 10)
}

func TestWriteJSONFile(t *testing.T) {
	h, err := history.FromJSONFile("testdata/timer.json")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeJSONFile(path, h))
	got, err := history.FromJSONFile(path)
	require.NoError(t, err)
	assert.Len(t, got.GetEvents(), 10)

	err = writeJSONFile(filepath.Join(t.TempDir(), "missing", "out.json"), h)
	assert.ErrorContains(t, err, "creating")

	if _, statErr := os.Stat("/dev/full"); statErr == nil {
		assert.Error(t, writeJSONFile("/dev/full", h), "a failed write is reported")
	}
}

func TestFetch_Errors(t *testing.T) {
	srv := devserver.New()
	t.Cleanup(srv.Close)
	useServer(t, srv, "cli-errors")

	_, _, err := execute(t, "fetch", "--workflow-id", "missing")
	assert.ErrorIs(t, err, engine.ErrHistoryNotFound)

	_, _, err = execute(t, "fetch", "--workflow-id", "missing", "--format", "yaml")
	assert.ErrorContains(t, err, `unknown format "yaml"`)
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		out, format, want string
	}{
		{"-", "", "json"},
		{"h.json", "", "json"},
		{"h.JSON", "", "json"},
		{"h.bin", "", "binary"},
		{"h.bin", "json", "json"},
	}
	for _, tt := range tests {
		got, err := outputFormat(tt.out, tt.format)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "out=%s format=%s", tt.out, tt.format)
	}
}
