// Package harness drives workflow engines from integration tests.
//
// A Starter owns one lazily created engine with a worker registered on a
// salted task queue. Tests start workflows through it, run them with a
// worker.Worker and replay the recorded histories to check determinism.
package harness

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wfharness/internal/engine"
	"github.com/fyrsmithlabs/wfharness/internal/logging"
	"github.com/fyrsmithlabs/wfharness/internal/telemetry"
	"github.com/fyrsmithlabs/wfharness/internal/worker"
)

// DefaultMaxCachedWorkflows is the run cache size a new Starter registers.
const DefaultMaxCachedWorkflows = 1000

const saltBytes = 6

// Starter creates a test engine on first use and starts workflows on it.
// It is safe for concurrent use.
type Starter struct {
	taskQueue   string
	initOpts    engine.InitOptions
	initOptsSet bool
	engineOpts  []engine.Option
	factory     EngineFactory
	logger      *logging.Logger
	loggerSet   bool
	log         *logging.Logger
	telemetry   *telemetry.Telemetry
	setupErr    error

	mu         sync.Mutex
	workerCfg  engine.WorkerConfig
	wftTimeout time.Duration
	eng        engine.Engine
	replays    []engine.Engine
	shutdown   bool
}

// NewStarter returns a Starter whose task queue is testName followed by a
// random salt, so repeated runs against one server do not collide.
func NewStarter(testName string, opts ...Option) *Starter {
	return NewStarterWithTaskQueue(testName+"_"+salt(), opts...)
}

// NewStarterWithTaskQueue returns a Starter using taskQueue unchanged.
// Unless WithInitOptions is given, engine options are loaded from the
// environment; a loading error is reported by the first Engine call.
func NewStarterWithTaskQueue(taskQueue string, opts ...Option) *Starter {
	s := &Starter{
		taskQueue: taskQueue,
		factory:   initEngine,
		workerCfg: engine.WorkerConfig{
			TaskQueue:          taskQueue,
			MaxCachedWorkflows: DefaultMaxCachedWorkflows,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loggerSet = s.logger != nil
	if !s.loggerSet {
		s.logger = logging.NewNop()
	}
	s.log = s.logger.Named("harness")

	if !s.initOptsSet {
		initOpts, cfg, err := IntegInitOptions()
		if err != nil {
			s.setupErr = fmt.Errorf("loading integration config: %w", err)
		} else {
			s.initOpts = initOpts
			s.wftTimeout = cfg.Integ.WorkflowTaskTimeout.Duration()
		}
	}
	return s
}

func salt() string {
	b := make([]byte, saltBytes)
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

// TaskQueue returns the task queue workers poll and workflows start on.
func (s *Starter) TaskQueue() string {
	return s.taskQueue
}

// WorkflowID returns the id StartWorkflow uses, which is the task queue.
func (s *Starter) WorkflowID() string {
	return s.taskQueue
}

// Engine returns the Starter's engine, creating it and registering the
// worker on the first call. Failures are wrapped in ErrSetup and leave
// nothing cached.
func (s *Starter) Engine(ctx context.Context) (engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineLocked(ctx)
}

func (s *Starter) engineLocked(ctx context.Context) (engine.Engine, error) {
	if s.shutdown {
		return nil, ErrAlreadyShutdown
	}
	if s.eng != nil {
		return s.eng, nil
	}
	if s.setupErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, s.setupErr)
	}

	eng, err := s.factory(ctx, s.initOpts, s.liveOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating engine: %w", ErrSetup, err)
	}
	if err := eng.RegisterWorker(s.workerCfg); err != nil {
		if shutdownErr := eng.Shutdown(ctx); shutdownErr != nil {
			s.log.Warn(ctx, "engine shutdown after failed registration", zap.Error(shutdownErr))
		}
		return nil, fmt.Errorf("%w: registering worker: %w", ErrSetup, err)
	}

	s.eng = eng
	s.log.Debug(ctx, "engine ready",
		zap.String("task_queue", s.taskQueue),
		zap.String("target", s.initOpts.Gateway.TargetURL),
		zap.Int("max_cached_workflows", s.workerCfg.MaxCachedWorkflows),
	)
	return eng, nil
}

func (s *Starter) liveOptions() []engine.Option {
	opts := s.sharedOptions()
	return append(opts, s.engineOpts...)
}

// sharedOptions are the options every engine the Starter creates gets.
// Without WithLogger each engine builds its logger from the log filter.
func (s *Starter) sharedOptions() []engine.Option {
	var opts []engine.Option
	if s.loggerSet {
		opts = append(opts, engine.WithLogger(s.logger))
	}
	if s.telemetry != nil {
		opts = append(opts, engine.WithTelemetry(s.telemetry))
	}
	return opts
}

// StartWorkflow starts a workflow with the Starter's workflow id. See
// StartWorkflowWithID.
func (s *Starter) StartWorkflow(ctx context.Context) (string, error) {
	return s.StartWorkflowWithID(ctx, s.WorkflowID())
}

// StartWorkflowWithID starts a workflow whose type is the task queue name
// and returns its run id. The engine must already exist; StartWorkflowWithID
// never creates it.
func (s *Starter) StartWorkflowWithID(ctx context.Context, workflowID string) (string, error) {
	s.mu.Lock()
	eng, shutdown, wftTimeout := s.eng, s.shutdown, s.wftTimeout
	s.mu.Unlock()

	switch {
	case shutdown:
		return "", ErrAlreadyShutdown
	case eng == nil:
		return "", ErrNotInitialized
	}

	ctx = logging.WithWorkflow(ctx, logging.Execution{TaskQueue: s.taskQueue, WorkflowID: workflowID})
	runID, err := eng.Gateway().StartWorkflow(ctx, nil, s.taskQueue, workflowID, s.taskQueue, wftTimeout)
	if err != nil {
		return "", err
	}
	s.log.Debug(ctx, "workflow started", zap.String("run.id", runID))
	return runID, nil
}

// Worker returns a worker bound to the Starter's engine and task queue,
// creating the engine if needed.
func (s *Starter) Worker(ctx context.Context) (*worker.Worker, error) {
	eng, err := s.Engine(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	wftTimeout := s.wftTimeout
	s.mu.Unlock()

	opts := []worker.Option{
		worker.WithLogger(s.logger),
		worker.WithWorkflowTaskTimeout(wftTimeout),
	}
	if s.telemetry != nil {
		opts = append(opts, worker.WithMeter(s.telemetry.Meter(instrumentationName)))
	}
	return worker.New(eng, s.taskQueue, opts...), nil
}

// Shutdown shuts down the engine and any replay engines created by
// FetchHistoryAndReplay. It fails with ErrNotInitialized if Engine was
// never called and with ErrAlreadyShutdown on a second call.
func (s *Starter) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.shutdown:
		return ErrAlreadyShutdown
	case s.eng == nil:
		return ErrNotInitialized
	}
	s.shutdown = true

	var errs []error
	for _, r := range s.replays {
		errs = append(errs, r.Shutdown(ctx))
	}
	s.replays = nil
	errs = append(errs, s.eng.Shutdown(ctx))
	return errors.Join(errs...)
}

// MaxCachedWorkflows sets the run cache size. Like the other setters it only
// affects an engine created after the call.
func (s *Starter) MaxCachedWorkflows(n int) *Starter {
	return s.update(func(c *engine.WorkerConfig) { c.MaxCachedWorkflows = n })
}

// MaxWorkflowTasks sets the outstanding workflow task limit.
func (s *Starter) MaxWorkflowTasks(n int) *Starter {
	return s.update(func(c *engine.WorkerConfig) { c.MaxOutstandingWorkflowTasks = n })
}

// MaxActivities sets the outstanding activity limit.
func (s *Starter) MaxActivities(n int) *Starter {
	return s.update(func(c *engine.WorkerConfig) { c.MaxOutstandingActivities = n })
}

// MaxLocalActivities sets the outstanding local activity limit.
func (s *Starter) MaxLocalActivities(n int) *Starter {
	return s.update(func(c *engine.WorkerConfig) { c.MaxOutstandingLocalActivities = n })
}

// MaxActivityPolls sets how many activity polls may run at once.
func (s *Starter) MaxActivityPolls(n int) *Starter {
	return s.update(func(c *engine.WorkerConfig) { c.MaxConcurrentActivityPolls = n })
}

// WorkflowTaskTimeout sets the workflow task timeout sent with every start
// request. Zero leaves the service default.
func (s *Starter) WorkflowTaskTimeout(d time.Duration) *Starter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wftTimeout = d
	return s
}

func (s *Starter) update(fn func(*engine.WorkerConfig)) *Starter {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.workerCfg)
	return s
}

// InitEngineAndCreateWorkflow creates a Starter for testName, initializes
// its engine and starts one workflow. It returns the engine and task queue.
func InitEngineAndCreateWorkflow(ctx context.Context, testName string, opts ...Option) (engine.Engine, string, error) {
	s := NewStarter(testName, opts...)
	eng, err := s.Engine(ctx)
	if err != nil {
		return nil, "", err
	}
	if _, err := s.StartWorkflow(ctx); err != nil {
		return nil, "", err
	}
	return eng, s.TaskQueue(), nil
}
