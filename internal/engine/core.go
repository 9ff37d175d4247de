package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/wfharness/internal/config"
	"github.com/fyrsmithlabs/wfharness/internal/devserver"
	"github.com/fyrsmithlabs/wfharness/internal/logging"
	"github.com/fyrsmithlabs/wfharness/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/wfharness/internal/engine"

// Core is the engine implementation. It is safe for concurrent use.
type Core struct {
	svc       WorkflowService
	gateway   *Gateway
	namespace string
	identity  string
	replay    *replayService

	logger        *logging.Logger
	telemetry     *telemetry.Telemetry
	ownTelemetry  bool
	tracer        trace.Tracer
	metrics       *Metrics
	metricsServer *telemetry.MetricsServer
	closeService  func()

	lifetime context.Context
	stop     context.CancelFunc

	mu       sync.Mutex
	queues   map[string]*workflowQueue
	shutdown bool
}

// Init creates a Core connected to opts.Gateway.TargetURL. An "inproc://"
// target starts an in-process service instead of dialing.
func Init(ctx context.Context, opts InitOptions, options ...Option) (*Core, error) {
	s := &settings{}
	for _, opt := range options {
		opt(s)
	}

	c, err := newCore(ctx, opts.Gateway, opts.Telemetry, s)
	if err != nil {
		return nil, err
	}

	svc := s.service
	switch {
	case svc != nil:
	case strings.HasPrefix(opts.Gateway.TargetURL, config.InprocScheme+"://"):
		srv := devserver.New(devserver.WithLogger(c.logger))
		svc, c.closeService = srv, srv.Close
		c.logger.Info(ctx, "using in-process workflow service")
	default:
		dialed, closer, err := dialService(ctx, opts.Gateway, c.identity, c.logger)
		if err != nil {
			c.stop()
			_ = c.release(ctx)
			return nil, err
		}
		svc, c.closeService = dialed, closer
	}

	c.svc = svc
	c.gateway = newGateway(svc, c.namespace, c.identity, c.tracer)
	fields := []zap.Field{
		zap.String("namespace", c.namespace),
		zap.String("target", opts.Gateway.TargetURL),
		zap.String("identity", c.identity),
	}
	if opts.Gateway.APIKey.IsSet() {
		fields = append(fields, logging.Secret("api_key", opts.Gateway.APIKey))
	}
	c.logger.Debug(ctx, "engine initialized", fields...)
	return c, nil
}

// InitReplay creates a Core that serves histories registered with
// MakeReplayWorker. It never contacts a server.
func InitReplay(opts TelemetryOptions, options ...Option) *Core {
	s := &settings{}
	for _, opt := range options {
		opt(s)
	}

	ctx := context.Background()
	gw := GatewayOptions{Namespace: replayNamespace, Identity: "replay"}
	c, err := newCore(ctx, gw, opts, s)
	if err != nil {
		// Replay engines fall back to no telemetry on bad options. With a
		// logger and telemetry supplied newCore has no failure path left.
		fallback := *s
		fallback.logger = logging.NewNop()
		fallback.telemetry = telemetry.NewNop()
		var ferr error
		c, ferr = newCore(ctx, gw, TelemetryOptions{}, &fallback)
		if ferr != nil {
			panic(fmt.Sprintf("engine: replay core without telemetry: %v (options: %v)", ferr, err))
		}
	}

	c.replay = newReplayService()
	c.svc = c.replay
	c.gateway = newGateway(c.replay, c.namespace, c.identity, c.tracer)
	return c
}

func newCore(ctx context.Context, gw GatewayOptions, telOpts TelemetryOptions, s *settings) (*Core, error) {
	logger := s.logger
	if logger == nil {
		l, err := newLogger(telOpts.LogFilter)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	logger = logger.Named("engine")

	c := &Core{
		namespace: gw.Namespace,
		identity:  gw.Identity,
		logger:    logger,
		telemetry: s.telemetry,
		queues:    make(map[string]*workflowQueue),
	}
	if c.namespace == "" {
		c.namespace = "default"
	}
	if c.identity == "" {
		c.identity = defaultIdentity()
	}

	if c.telemetry == nil {
		telCfg, err := telemetry.ConfigFromCollectorURL(telOpts.OtelCollectorURL)
		if err != nil {
			return nil, fmt.Errorf("telemetry options: %w", err)
		}
		if gw.WorkerBinaryID != "" {
			telCfg.ServiceVersion = gw.WorkerBinaryID
		}
		tel, err := telemetry.New(ctx, telCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("telemetry options: %w", err)
		}
		c.telemetry = tel
		c.ownTelemetry = true
	}
	c.tracer = c.telemetry.Tracer(instrumentationName)

	reg := s.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c.metrics = NewMetrics(reg)

	if telOpts.PrometheusBindAddress != "" {
		c.metricsServer = telemetry.NewMetricsServer(telOpts.PrometheusBindAddress, reg, logger)
		go func() {
			if err := c.metricsServer.Start(nil); err != nil {
				logger.Warn(context.Background(), "metrics server stopped", zap.Error(err))
			}
		}()
	}

	c.lifetime, c.stop = context.WithCancel(context.Background())
	return c, nil
}

func newLogger(filter string) (*logging.Logger, error) {
	level, err := logging.ParseFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("log filter %q: %w", filter, err)
	}
	cfg := logging.NewDefaultConfig()
	cfg.Level = level
	return logging.NewLogger(cfg)
}

// Gateway returns the client for starting workflows and fetching history.
func (c *Core) Gateway() *Gateway {
	return c.gateway
}

// Metrics returns the engine's Prometheus collectors.
func (c *Core) Metrics() *Metrics {
	return c.metrics
}

// IsReplay reports whether the Core was created by InitReplay.
func (c *Core) IsReplay() bool {
	return c.replay != nil
}

// RegisterWorker starts serving cfg.TaskQueue. Zero limits take defaults.
func (c *Core) RegisterWorker(cfg WorkerConfig) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return ErrShutdown
	}
	if _, ok := c.queues[cfg.TaskQueue]; ok {
		return fmt.Errorf("%w: %s", ErrWorkerExists, cfg.TaskQueue)
	}
	c.queues[cfg.TaskQueue] = newWorkflowQueue(c, cfg)
	c.logger.Info(context.Background(), "worker registered",
		zap.String("task_queue", cfg.TaskQueue),
		zap.Int("max_cached_workflows", cfg.MaxCachedWorkflows),
		zap.Int("max_outstanding_workflow_tasks", cfg.MaxOutstandingWorkflowTasks),
	)
	return nil
}

// WorkerConfig returns the registered config for taskQueue.
func (c *Core) WorkerConfig(taskQueue string) (WorkerConfig, bool) {
	q, err := c.queue(taskQueue)
	if err != nil {
		return WorkerConfig{}, false
	}
	return q.cfg, true
}

func (c *Core) queue(taskQueue string) (*workflowQueue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return nil, ErrShutdown
	}
	q, ok := c.queues[taskQueue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, taskQueue)
	}
	return q, nil
}

// PollWorkflowActivation implements Engine.
func (c *Core) PollWorkflowActivation(ctx context.Context, taskQueue string) (*Activation, error) {
	q, err := c.queue(taskQueue)
	if err != nil {
		return nil, err
	}
	ctx, done := c.bind(ctx)
	defer done()
	act, err := q.poll(ctx)
	return act, c.mapErr(ctx, err)
}

// CompleteWorkflowActivation implements Engine.
func (c *Core) CompleteWorkflowActivation(ctx context.Context, completion *ActivationCompletion) error {
	if completion == nil {
		return fmt.Errorf("nil activation completion")
	}
	q, err := c.queue(completion.TaskQueue)
	if err != nil {
		return err
	}
	return q.complete(ctx, completion)
}

// PollActivityTask implements Engine.
func (c *Core) PollActivityTask(ctx context.Context, taskQueue string) (*ActivityTask, error) {
	q, err := c.queue(taskQueue)
	if err != nil {
		return nil, err
	}
	ctx, done := c.bind(ctx)
	defer done()
	task, err := q.activities.poll(ctx)
	return task, c.mapErr(ctx, err)
}

// CompleteActivityTask implements Engine.
func (c *Core) CompleteActivityTask(ctx context.Context, completion *ActivityTaskCompletion) error {
	if completion == nil {
		return fmt.Errorf("nil activity task completion")
	}
	q, err := c.queue(completion.TaskQueue)
	if err != nil {
		return err
	}
	return q.activities.complete(ctx, completion)
}

// Shutdown unblocks pending polls and releases the service connection,
// telemetry and metrics server. Calling it again is a no-op.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	c.stop()
	c.logger.Info(ctx, "engine shutting down")
	return c.release(ctx)
}

func (c *Core) release(ctx context.Context) error {
	var errs []error
	if c.replay != nil {
		c.replay.close()
	}
	if c.closeService != nil {
		c.closeService()
	}
	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if c.ownTelemetry {
		if err := c.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	_ = c.logger.Sync()
	return errors.Join(errs...)
}

// bind derives a context that is also canceled, with cause ErrShutdown,
// when the engine shuts down.
func (c *Core) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(c.lifetime, func() {
		cancel(ErrShutdown)
	})
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func (c *Core) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), ErrShutdown) || c.isShutdown() {
		return ErrShutdown
	}
	return err
}

func (c *Core) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}
