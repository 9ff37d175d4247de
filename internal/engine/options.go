package engine

import (
	"fmt"
	"os"

	"github.com/fyrsmithlabs/wfharness/internal/config"
	"github.com/fyrsmithlabs/wfharness/internal/logging"
	"github.com/fyrsmithlabs/wfharness/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// InitOptions configures a Core.
type InitOptions struct {
	Gateway   GatewayOptions
	Telemetry TelemetryOptions
}

// GatewayOptions describes the connection to the workflow service.
type GatewayOptions struct {
	Namespace      string
	TargetURL      string // "http://host:port", "host:port" or "inproc://"
	Identity       string
	WorkerBinaryID string
	ClientName     string
	ClientVersion  string
	APIKey         config.Secret
}

// TelemetryOptions configures tracing, metrics and logging for a Core.
type TelemetryOptions struct {
	OtelCollectorURL      string
	PrometheusBindAddress string
	LogFilter             string
}

// WorkerConfig configures the worker for one task queue. The engine keeps a
// copy; changing the caller's value after RegisterWorker has no effect.
type WorkerConfig struct {
	TaskQueue                     string
	MaxCachedWorkflows            int
	MaxOutstandingWorkflowTasks   int
	MaxOutstandingActivities      int
	MaxOutstandingLocalActivities int
	MaxConcurrentActivityPolls    int
}

// Validate checks the config and reports every problem found.
func (c WorkerConfig) Validate() error {
	var problems []string
	if c.TaskQueue == "" {
		problems = append(problems, "task queue is required")
	}
	if c.MaxCachedWorkflows < 1 {
		problems = append(problems, "max cached workflows must be at least 1")
	}
	if c.MaxOutstandingWorkflowTasks < 1 {
		problems = append(problems, "max outstanding workflow tasks must be at least 1")
	}
	if c.MaxOutstandingActivities < 1 {
		problems = append(problems, "max outstanding activities must be at least 1")
	}
	if c.MaxOutstandingLocalActivities < 1 {
		problems = append(problems, "max outstanding local activities must be at least 1")
	}
	if c.MaxConcurrentActivityPolls < 1 {
		problems = append(problems, "max concurrent activity polls must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidWorkerConfig, problems)
	}
	return nil
}

// withDefaults fills zero limits with small defaults.
func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.MaxCachedWorkflows == 0 {
		c.MaxCachedWorkflows = 1000
	}
	if c.MaxOutstandingWorkflowTasks == 0 {
		c.MaxOutstandingWorkflowTasks = 100
	}
	if c.MaxOutstandingActivities == 0 {
		c.MaxOutstandingActivities = 100
	}
	if c.MaxOutstandingLocalActivities == 0 {
		c.MaxOutstandingLocalActivities = 100
	}
	if c.MaxConcurrentActivityPolls == 0 {
		c.MaxConcurrentActivityPolls = 5
	}
	return c
}

// Option customizes Init and InitReplay.
type Option func(*settings)

type settings struct {
	service   WorkflowService
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry
}

// WithService uses svc instead of dialing GatewayOptions.TargetURL.
func WithService(svc WorkflowService) Option {
	return func(s *settings) {
		s.service = svc
	}
}

// WithLogger overrides the logger built from TelemetryOptions.LogFilter.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithTelemetry overrides the providers built from TelemetryOptions.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *settings) {
		s.telemetry = t
	}
}

// WithRegistry registers engine metrics in reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *settings) {
		s.registry = reg
	}
}

func defaultIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%d@%s", os.Getpid(), host)
}
