package worker

import (
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/wfharness/internal/logging"
)

// Option configures a Worker.
type Option func(*options)

type options struct {
	logger     *logging.Logger
	meter      metric.Meter
	wftTimeout time.Duration
}

// WithLogger sets the worker's logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeter records worker counters through m.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithWorkflowTaskTimeout sets the workflow task timeout used by
// SubmitWorkflow. Zero keeps the service default.
func WithWorkflowTaskTimeout(d time.Duration) Option {
	return func(o *options) {
		o.wftTimeout = d
	}
}
