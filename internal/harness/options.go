package harness

import (
	"context"

	"github.com/fyrsmithlabs/wfharness/internal/engine"
	"github.com/fyrsmithlabs/wfharness/internal/logging"
	"github.com/fyrsmithlabs/wfharness/internal/telemetry"
)

// EngineFactory creates the live engine for a Starter.
type EngineFactory func(ctx context.Context, opts engine.InitOptions, options ...engine.Option) (engine.Engine, error)

// Option configures a Starter.
type Option func(*Starter)

// WithInitOptions replaces the options otherwise loaded from the
// environment. The Starter keeps its own copy.
func WithInitOptions(opts engine.InitOptions) Option {
	return func(s *Starter) {
		s.initOpts = opts
		s.initOptsSet = true
	}
}

// WithEngineOptions passes extra options to the live engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Starter) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithEngineFactory replaces engine.Init as the way the live engine is
// created.
func WithEngineFactory(f EngineFactory) Option {
	return func(s *Starter) {
		s.factory = f
	}
}

// WithLogger sets the logger used by the Starter, its engines and workers.
func WithLogger(l *logging.Logger) Option {
	return func(s *Starter) {
		s.logger = l
	}
}

// WithTelemetry shares t with every engine the Starter creates. The caller
// owns t and shuts it down.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Starter) {
		s.telemetry = t
	}
}

func initEngine(ctx context.Context, opts engine.InitOptions, options ...engine.Option) (engine.Engine, error) {
	c, err := engine.Init(ctx, opts, options...)
	if err != nil {
		return nil, err
	}
	return c, nil
}
