package harness

import (
	"github.com/fyrsmithlabs/wfharness/internal/config"
	"github.com/fyrsmithlabs/wfharness/internal/engine"
)

// Fixed values every integration engine identifies itself with.
const (
	Namespace          = config.DefaultNamespace
	IntegIdentity      = "integ_tester"
	IntegWorkerBinary  = "fakebinaryid"
	IntegClientName    = "temporal-core"
	IntegClientVersion = "0.1.0"
)

// IntegServerOptions builds gateway options from cfg.
func IntegServerOptions(cfg *config.Config) engine.GatewayOptions {
	return engine.GatewayOptions{
		Namespace:      cfg.Temporal.Namespace,
		TargetURL:      cfg.Temporal.ServiceAddress,
		Identity:       IntegIdentity,
		WorkerBinaryID: IntegWorkerBinary,
		ClientName:     IntegClientName,
		ClientVersion:  IntegClientVersion,
		APIKey:         cfg.Temporal.APIKey,
	}
}

// IntegTelemetryOptions builds telemetry options from cfg.
func IntegTelemetryOptions(cfg *config.Config) engine.TelemetryOptions {
	return engine.TelemetryOptions{
		OtelCollectorURL:      cfg.Integ.OtelURL,
		PrometheusBindAddress: cfg.PrometheusBindAddress(),
		LogFilter:             cfg.Integ.Log,
	}
}

// IntegInitOptions loads configuration from the environment and returns
// the engine options integration tests use.
func IntegInitOptions() (engine.InitOptions, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return engine.InitOptions{}, nil, err
	}
	return engine.InitOptions{
		Gateway:   IntegServerOptions(cfg),
		Telemetry: IntegTelemetryOptions(cfg),
	}, cfg, nil
}
