// Package config loads harness settings from the environment and an optional YAML file.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// InprocScheme selects the in-process workflow service instead of dialing a server.
const InprocScheme = "inproc"

// Config holds harness configuration.
//
// Environment variables map onto the two sections:
//
//	TEMPORAL_SERVICE_ADDRESS -> temporal.service_address
//	TEMPORAL_NAMESPACE       -> temporal.namespace
//	TEMPORAL_API_KEY         -> temporal.api_key
//	TEMPORAL_INTEG_OTEL_URL  -> integ.otel_url
//	TEMPORAL_INTEG_PROM_PORT -> integ.prom_port
//	TEMPORAL_INTEG_LOG       -> integ.log
//	TEMPORAL_INTEG_LIVE      -> integ.live
type Config struct {
	Temporal TemporalConfig `koanf:"temporal"`
	Integ    IntegConfig    `koanf:"integ"`
}

// TemporalConfig describes the workflow service connection.
type TemporalConfig struct {
	ServiceAddress string `koanf:"service_address"`
	Namespace      string `koanf:"namespace"`
	APIKey         Secret `koanf:"api_key"`
}

// IntegConfig holds integration-test telemetry and runtime settings.
type IntegConfig struct {
	OtelURL             string   `koanf:"otel_url"`
	PromPort            int      `koanf:"prom_port"`
	Log                 string   `koanf:"log"`
	Live                bool     `koanf:"live"`
	WorkflowTaskTimeout Duration `koanf:"workflow_task_timeout"`
}

// Defaults.
const (
	DefaultServiceAddress      = "http://localhost:7233"
	DefaultNamespace           = "default"
	DefaultLogFilter           = "info"
	DefaultWorkflowTaskTimeout = 10 * time.Second
)

// PrometheusBindAddress returns the loopback address for the metrics endpoint,
// or "" when no port is configured.
func (c *Config) PrometheusBindAddress() string {
	if c.Integ.PromPort == 0 {
		return ""
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Integ.PromPort))
}

// IsInproc reports whether the service address selects the in-process backend.
func (c *Config) IsInproc() bool {
	return strings.HasPrefix(c.Temporal.ServiceAddress, InprocScheme+"://")
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Temporal.ServiceAddress == "" {
		return fmt.Errorf("temporal.service_address is required")
	}
	if !c.IsInproc() {
		if _, err := url.Parse(c.Temporal.ServiceAddress); err != nil {
			return fmt.Errorf("invalid temporal.service_address %q: %w", c.Temporal.ServiceAddress, err)
		}
	}
	if c.Temporal.Namespace == "" {
		return fmt.Errorf("temporal.namespace is required")
	}
	if c.Integ.PromPort < 0 || c.Integ.PromPort > 65535 {
		return fmt.Errorf("integ.prom_port out of range: %d", c.Integ.PromPort)
	}
	if c.Integ.OtelURL != "" {
		u, err := url.Parse(c.Integ.OtelURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid integ.otel_url %q", c.Integ.OtelURL)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Temporal.ServiceAddress == "" {
		cfg.Temporal.ServiceAddress = DefaultServiceAddress
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = DefaultNamespace
	}
	if cfg.Integ.Log == "" {
		cfg.Integ.Log = DefaultLogFilter
	}
	if cfg.Integ.WorkflowTaskTimeout == 0 {
		cfg.Integ.WorkflowTaskTimeout = Duration(DefaultWorkflowTaskTimeout)
	}
}
