// Package telemetry wires OpenTelemetry and Prometheus for the harness.
package telemetry

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/wfharness/internal/config"
)

// OTLP protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool           `koanf:"enabled"`
	Endpoint       string         `koanf:"endpoint"` // host:port
	Protocol       string         `koanf:"protocol"`
	Insecure       bool           `koanf:"insecure"`
	ServiceName    string         `koanf:"service_name"`
	ServiceVersion string         `koanf:"service_version"`
	SamplingRate   float64        `koanf:"sampling_rate"`
	Metrics        MetricsConfig  `koanf:"metrics"`
	Shutdown       ShutdownConfig `koanf:"shutdown"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns disabled telemetry with local collector defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		Insecure:       true,
		ServiceName:    "wfharness",
		ServiceVersion: "0.1.0",
		SamplingRate:   1.0,
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(5 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// ConfigFromCollectorURL enables export to an OTLP collector URL such as
// "http://localhost:4317". An http scheme exports without TLS. A "/v1/..."
// path or port 4318 selects the HTTP protocol; anything else uses gRPC.
// An empty URL returns the disabled defaults.
func ConfigFromCollectorURL(raw string) (*Config, error) {
	cfg := NewDefaultConfig()
	if raw == "" {
		return cfg, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing collector url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("collector url %q has no host", raw)
	}

	cfg.Enabled = true
	cfg.Endpoint = u.Host
	cfg.Insecure = u.Scheme == "http"
	if u.Port() == "4318" || strings.HasPrefix(u.Path, "/v1/") {
		cfg.Protocol = ProtocolHTTP
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}
	return nil
}
