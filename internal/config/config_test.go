package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"TEMPORAL_SERVICE_ADDRESS",
		"TEMPORAL_NAMESPACE",
		"TEMPORAL_API_KEY",
		"TEMPORAL_INTEG_OTEL_URL",
		"TEMPORAL_INTEG_PROM_PORT",
		"TEMPORAL_INTEG_LOG",
		"TEMPORAL_INTEG_LIVE",
		"TEMPORAL_INTEG_CONFIG",
		"TEMPORAL_INTEG_WORKFLOW_TASK_TIMEOUT",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultServiceAddress, cfg.Temporal.ServiceAddress)
	assert.Equal(t, DefaultNamespace, cfg.Temporal.Namespace)
	assert.False(t, cfg.Temporal.APIKey.IsSet())
	assert.Equal(t, DefaultLogFilter, cfg.Integ.Log)
	assert.Equal(t, DefaultWorkflowTaskTimeout, cfg.Integ.WorkflowTaskTimeout.Duration())
	assert.Empty(t, cfg.PrometheusBindAddress())
	assert.False(t, cfg.IsInproc())
	assert.False(t, cfg.Integ.Live)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEMPORAL_SERVICE_ADDRESS", "https://example.tmprl.cloud:7233")
	t.Setenv("TEMPORAL_NAMESPACE", "integ")
	t.Setenv("TEMPORAL_API_KEY", "key-123")
	t.Setenv("TEMPORAL_INTEG_OTEL_URL", "http://localhost:4317")
	t.Setenv("TEMPORAL_INTEG_PROM_PORT", "9464")
	t.Setenv("TEMPORAL_INTEG_LOG", "temporal_sdk_core=debug")
	t.Setenv("TEMPORAL_INTEG_LIVE", "1")
	t.Setenv("TEMPORAL_INTEG_WORKFLOW_TASK_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.tmprl.cloud:7233", cfg.Temporal.ServiceAddress)
	assert.Equal(t, "integ", cfg.Temporal.Namespace)
	assert.Equal(t, "key-123", cfg.Temporal.APIKey.Value())
	assert.Equal(t, "http://localhost:4317", cfg.Integ.OtelURL)
	assert.Equal(t, "127.0.0.1:9464", cfg.PrometheusBindAddress())
	assert.Equal(t, "temporal_sdk_core=debug", cfg.Integ.Log)
	assert.True(t, cfg.Integ.Live)
	assert.Equal(t, 3*time.Second, cfg.Integ.WorkflowTaskTimeout.Duration())
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "harness.yaml")
	yamlContent := `temporal:
  service_address: inproc://
  namespace: from-file
integ:
  log: debug
  prom_port: 9100
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))
	t.Setenv("TEMPORAL_INTEG_CONFIG", path)
	t.Setenv("TEMPORAL_NAMESPACE", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsInproc())
	assert.Equal(t, "from-env", cfg.Temporal.Namespace)
	assert.Equal(t, "debug", cfg.Integ.Log)
	assert.Equal(t, 9100, cfg.Integ.PromPort)
}

func TestLoadWithFile_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := LoadWithFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadWithFile(dir)
	assert.ErrorContains(t, err, "directory")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("temporal: [unterminated"), 0600))
	_, err = LoadWithFile(bad)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "inproc", mutate: func(c *Config) { c.Temporal.ServiceAddress = "inproc://" }},
		{name: "empty namespace", mutate: func(c *Config) { c.Temporal.Namespace = "" }, wantErr: "namespace"},
		{name: "port range", mutate: func(c *Config) { c.Integ.PromPort = 70000 }, wantErr: "prom_port"},
		{name: "otel url without host", mutate: func(c *Config) { c.Integ.OtelURL = "localhost" }, wantErr: "otel_url"},
		{name: "bad address", mutate: func(c *Config) { c.Temporal.ServiceAddress = "http://[::1" }, wantErr: "service_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "temporal.service_address", envKey("TEMPORAL_SERVICE_ADDRESS"))
	assert.Equal(t, "temporal.api_key", envKey("TEMPORAL_API_KEY"))
	assert.Equal(t, "integ.prom_port", envKey("TEMPORAL_INTEG_PROM_PORT"))
	assert.Equal(t, "integ.otel_url", envKey("TEMPORAL_INTEG_OTEL_URL"))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())

	data, err := json.Marshal(struct{ Key Secret }{Key: s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}
