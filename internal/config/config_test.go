package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqdiag/internal/constants"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, constants.BrokerTypeAMQP, cfg.Broker.Type)
	assert.Equal(t, "127.0.0.1", cfg.Broker.Host)
	assert.Equal(t, 5672, cfg.Broker.Port)
	assert.Equal(t, "admin", cfg.Broker.Username)
	assert.Equal(t, 30*time.Second, cfg.Broker.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.Broker.Reconnect.InitialDelay)
	assert.Equal(t, 60*time.Second, cfg.Broker.Reconnect.MaxDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Diagnostics.ProbeWindow)
	assert.Equal(t, constants.DefaultProbeCandidates, cfg.Diagnostics.ProbeCandidates)
	assert.Equal(t, "settled", cfg.Publish.SettleMode)
	assert.Equal(t, time.Hour, cfg.Publish.TTL)
}

func TestLoadConfig_ActiveMQEnvironment(t *testing.T) {
	t.Setenv("ACTIVEMQ_HOST", "mq.internal")
	t.Setenv("ACTIVEMQ_PORT", "5673")
	t.Setenv("ACTIVEMQ_USER", "svc")
	t.Setenv("ACTIVEMQ_PASS", "s3cret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "mq.internal", cfg.Broker.Host)
	assert.Equal(t, 5673, cfg.Broker.Port)
	assert.Equal(t, "svc", cfg.Broker.Username)
	assert.Equal(t, "s3cret", cfg.Broker.Password)
	assert.Equal(t, "****", cfg.Broker.Redacted().Password)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
broker:
  type: rabbitmq
  host: rabbit
  port: 5671
  connect_timeout: 5s
  reconnect:
    enabled: false
diagnostics:
  probe_window: 250ms
  probe_candidates: ["a", "/queue/a"]
filtering:
  enabled: true
  source: static
  rules:
    - id: strip-caller
      action: exclude
      fields: ["data.Caller-Caller-ID-Number"]
      enabled: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, constants.BrokerTypeRabbitMQ, cfg.Broker.Type)
	assert.Equal(t, 5*time.Second, cfg.Broker.ConnectTimeout)
	assert.False(t, cfg.Broker.Reconnect.Enabled)
	assert.Equal(t, []string{"a", "/queue/a"}, cfg.Diagnostics.ProbeCandidates)
	require.Len(t, cfg.Filtering.Rules, 1)
	assert.Equal(t, []string{"data.Caller-Caller-ID-Number"}, cfg.Filtering.Rules[0].Fields)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "broker:\n  host: from-file\n")
	t.Setenv("BROKER_HOST", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Broker.Host)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateStatic(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown broker", func(c *Config) { c.Broker.Type = "mqtt" }, "broker.type"},
		{"bad port", func(c *Config) { c.Broker.Port = 0 }, "broker.port"},
		{"zero timeout", func(c *Config) { c.Broker.ConnectTimeout = 0 }, "broker.connect_timeout"},
		{"backoff inverted", func(c *Config) { c.Broker.Reconnect.MaxDelay = time.Second }, "broker.reconnect.max_delay"},
		{"settle mode", func(c *Config) { c.Publish.SettleMode = "at-least-once" }, "publish.settle_mode"},
		{"rule action", func(c *Config) {
			c.Filtering.Enabled = true
			c.Filtering.Rules = []RuleConfig{{ID: "r1", Action: "drop", Fields: []string{"a"}}}
		}, "filtering.rules[0].action"},
		{"mongo source without uri", func(c *Config) {
			c.Filtering.Enabled = true
			c.Filtering.Source = constants.FilterSourceMongoDB
		}, "database.mongodb.uri"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := ValidateStatic(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateStatic_MemoryBrokerNeedsNoHost(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Broker.Type = constants.BrokerTypeMemory
	cfg.Broker.Host = ""
	cfg.Broker.Port = 0

	assert.NoError(t, ValidateStatic(cfg))
}
