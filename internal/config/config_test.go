package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Equal(t, 9091, cfg.HealthPort)
	assert.Equal(t, 16, cfg.Engine.MaxWorkers)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 1000, cfg.Events.RingCapacity)
	assert.Equal(t, 64, cfg.Events.SubscriberQueueCapacity)
	assert.Contains(t, cfg.Providers, "aws")
	assert.Contains(t, cfg.Providers, "azure")
	assert.Contains(t, cfg.Providers, "gcp")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr string
	}{
		{
			name:   "valid default plus one enabled provider",
			mutate: func(c *Configuration) { c.Providers["aws"] = ProviderConfig{Enabled: true} },
		},
		{
			name: "zero workers",
			mutate: func(c *Configuration) {
				c.Providers["aws"] = ProviderConfig{Enabled: true}
				c.Engine.MaxWorkers = 0
			},
			wantErr: "max_workers",
		},
		{
			name: "same metrics and health ports",
			mutate: func(c *Configuration) {
				c.Providers["aws"] = ProviderConfig{Enabled: true}
				c.HealthPort = c.MetricsPort
			},
			wantErr: "cannot be the same",
		},
		{
			name: "invalid log level",
			mutate: func(c *Configuration) {
				c.Providers["aws"] = ProviderConfig{Enabled: true}
				c.LogLevel = "TRACE"
			},
			wantErr: "invalid log_level",
		},
		{
			name:    "no provider enabled",
			mutate:  func(c *Configuration) {},
			wantErr: "at least one provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROVIDERS_AWS_ENABLED", "true")
	t.Setenv("PROVIDERS_AWS_DEFAULT_CONTAINER", "my-bucket")
	t.Setenv("ENGINE_MAX_WORKERS", "32")
	t.Setenv("ENGINE_MAX_ATTEMPTS", "5")
	t.Setenv("EVENTS_HEARTBEAT_SECONDS", "5")
	t.Setenv("CLASSIFIER_MIN_SAVINGS_THRESHOLD", "1.25")
	t.Setenv("ORCHESTRATOR_LOG_LEVEL", "DEBUG")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())

	assert.True(t, cfg.Providers["aws"].Enabled)
	assert.Equal(t, "my-bucket", cfg.Providers["aws"].DefaultContainer)
	assert.Equal(t, 32, cfg.Engine.MaxWorkers)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 5, cfg.Events.HeartbeatSeconds)
	assert.Equal(t, 1.25, cfg.Classifier.MinSavingsThreshold)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvLeavesUnsetAtDefault(t *testing.T) {
	cfg := NewDefault()
	before := cfg.Engine.MaxWorkers
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, before, cfg.Engine.MaxWorkers)
}
