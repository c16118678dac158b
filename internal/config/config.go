package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig is the per-provider block of providers.{aws,azure,gcp}.*.
type ProviderConfig struct {
	Enabled          bool
	CredentialsRef   string
	DefaultContainer string
}

// ClassifierConfig configures the Placement Classifier.
type ClassifierConfig struct {
	MinSavingsThreshold float64
	AccessWindowDays    int
}

// EngineConfig configures the Migration Engine's worker pool and limits.
type EngineConfig struct {
	MaxWorkers            int
	MaxAttempts           int
	PerRouteConcurrency   int
	ReadyQueueCapacity    int
	FileDeadlineSeconds   int
	PerJobParallelism     int
	MaxActiveJobsPerOwner int
	DedupWindow           time.Duration
}

// EventsConfig configures the Event Bus.
type EventsConfig struct {
	RingCapacity            int
	SubscriberQueueCapacity int
	HeartbeatSeconds        int
}

// AuthConfig configures token issuance. TokenTTLSeconds is loaded from
// AUTH_TOKEN_TTL_SECONDS but is not passed to the auth service: issued
// tokens always expire after auth.TokenTTL.
type AuthConfig struct {
	TokenTTLSeconds int
	SigningKeyRef   string
}

// CatalogConfig configures periodic refresh.
type CatalogConfig struct {
	RefreshIntervalSeconds int
}

// Configuration is the complete process configuration, populated from
// environment variables per the External Interfaces configuration set.
type Configuration struct {
	Providers  map[string]ProviderConfig
	Classifier ClassifierConfig
	Engine     EngineConfig
	Events     EventsConfig
	Auth       AuthConfig
	Catalog    CatalogConfig

	LogLevel    string
	MetricsPort int
	HealthPort  int
}

// NewDefault returns a configuration with sensible defaults, mirroring
// the shape environment variables override in LoadFromEnv.
func NewDefault() *Configuration {
	return &Configuration{
		Providers: map[string]ProviderConfig{
			"aws":   {},
			"azure": {},
			"gcp":   {},
		},
		Classifier: ClassifierConfig{
			MinSavingsThreshold: 0.50,
			AccessWindowDays:    30,
		},
		Engine: EngineConfig{
			MaxWorkers:            16,
			MaxAttempts:           3,
			PerRouteConcurrency:   4,
			ReadyQueueCapacity:    1000,
			FileDeadlineSeconds:   60,
			PerJobParallelism:     8,
			MaxActiveJobsPerOwner: 20,
			DedupWindow:           10 * time.Minute,
		},
		Events: EventsConfig{
			RingCapacity:            1000,
			SubscriberQueueCapacity: 64,
			HeartbeatSeconds:        15,
		},
		Auth: AuthConfig{
			TokenTTLSeconds: 3600,
			SigningKeyRef:   "",
		},
		Catalog: CatalogConfig{
			RefreshIntervalSeconds: 300,
		},
		LogLevel:    "INFO",
		MetricsPort: 9090,
		HealthPort:  9091,
	}
}

// LoadFromEnv overlays environment variables onto c, leaving unset
// variables at their current (default) value.
func (c *Configuration) LoadFromEnv() error {
	for _, name := range []string{"aws", "azure", "gcp"} {
		p := c.Providers[name]
		prefix := "PROVIDERS_" + strings.ToUpper(name) + "_"
		if val := os.Getenv(prefix + "ENABLED"); val != "" {
			p.Enabled = strings.EqualFold(val, "true")
		}
		if val := os.Getenv(prefix + "CREDENTIALS_REF"); val != "" {
			p.CredentialsRef = val
		}
		if val := os.Getenv(prefix + "DEFAULT_CONTAINER"); val != "" {
			p.DefaultContainer = val
		}
		c.Providers[name] = p
	}

	if val := os.Getenv("CLASSIFIER_MIN_SAVINGS_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Classifier.MinSavingsThreshold = f
		}
	}
	if val := os.Getenv("CLASSIFIER_ACCESS_WINDOW_DAYS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Classifier.AccessWindowDays = n
		}
	}

	if val := os.Getenv("ENGINE_MAX_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.MaxWorkers = n
		}
	}
	if val := os.Getenv("ENGINE_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.MaxAttempts = n
		}
	}
	if val := os.Getenv("ENGINE_PER_ROUTE_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.PerRouteConcurrency = n
		}
	}
	if val := os.Getenv("ENGINE_READY_QUEUE_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.ReadyQueueCapacity = n
		}
	}
	if val := os.Getenv("ENGINE_FILE_DEADLINE_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.FileDeadlineSeconds = n
		}
	}

	if val := os.Getenv("EVENTS_RING_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Events.RingCapacity = n
		}
	}
	if val := os.Getenv("EVENTS_SUBSCRIBER_QUEUE_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Events.SubscriberQueueCapacity = n
		}
	}
	if val := os.Getenv("EVENTS_HEARTBEAT_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Events.HeartbeatSeconds = n
		}
	}

	if val := os.Getenv("AUTH_TOKEN_TTL_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Auth.TokenTTLSeconds = n
		}
	}
	if val := os.Getenv("AUTH_SIGNING_KEY_REF"); val != "" {
		c.Auth.SigningKeyRef = val
	}

	if val := os.Getenv("CATALOG_REFRESH_INTERVAL_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Catalog.RefreshIntervalSeconds = n
		}
	}

	if val := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("ORCHESTRATOR_METRICS_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MetricsPort = n
		}
	}
	if val := os.Getenv("ORCHESTRATOR_HEALTH_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.HealthPort = n
		}
	}

	return nil
}

// Validate rejects configurations that would make components unable to
// start safely.
func (c *Configuration) Validate() error {
	if c.Engine.MaxWorkers <= 0 {
		return fmt.Errorf("engine.max_workers must be greater than 0")
	}
	if c.Engine.PerJobParallelism <= 0 {
		return fmt.Errorf("engine.per_job_parallelism must be greater than 0")
	}
	if c.Engine.ReadyQueueCapacity <= 0 {
		return fmt.Errorf("engine.ready_queue_capacity must be greater than 0")
	}
	if c.Events.RingCapacity <= 0 {
		return fmt.Errorf("events.ring_capacity must be greater than 0")
	}
	if c.Events.SubscriberQueueCapacity <= 0 {
		return fmt.Errorf("events.subscriber_queue_capacity must be greater than 0")
	}
	if c.MetricsPort == c.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	anyEnabled := false
	for _, p := range c.Providers {
		if p.Enabled {
			anyEnabled = true
			break
		}
	}
	if !anyEnabled {
		return fmt.Errorf("at least one provider must be enabled")
	}

	return nil
}
