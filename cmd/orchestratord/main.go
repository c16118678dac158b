// Command orchestratord wires every orchestrator component into a
// single process: it reads configuration from the environment,
// constructs the enabled provider adapters, and starts the Migration
// Engine's worker pool and the Control API's HTTP server.
package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflux/orchestrator/internal/api"
	"github.com/cloudflux/orchestrator/internal/auth"
	"github.com/cloudflux/orchestrator/internal/catalog"
	"github.com/cloudflux/orchestrator/internal/classifier"
	"github.com/cloudflux/orchestrator/internal/config"
	"github.com/cloudflux/orchestrator/internal/costmodel"
	"github.com/cloudflux/orchestrator/internal/eventbus"
	"github.com/cloudflux/orchestrator/internal/metrics"
	"github.com/cloudflux/orchestrator/internal/migration"
	"github.com/cloudflux/orchestrator/internal/predictor"
	"github.com/cloudflux/orchestrator/internal/provider"
	"github.com/cloudflux/orchestrator/pkg/health"
	"github.com/cloudflux/orchestrator/pkg/types"
)

func main() {
	cfg := config.NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	adapters, err := buildAdapters(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to construct provider adapters", "error", err)
		os.Exit(1)
	}
	if len(adapters) == 0 {
		logger.Error("no providers enabled; nothing to orchestrate")
		os.Exit(1)
	}

	healthTracker := health.NewTracker(health.DefaultConfig())
	for name := range adapters {
		healthTracker.RegisterComponent(string(name))
	}
	healthTracker.AddHealthListener(&healthEventLogger{logger: logger})

	metricsCollector, err := metrics.NewCollector(&metrics.Config{
		Enabled: true, Port: cfg.MetricsPort, Path: "/metrics", Namespace: "orchestrator",
	})
	if err != nil {
		logger.Error("failed to construct metrics collector", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := metricsCollector.Start(ctx); err != nil {
		logger.Error("failed to start metrics collector", "error", err)
		os.Exit(1)
	}

	containers := make(map[types.Provider]string)
	for name, p := range cfg.Providers {
		containers[types.Provider(name)] = p.DefaultContainer
	}
	go healthTracker.StartHealthChecks(ctx, providerLivenessCheck(adapters, containers))

	cat := catalog.New(logger)
	cat.SetMetrics(metricsCollector)
	pred := predictor.New(logger)
	costModel := costmodel.DefaultModel()
	if path := os.Getenv("COSTMODEL_PRICE_TABLE_PATH"); path != "" {
		m, err := costmodel.LoadPriceTable(path)
		if err != nil {
			logger.Error("failed to load cost model price table", "path", path, "error", err)
			os.Exit(1)
		}
		costModel = m
	}
	clf := classifier.New(logger, costModel, pred, classifier.Config{
		MinSavingsThreshold: cfg.Classifier.MinSavingsThreshold,
	})
	clf.SetMetrics(metricsCollector)

	bus := eventbus.New(logger, eventbus.Config{
		RingCapacity:            cfg.Events.RingCapacity,
		SubscriberQueueCapacity: cfg.Events.SubscriberQueueCapacity,
		HeartbeatInterval:       time.Duration(cfg.Events.HeartbeatSeconds) * time.Second,
	})
	bus.SetMetrics(metricsCollector)
	defer bus.Stop()

	engine := migration.New(logger, migration.Config{
		MaxWorkers:            cfg.Engine.MaxWorkers,
		MaxAttempts:           cfg.Engine.MaxAttempts,
		PerRouteConcurrency:   cfg.Engine.PerRouteConcurrency,
		ReadyQueueCapacity:    cfg.Engine.ReadyQueueCapacity,
		FileDeadline:          time.Duration(cfg.Engine.FileDeadlineSeconds) * time.Second,
		PerJobParallelism:     cfg.Engine.PerJobParallelism,
		MaxActiveJobsPerOwner: cfg.Engine.MaxActiveJobsPerOwner,
		DedupWindow:           cfg.Engine.DedupWindow,
	}, adapters, cat, bus, migration.NewMemoryStore())
	engine.SetMetrics(metricsCollector)
	engine.SetHealth(healthTracker)
	engine.Start()
	defer engine.Stop()

	signingKey, err := resolveSigningKey(cfg.Auth.SigningKeyRef)
	if err != nil {
		logger.Error("failed to resolve auth signing key", "error", err)
		os.Exit(1)
	}
	authSvc := auth.New(logger, auth.NewMemoryStore(), signingKey)

	startPeriodicRefresh(ctx, logger, cat, clf, healthTracker, adapters, cfg)

	server := api.New(logger, api.Config{
		Address:      ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}, authSvc, cat, clf, costModel, engine, bus, healthTracker, adapters)
	server.StartBackground()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down control API", "error", err)
	}
	if err := metricsCollector.Stop(shutdownCtx); err != nil {
		logger.Error("error shutting down metrics collector", "error", err)
	}
}

func buildAdapters(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (map[types.Provider]provider.Adapter, error) {
	adapters := make(map[types.Provider]provider.Adapter)

	if p := cfg.Providers["aws"]; p.Enabled {
		a, err := provider.NewAWSAdapter(ctx, "us-east-1", p.CredentialsRef, logger)
		if err != nil {
			return nil, err
		}
		adapters[types.ProviderAWS] = a
	}
	if p := cfg.Providers["azure"]; p.Enabled {
		account, key, _ := strings.Cut(p.CredentialsRef, ":")
		adapters[types.ProviderAzure] = provider.NewAzureAdapter(account, key, logger)
	}
	if p := cfg.Providers["gcp"]; p.Enabled {
		adapters[types.ProviderGCP] = provider.NewGCPAdapter(p.CredentialsRef, logger)
	}
	return adapters, nil
}

// startPeriodicRefresh runs one catalog refresh per enabled provider on
// the configured interval, until ctx is cancelled. Each successful
// refresh re-classifies every entry in the provider's partition, so
// CatalogEntry.Recommendation stays current without a client having to
// ask for it explicitly.
func startPeriodicRefresh(ctx context.Context, logger *slog.Logger, cat *catalog.Catalog, clf *classifier.Classifier,
	ht *health.Tracker, adapters map[types.Provider]provider.Adapter, cfg *config.Configuration) {
	interval := time.Duration(cfg.Catalog.RefreshIntervalSeconds) * time.Second
	if interval <= 0 {
		return
	}

	for name, providerCfg := range cfg.Providers {
		p := types.Provider(name)
		adapter, ok := adapters[p]
		if !ok || !providerCfg.Enabled {
			continue
		}
		container := providerCfg.DefaultContainer

		go func(adapter provider.Adapter, container string) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := cat.Refresh(ctx, adapter, container); err != nil {
						logger.Error("periodic catalog refresh failed", "provider", adapter.Provider(), "error", err)
						if ht != nil {
							ht.RecordError(string(adapter.Provider()), err)
						}
						continue
					}
					if ht != nil {
						ht.RecordSuccess(string(adapter.Provider()))
					}
					classifyPartition(cat, clf, adapter.Provider())
				}
			}
		}(adapter, container)
	}
}

// classifyPartition re-scores every entry of one provider's partition,
// per §3's rule that a catalog refresh drives a fresh placement pass
// rather than leaving Recommendation stale until someone polls it.
func classifyPartition(cat *catalog.Catalog, clf *classifier.Classifier, p types.Provider) {
	for _, e := range cat.List(catalog.Filter{Provider: p}) {
		cat.SetRecommendation(e.ObjectRef, clf.Classify(e))
	}
}

// providerLivenessCheck returns the probe StartHealthChecks calls per
// registered component: a cheap Enumerate against the provider's
// default container. A component that can't list its own container is
// treated the same as one that fails a real copy, so the Tracker
// degrades it before the Migration Engine or Catalog Refresher pay for
// the discovery themselves.
func providerLivenessCheck(adapters map[types.Provider]provider.Adapter, containers map[types.Provider]string) func(component string) error {
	return func(component string) error {
		p := types.Provider(component)
		adapter, ok := adapters[p]
		if !ok {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		it, err := adapter.Enumerate(ctx, containers[p], "")
		if err != nil {
			return err
		}
		it.Next(ctx)
		return it.Err()
	}
}

// healthEventLogger surfaces every Tracker state transition as a
// structured log line; components going degraded or unavailable show
// up in orchestratord's own logs without needing to poll /health.
type healthEventLogger struct {
	logger *slog.Logger
}

func (h *healthEventLogger) OnStateChange(component string, oldState, newState health.HealthState, err error) {
	h.logger.Warn("component health state changed", "component", component,
		"from", oldState.String(), "to", newState.String(), "error", err)
}

func (h *healthEventLogger) OnHealthCheck(component string, healthy bool, err error) {
	if !healthy {
		h.logger.Debug("component health check failed", "component", component, "error", err)
	}
}

func resolveSigningKey(ref string) ([]byte, error) {
	if ref != "" {
		return []byte(ref), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func waitForShutdown(logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("received shutdown signal", "signal", s.String())
}

func parseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
