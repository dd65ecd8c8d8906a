// Package main provides the Pipewatch lineage observability service.
//
// Pipewatch serves runtime data-lineage views, broad health checks, and test
// reports computed from dbt build artifacts (manifest.json, catalog.json,
// sources.json) dropped into its artifact directory.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/pipewatch-io/pipewatch/internal/api"
	"github.com/pipewatch-io/pipewatch/internal/api/middleware"
	"github.com/pipewatch-io/pipewatch/internal/artifact"
	"github.com/pipewatch-io/pipewatch/internal/cache"
	"github.com/pipewatch-io/pipewatch/internal/checks"
	"github.com/pipewatch-io/pipewatch/internal/classify"
	"github.com/pipewatch-io/pipewatch/internal/observability"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "pipewatch"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting Pipewatch service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("artifact_dir", serverConfig.ArtifactDir),
		slog.Bool("watch_artifacts", serverConfig.WatchArtifacts),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Load rate limiter configuration
	middlewareConfig := middleware.LoadConfig()

	// Create rate limiter instance (graceful shutdown handled by server.shutdown())
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
	)

	// Classifier extensions are optional; built-in rules cover the common cases.
	classifierConfig, err := classify.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("Failed to load classifier config, using built-in rules",
			slog.String("error", err.Error()),
		)

		classifierConfig = nil
	}

	classifier := classify.NewClassifier(classifierConfig)

	thresholds := checks.LoadThresholds()
	evaluator := checks.NewEvaluator(thresholds, classifier)

	logger.Info("Broad-check thresholds loaded",
		slog.Float64("volume_deviation_pct", thresholds.VolumeDeviationPct),
		slog.Int("freshness_minutes", thresholds.FreshnessMinutes),
		slog.Int("reference_freshness_minutes", thresholds.ReferenceFreshnessMinutes),
	)

	store := artifact.NewStore(serverConfig.ArtifactDir, logger)
	collector := observability.NewCollector(name)

	server := api.NewServer(serverConfig, store, evaluator, rateLimiter, collector)

	if serverConfig.WatchArtifacts {
		responseCache := server.Cache()

		watcher, watchErr := artifact.NewWatcher(serverConfig.ArtifactDir, 0, func() {
			store.ClearAll()

			hot, _ := responseCache.InvalidateLayer(cache.LayerHot)
			warm, _ := responseCache.InvalidateLayer(cache.LayerWarm)
			collector.ArtifactReloads.Inc()

			logger.Info("Artifacts changed on disk, caches invalidated",
				slog.Int("hot_evicted", hot),
				slog.Int("warm_evicted", warm),
			)
		}, logger)
		if watchErr != nil {
			// The watcher is an optimization; without it stale payloads age
			// out through the cache TTLs.
			logger.Warn("Artifact watcher unavailable, relying on cache TTLs",
				slog.String("error", watchErr.Error()),
			)
		} else {
			defer func() {
				_ = watcher.Close()
			}()
		}
	}

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Pipewatch service stopped")
}
