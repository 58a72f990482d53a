package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulseone/vpengine/internal/api"
	"pulseone/vpengine/internal/common"
	"pulseone/vpengine/internal/config"
	"pulseone/vpengine/internal/constants"
	"pulseone/vpengine/internal/db"
	"pulseone/vpengine/internal/db/repositories"
	"pulseone/vpengine/internal/graph"
	"pulseone/vpengine/internal/jobs"
	"pulseone/vpengine/internal/logging"
	"pulseone/vpengine/internal/metrics"
	"pulseone/vpengine/internal/providers"
	"pulseone/vpengine/internal/routes"
	"pulseone/vpengine/internal/workers"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	if err := logging.Init(cfg.AppEnv); err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logging.Close()

	logging.Info("Virtual point engine starting up",
		"environment", cfg.AppEnv,
		"timestamp", time.Now().Format(time.RFC3339),
		"datapoint_source", cfg.DataPoints.Source,
		"resolution_mode", cfg.Scheduler.ResolutionMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orm, err := db.InitORM(cfg.Database)
	if err != nil {
		logging.Error("Failed to open definitions database", "error", err)
		log.Fatalf("❌ Failed to open definitions database: %v", err)
	}

	var telemetryDB *sqlx.DB
	if cfg.Database.Driver == "postgres" {
		if telemetryDB, err = db.InitPostgres(cfg.Database.DSN()); err != nil {
			logging.Error("Failed to connect to Postgres (sqlx)", "error", err)
			log.Fatalf("❌ Failed to connect to Postgres (sqlx): %v", err)
		}
		defer telemetryDB.Close()
		logging.Info("Connected to Postgres (sqlx)")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = common.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
	}

	metricsReg := metrics.NewMetricsRegistry()

	dataPoints, cached := buildDataPointProvider(cfg, telemetryDB, redisClient, metricsReg)

	var scopes providers.ScopeProvider = &providers.PermissiveScopeProvider{}
	if telemetryDB != nil {
		scopes = providers.NewSQLScopeProvider(telemetryDB)
	}

	var publisher providers.ResultPublisher
	if redisClient != nil && cfg.Results.Publish {
		publisher = providers.NewRedisResultPublisher(redisClient, 0)
	}

	pointsRepo := repositories.NewVirtualPointRepo(orm)
	execRepo := repositories.NewExecutionRepo(orm)
	writer := workers.NewResultWriter(pointsRepo, execRepo, publisher, metricsReg, cfg.Results.BatchSize, cfg.Results.FlushInterval)

	scheduler := workers.NewScheduler(workers.OptionsFromConfig(cfg.Scheduler), dataPoints, graph.New(), writer, metricsReg)
	loaded, err := workers.LoadScheduler(ctx, pointsRepo, scheduler)
	if err != nil {
		logging.Warn("Some virtual points could not be scheduled", "error", err)
	}
	scheduler.Start()
	logging.Info("Scheduler started", "points", loaded)

	g, gctx := errgroup.WithContext(ctx)

	// The writer outlives the scheduler so the runs drained at shutdown are persisted
	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()
	g.Go(func() error {
		writer.Run(writerCtx)
		return nil
	})

	if redisClient != nil {
		var inv workers.Invalidator
		if cached != nil {
			inv = cached
		}
		listener := workers.NewDataPointListener(
			workers.RedisChangeSubscriber(redisClient, constants.RedisDataPointChangedTopic),
			scheduler, inv, metricsReg,
		)
		g.Go(func() error {
			if err := listener.Run(gctx); err != nil {
				logging.Error("Data point change listener stopped", "error", err)
			}
			return nil
		})
	}

	jobs.InitializeJobs(gctx, cfg.History, execRepo, metricsReg)

	deps := api.InitDependencies(orm, scheduler, scopes)
	if err := deps.Services.Templates.SeedSystemTemplates(ctx); err != nil {
		logging.Warn("Failed to seed system formula templates", "error", err)
	}
	deps.TelemetryDB = telemetryDB
	if redisClient != nil {
		deps.Redis = redisClient
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           routes.RegisterRoutes(cfg, deps, metricsReg, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logging.Info("Server starting", "addr", cfg.HTTPAddr, "environment", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("HTTP server shutdown incomplete", "error", err)
		}
		if err := scheduler.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Scheduler shutdown incomplete", "error", err)
		}
		stopWriter()
		if err := writer.Wait(shutdownCtx); err != nil {
			logging.Warn("Result writer did not finish flushing", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logging.Info("Server stopped")
}

// buildDataPointProvider selects the telemetry source and wraps it in the
// short-lived cache. The cache is returned separately so change events can
// invalidate it.
func buildDataPointProvider(cfg config.Config, telemetryDB *sqlx.DB, redisClient *redis.Client, m *metrics.MetricsRegistry) (providers.DataPointProvider, *providers.CachedDataPointProvider) {
	var inner providers.DataPointProvider
	switch cfg.DataPoints.Source {
	case config.DataPointSourceRedis:
		inner = providers.NewRedisDataPointProvider(redisClient, cfg.DataPoints.MaxAge)
	case config.DataPointSourcePostgres:
		inner = providers.NewPostgresDataPointProvider(telemetryDB, cfg.DataPoints.MaxAge, m)
	default:
		inner = providers.NewStaticDataPointProvider()
	}

	if cfg.DataPoints.CacheTTL <= 0 {
		return inner, nil
	}
	cache := common.NewCacheService(cfg.DataPoints.CacheTTL, 10*cfg.DataPoints.CacheTTL)
	cached := providers.NewCachedDataPointProvider(inner, cache, cfg.DataPoints.CacheTTL, m)
	return cached, cached
}
