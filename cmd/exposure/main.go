package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-exposure/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/quake-exposure/internal/adapter/kafka"
	"github.com/couchcryptid/quake-exposure/internal/adapter/naturalearth"
	"github.com/couchcryptid/quake-exposure/internal/adapter/postgres"
	"github.com/couchcryptid/quake-exposure/internal/adapter/usgs"
	"github.com/couchcryptid/quake-exposure/internal/config"
	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
	"github.com/couchcryptid/quake-exposure/internal/pipeline"
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	engine, err := newEngine(cfg, logger)
	if err != nil {
		logger.Error("failed to create scoring engine", "error", err)
		os.Exit(1)
	}

	events := usgs.NewCachedSource(usgs.NewClient(cfg, clock, metrics, logger), cfg.USGSCacheTTL, metrics)
	places := naturalearth.NewSource(cfg, naturalearth.NewFileCache(cfg.PlacesCacheDir, cfg.PlacesCacheTTL, clock), metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sinks []pipeline.Sink

	// Kafka sink (feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS).
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, metrics, logger)
		sinks = append(sinks, writer)
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka sink disabled")
	}

	// Postgres sink (enabled by DATABASE_URL).
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, postgres.NewStore(pool, metrics, logger))
		logger.Info("postgres sink enabled")
	} else {
		logger.Info("postgres sink disabled")
	}

	p := pipeline.New(events, places, engine, sinks, clock, cfg.ScoreInterval, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start scoring pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if pool != nil {
		pool.Close()
	}

	logger.Info("shutdown complete")
}

func newEngine(cfg *config.Config, logger *slog.Logger) (*domain.Engine, error) {
	var index domain.IndexBuilder
	if cfg.SpatialIndex == config.IndexGrid {
		var err error
		index, err = domain.NewGridIndexBuilder(cfg.GridCellDegrees)
		if err != nil {
			return nil, err
		}
	}
	engine, err := domain.NewEngine(cfg.Scoring, index, cfg.ScoringWorkers, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("scoring engine ready",
		"model_version", engine.ModelVersion(),
		"influence_radius_km", cfg.Scoring.InfluenceRadiusKm,
		"min_magnitude", cfg.Scoring.MinMagnitudeConsidered,
		"index", cfg.SpatialIndex,
		"workers", cfg.ScoringWorkers,
	)
	return engine, nil
}
