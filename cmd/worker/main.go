package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/checkers"
	"github.com/maes-platform/compliance-core/internal/config"
	"github.com/maes-platform/compliance-core/internal/db"
	"github.com/maes-platform/compliance-core/internal/engine"
	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/queue"
	"github.com/maes-platform/compliance-core/internal/store"
	"github.com/maes-platform/compliance-core/internal/worker"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "compliance-worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Pretty logging for local dev
	if cfg.Dev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	st := store.NewPG(pool)
	q := queue.New(rdb)
	factory := graph.NewFactory(graph.FactoryOptions{CertDir: cfg.CertDir})
	publisher := worker.NewProgressPublisher(q)

	eng := engine.New(engine.Config{
		Store:    st,
		Catalog:  catalog.Default(),
		Registry: checkers.NewRegistry(),
		ClientFor: func(tenant model.Tenant) (graph.Caller, error) {
			return factory.Client(tenant)
		},
		Progress: publisher.Publish,
	})

	workers := worker.New(worker.Config{
		Queue:       q,
		Engine:      eng,
		Progress:    publisher,
		Concurrency: cfg.WorkerConcurrency,
	})

	log.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	workers.Run(ctx)
	log.Info().Msg("worker stopped")
}
