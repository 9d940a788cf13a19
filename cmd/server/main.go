package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/auth"
	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/compare"
	"github.com/maes-platform/compliance-core/internal/config"
	"github.com/maes-platform/compliance-core/internal/db"
	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/httpapi"
	"github.com/maes-platform/compliance-core/internal/queue"
	"github.com/maes-platform/compliance-core/internal/report"
	"github.com/maes-platform/compliance-core/internal/scheduler"
	"github.com/maes-platform/compliance-core/internal/store"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "compliance-api").Logger()

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

	ctx := context.Background()

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
	cat := catalog.Default()

	// The API hosts the scheduler CRUD surface; the timers themselves run
	// in the scheduler process.
	sched := scheduler.New(st, q)

	srv := &httpapi.Server{
		Store:      st,
		Queue:      q,
		Scheduler:  sched,
		Comparator: compare.New(st),
		Reports: report.New(report.Config{
			Store:   st,
			Catalog: cat,
			Dir:     cfg.ReportsDir,
		}),
		Graph: graph.NewFactory(graph.FactoryOptions{CertDir: cfg.CertDir}),
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(auth.ServiceCfg{Token: cfg.ServiceAuthToken}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
