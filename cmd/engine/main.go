package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"daytrade-core/internal/allocator"
	"daytrade-core/internal/compliance"
	"daytrade-core/internal/config"
	"daytrade-core/internal/engine"
	"daytrade-core/internal/events"
	"daytrade-core/internal/logging"
	"daytrade-core/internal/observability"
	"daytrade-core/internal/storage"
	chstore "daytrade-core/internal/storage/clickhouse"
	"daytrade-core/internal/storage/memory"
	"daytrade-core/internal/storage/migrations"
	pgstore "daytrade-core/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	migrate := flag.Bool("migrate", false, "Apply embedded migrations before starting")
	flag.Parse()

	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Metrics server
	if cfg.Engine.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Info().Str("addr", cfg.Engine.MetricsAddr).Msg("metrics server listening")
			if err := http.ListenAndServe(cfg.Engine.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	// Recorder: postgres when a DSN is configured, memory otherwise.
	// A schema mismatch is non-fatal; the engine starts degraded and
	// the monitor revalidates until the operator applies the fix SQL.
	var recorder storage.Recorder
	if cfg.Storage.DSN != "" {
		if *migrate {
			pool, err := pgstore.NewPool(ctx, cfg.Storage, logger)
			if err != nil {
				logger.Fatal().Err(err).Msg("connect for migrations")
			}
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				logger.Fatal().Err(err).Msg("apply migrations")
			}
			pool.Close()
			logger.Info().Msg("migrations applied")
		}

		pg, err := pgstore.NewRecorder(ctx, cfg.Storage, logger)
		var mismatch *storage.SchemaMismatchError
		switch {
		case err == nil:
			recorder = pg
		case errors.As(err, &mismatch):
			logger.Warn().Err(err).Msg("starting with schema mismatch")
			recorder = pg
		default:
			logger.Fatal().Err(err).Msg("storage unavailable")
		}
	} else {
		logger.Warn().Msg("no database configured, recording in memory only")
		recorder = memory.NewRecorder()
	}

	// Optional decision audit sink.
	var audit *chstore.DecisionAuditStore
	var auditConn *chstore.Conn
	if cfg.Clickhouse.DSN != "" {
		auditConn, err = migrations.RunClickhouseMigrations(ctx, cfg.Clickhouse.DSN)
		if err != nil {
			logger.Error().Err(err).Msg("decision audit sink unavailable, continuing without it")
		} else {
			audit = chstore.NewDecisionAuditStore(auditConn)
			defer auditConn.Close()
		}
	}

	bus := events.NewBus(logger)
	alloc := allocator.New(logger)
	tracker := compliance.New(cfg.Compliance, bus, alloc, logger)
	eng := engine.New(cfg.Engine, logger, bus, tracker, alloc, recorder, audit)

	if err := eng.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("engine start failed")
	}

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()
	eng.Stop()
}
