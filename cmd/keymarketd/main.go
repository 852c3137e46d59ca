package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"keymarket/config"
	"keymarket/events"
	"keymarket/market"
	"keymarket/observability/logging"
	telemetry "keymarket/observability/otel"
	"keymarket/server"
	"keymarket/storage"
	"keymarket/storage/postgres"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to keymarketd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("keymarketd: load config: %v", err)
	}

	logger := logging.Setup("keymarketd", cfg.Telemetry.Environment, cfg.LogLevel)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "keymarketd",
		Environment: cfg.Telemetry.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("keymarketd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	var store market.Store
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		store = storage.NewMemory()
	case config.BackendSQLite:
		dsn := cfg.Storage.DatabasePath
		if !strings.HasPrefix(dsn, "file:") {
			resolved, err := storage.FileDSN(dsn)
			if err != nil {
				log.Fatalf("keymarketd: resolve storage DSN: %v", err)
			}
			dsn = resolved
		}
		db, err := storage.Open(dsn)
		if err != nil {
			log.Fatalf("keymarketd: open storage: %v", err)
		}
		defer db.Close()
		store = db
	case config.BackendPostgres:
		pool, err := postgres.NewStore(context.Background(), cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("keymarketd: connect postgres: %v", err)
		}
		defer pool.Close()
		store = pool
	default:
		log.Fatalf("keymarketd: unknown storage backend %q", cfg.Storage.Backend)
	}

	params, err := cfg.MarketParams()
	if err != nil {
		log.Fatalf("keymarketd: market params: %v", err)
	}
	engine, err := market.NewEngine(store, params)
	if err != nil {
		log.Fatalf("keymarketd: market engine: %v", err)
	}

	if len(cfg.Events.Brokers) > 0 {
		emitter := events.NewKafkaEmitter(events.KafkaConfig{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
		}, logger)
		defer func() {
			if err := emitter.Close(); err != nil {
				logger.Error("keymarketd: close event emitter", "error", err)
			}
		}()
		engine.SetEmitter(emitter)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		ShutdownGrace: cfg.ShutdownGrace.Duration,
	}, engine, logger)
	if err != nil {
		log.Fatalf("keymarketd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("keymarketd: http server error", "error", err)
		os.Exit(1)
	}
}
