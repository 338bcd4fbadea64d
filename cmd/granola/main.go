package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efreitasn/granola/internal/config"
	"github.com/efreitasn/granola/internal/event"
	"github.com/efreitasn/granola/internal/handler"
	"github.com/efreitasn/granola/internal/server"
	"github.com/efreitasn/granola/internal/service"
	"github.com/efreitasn/granola/internal/store"
	"github.com/efreitasn/granola/internal/store/pebblestore"
	"github.com/efreitasn/granola/internal/store/postgres"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Handle -healthcheck flag: GET /orders on the configured address, exit 0/1.
	if *healthcheck {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/orders", cfg.Addr()))
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	orders := store.NewGuarded(backend)
	defer func() {
		if err := orders.Close(); err != nil {
			logger.Error("error closing store", slog.String("error", err.Error()))
		}
	}()
	if err := orders.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	var publisher event.Publisher = event.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = event.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("publishing order events",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaTopic),
		)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing event publisher", slog.String("error", err.Error()))
		}
	}()

	orderSvc := service.NewOrderService(orders, publisher, logger)

	if cfg.SeedCount > 0 {
		now := uint64(time.Now().UnixNano())
		rng := rand.New(rand.NewPCG(now, now>>1))
		n, err := orderSvc.Seed(ctx, cfg.SeedCount, rng)
		if err != nil {
			return fmt.Errorf("seed orders: %w", err)
		}
		if n > 0 {
			logger.Info("seeded sample orders", slog.Int("count", n))
		}
	}

	srv := server.New(handler.NewRouter(orderSvc, logger), server.Options{
		ReadBufferSize:  cfg.ReadBufferSize,
		MaxRequestBytes: cfg.MaxRequestBytes,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxConnections:  cfg.MaxConnections,
	}, logger)

	if err := srv.ListenAndServe(ctx, cfg.Addr()); err != nil {
		return err
	}
	logger.Info("shutdown signal received")

	// Drain in-flight connections before the store is closed.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Wait(shutdownCtx); err != nil {
		logger.Error("in-flight connections did not finish", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case config.BackendPebble:
		s, err := pebblestore.Open(cfg.DataDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open pebble store in %s: %w", cfg.DataDir, err)
		}
		return s, nil
	}
	return nil, errors.New("unknown store backend " + cfg.StoreBackend)
}
