package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"

	"github.com/yashasviy/escrow-payments-api/api"
	"github.com/yashasviy/escrow-payments-api/config"
	"github.com/yashasviy/escrow-payments-api/db"
	"github.com/yashasviy/escrow-payments-api/middleware"
	"github.com/yashasviy/escrow-payments-api/service"
	"github.com/yashasviy/escrow-payments-api/settlement"
	"github.com/yashasviy/escrow-payments-api/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Redis: idempotency cache and settlement channel
	var (
		rdb     *redis.Client
		options []service.Option
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		options = append(options, service.WithSettler(settlement.NewRedisSettler(rdb, cfg.Settlement.Channel)))
	}

	// 2. Escrow store
	var st store.Store
	switch cfg.Store.Backend {
	case "postgres":
		conn, err := sql.Open("pgx", cfg.DB.URL)
		if err != nil {
			return fmt.Errorf("db driver: %w", err)
		}
		defer conn.Close()
		if err := conn.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		if err := db.Initialize(ctx, conn); err != nil {
			return err
		}
		logger.Info("postgres connected")
		st = store.NewPostgres(conn)
	default:
		st = store.NewMemory()
	}

	// 3. Start Server
	svc := service.New(st, logger, options...)
	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(svc, logger, api.RouterConfig{
			Redis: rdb,
			Idempotency: middleware.IdempotencyOptions{
				CacheTTL:    cfg.Idempotency.TTL,
				LockTimeout: cfg.Idempotency.LockTimeout,
			},
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTP.Addr), zap.String("store", cfg.Store.Backend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
