package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/yourusername/campus-auth/internal/config"
	"github.com/yourusername/campus-auth/internal/store"
	"github.com/yourusername/campus-auth/internal/store/memstore"
	"github.com/yourusername/campus-auth/internal/store/mongostore"
	"github.com/yourusername/campus-auth/internal/store/redisstore"
)

const storeRetryBase = 500 * time.Millisecond

type connectFunc func(ctx context.Context) (store.Gateway, error)

// connectorFor は設定に応じたストアの接続関数を返します。
func connectorFor(cfg *config.Config) (connectFunc, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		return func(ctx context.Context) (store.Gateway, error) {
			return mongostore.Connect(ctx, cfg.DBURI, cfg.DBName)
		}, nil
	case config.StoreDriverRedis:
		return func(ctx context.Context) (store.Gateway, error) {
			return redisstore.Connect(ctx, cfg.RedisURL)
		}, nil
	case config.StoreDriverMemory:
		return func(ctx context.Context) (store.Gateway, error) {
			return memstore.New(), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}

// setupStore はストアに接続します。失敗時は指数バックオフで上限回数までリトライします。
func setupStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Gateway, error) {
	connect, err := connectorFor(cfg)
	if err != nil {
		return nil, err
	}
	return connectWithRetry(ctx, connect, uint64(cfg.StoreConnectRetries), cfg.StoreConnectTimeout, logger)
}

func connectWithRetry(ctx context.Context, connect connectFunc, retries uint64, timeout time.Duration, logger *slog.Logger) (store.Gateway, error) {
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(storeRetryBase))

	var (
		gw      store.Gateway
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		conn, err := connect(attemptCtx)
		if err != nil {
			logger.Warn("store connection attempt failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		gw = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect store after %d attempts: %w", attempt, err)
	}
	return gw, nil
}
