package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/internal/logger"
)

// ConnectDB парсит DSN и подключается к Postgres с повторами, пока не истечёт maxWait.
func ConnectDB(ctx context.Context, dsn string, maxConns int, maxWait time.Duration) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	poolCfg.MinConns = 2
	return ConnectDBWithRetry(ctx, poolCfg, maxWait)
}

// ConnectDBWithRetry подключается к Postgres с повторами; при недоступности БД не роняет процесс сразу.
func ConnectDBWithRetry(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration) (*pgxpool.Pool, error) {
	deadline := time.Now().Add(maxWait)
	return retry(ctx, deadline, "db", func() (*pgxpool.Pool, error) {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(cctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(cctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		return pool, nil
	})
}

// retry повторяет connect с экспоненциальной паузой (2s..30s) до deadline.
func retry[T any](ctx context.Context, deadline time.Time, what string, connect func() (T, error)) (T, error) {
	backoff := 2 * time.Second
	for {
		v, err := connect()
		if err == nil {
			return v, nil
		}
		if time.Now().After(deadline) {
			var zero T
			return zero, fmt.Errorf("%s connect (gave up): %w", what, err)
		}
		logger.Errorf("%s connect failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
