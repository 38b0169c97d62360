package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

// connectDelays bounds how long startup waits for PostgreSQL to accept connections.
var connectDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second}

// NewPool は PostgreSQL 接続プールを生成する。
// コンテナ起動直後は DB がまだ接続を受け付けないことがあるため Ping を数回再試行する
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(len(connectDelays)+1)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return connectDelays[min(int(n), len(connectDelays)-1)]
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("database not ready, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Open returns the SubmissionRepository for the configured driver.
func Open(ctx context.Context, driver, dsn string) (SubmissionRepository, error) {
	switch driver {
	case "", "postgres", "pgx":
		pool, err := NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewPgSubmissionRepository(pool), nil
	case "sqlite":
		return NewSQLiteSubmissionRepository(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}
