// Package database provides connection setup for MariaDB, Redis and NATS.
// Connections are created once at startup and shared across the
// application via dependency injection. This package owns the connection
// lifecycle (open, configure pool, ping, close).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MariaDB driver -- imported for side effect of registering the driver.
	_ "github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/activitylog/internal/config"
)

// pingTimeout bounds each readiness probe.
const pingTimeout = 5 * time.Second

// NewMariaDB opens the activity store pool and waits until MariaDB answers.
// The store is the only hard dependency of the server, so it is given the
// longest startup grace.
func NewMariaDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := waitReady(ctx, "mariadb", 10, time.Second, db.PingContext); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// waitReady calls ping until it succeeds, doubling the pause between
// attempts up to 30s. It gives up after attempts tries or when ctx ends.
func waitReady(ctx context.Context, name string, attempts int, backoff time.Duration, ping func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			return fmt.Errorf("pinging %s after %d attempts: %w", name, attempt, err)
		}

		slog.Warn("dependency not ready, retrying",
			slog.String("dependency", name),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", name, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}
