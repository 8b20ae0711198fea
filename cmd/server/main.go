// Package main is the entry point for the activity log server. It loads
// configuration, establishes the store, cache and bus connections, wires
// the plugins and starts the HTTP server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/keyxmakerx/activitylog/internal/app"
	"github.com/keyxmakerx/activitylog/internal/config"
	"github.com/keyxmakerx/activitylog/internal/database"
)

func main() {
	var (
		memory  bool
		migrate bool
	)

	cmd := &cobra.Command{
		Use:           "activitylog-server",
		Short:         "Serve the activity log HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), memory, migrate)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "keep records and options in process memory (development only)")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations at startup")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, memory, migrate bool) error {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Configure structured logging based on environment.
	setupLogging(cfg)

	slog.Info("starting activity log",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
		slog.Bool("memory", memory),
	)

	if memory && cfg.IsProduction() {
		return errors.New("--memory is not allowed in production")
	}

	// --- Connect to MariaDB ---
	var db *sql.DB
	if !memory {
		db, err = database.NewMariaDB(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("connected to MariaDB")

		if migrate {
			if err := database.RunMigrations(db, cfg.MigrationsPath); err != nil {
				return err
			}
		}
	}

	// --- Connect to Redis ---
	var rdb *redis.Client
	if !memory {
		rdb, err = database.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close()
			slog.Info("connected to Redis")
		}
	}

	// --- Connect to NATS ---
	var nc *nats.Conn
	nc, err = database.NewNATS(cfg.NATS)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Drain()
		slog.Info("connected to NATS", slog.String("url", nc.ConnectedUrl()))
	}

	// --- Create Application ---
	application, err := app.New(cfg, db, rdb, nc)
	if err != nil {
		return err
	}
	application.RegisterRoutes()

	// --- Graceful Shutdown ---
	// Wait for the signal context, then give in-flight requests 10 seconds
	// to complete.
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")

		// Hijacked websocket connections are not drained by Shutdown.
		application.Live.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := application.Echo.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced shutdown", slog.Any("error", err))
		}
	}()

	// --- Start Server ---
	if err := application.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// setupLogging configures the global slog logger based on the environment.
// Development uses text format at debug level for readability. Production
// uses JSON at LOG_LEVEL for structured log aggregation.
func setupLogging(cfg *config.Config) {
	var handler slog.Handler

	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	} else {
		level := slog.LevelInfo
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			slog.Warn("invalid LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
			level = slog.LevelInfo
		}
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	slog.SetDefault(slog.New(handler))
}
