// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, NATS
// connection, metrics registry, Echo instance) and wires the plugins.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/activitylog/internal/apperror"
	"github.com/keyxmakerx/activitylog/internal/config"
	"github.com/keyxmakerx/activitylog/internal/middleware"
	"github.com/keyxmakerx/activitylog/internal/overrides"
	"github.com/keyxmakerx/activitylog/internal/plugins/options"
	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
	"github.com/keyxmakerx/activitylog/internal/templates/layouts"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool. Nil in memory mode.
	DB *sql.DB

	// Redis backs the shared rate limiter. Nil when not configured.
	Redis *redis.Client

	// NATS receives every stored record. Nil when not configured.
	NATS *nats.Conn

	// Metrics is the private Prometheus registry served on /metrics.
	Metrics *prometheus.Registry

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Stream is the event sink.
	Stream stream.StreamService

	// Live pushes stored records to websocket subscribers.
	Live *stream.LiveHub

	// Options is the built-in site options connector.
	Options options.OptionsService
}

// New creates the App, configures Echo with global middleware and error
// handling, and builds the services. A nil db selects the in-memory stores.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, nc *nats.Conn) (*App, error) {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Forwarding headers are only believed from configured proxies so
	// RealIP is safe to rate limit on.
	middleware.TrustedProxies(e, cfg.TrustedProxies)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		Config:  cfg,
		DB:      db,
		Redis:   rdb,
		NATS:    nc,
		Metrics: reg,
		Echo:    e,
	}

	if err := app.setupServices(); err != nil {
		return nil, err
	}

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = app.errorHandler

	return app, nil
}

// setupServices builds the stream sink, loads declarative overrides into
// it and builds the options connector on top.
func (a *App) setupServices() error {
	var (
		streamRepo  stream.StreamRepository
		optionsRepo options.OptionsRepository
	)
	if a.DB != nil {
		streamRepo = stream.NewMariaDBRepository(a.DB)
		optionsRepo = options.NewOptionsRepository(a.DB)
	} else {
		slog.Warn("no database configured, records are kept in memory")
		streamRepo = stream.NewMemoryRepository()
		optionsRepo = options.NewMemoryRepository()
	}

	a.Live = stream.NewLiveHub()

	var natsPublisher stream.Publisher
	if a.NATS != nil {
		p, err := stream.NewNATSPublisher(a.NATS, a.Config.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("creating publisher: %w", err)
		}
		natsPublisher = p
	}

	var metrics *stream.Metrics
	if a.Config.MetricsEnabled {
		metrics = stream.NewMetrics(a.Metrics)
	}

	a.Stream = stream.NewStreamService(streamRepo, stream.Fanout(natsPublisher, a.Live), metrics)

	if a.Config.OverridesFile != "" {
		list, err := overrides.LoadFile(a.Config.OverridesFile)
		if err != nil {
			return fmt.Errorf("loading overrides: %w", err)
		}
		if err := overrides.Register(a.Stream, list); err != nil {
			return err
		}
		slog.Info("overrides loaded",
			slog.String("file", a.Config.OverridesFile),
			slog.Int("count", len(list)),
		)
	}

	registry := options.NewRegistry()
	for _, spec := range options.DefaultSpecs() {
		if err := registry.Register(spec); err != nil {
			return fmt.Errorf("registering option %q: %w", spec.Name, err)
		}
	}
	a.Options = options.NewOptionsService(optionsRepo, registry, a.Stream)

	return nil
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// One operation per request; the dedup guard lives on its context.
	a.Echo.Use(middleware.Operation())

	// Request logging -- inside Operation so every line carries its id.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to HTTP responses: JSON for API clients, an error page for
// browsers.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := defaultErrorMessage(code)
	errType := apperror.TypeInternal

	// Check if it's our domain error type.
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		errType = appErr.Type

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
				slog.String("operation_id", middleware.GetOperationID(c)),
			)
		}
	} else {
		// Check for Echo's built-in HTTP errors (e.g., 404 from router).
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			errType = strings.ReplaceAll(strings.ToLower(http.StatusText(code)), " ", "_")
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			} else {
				message = defaultErrorMessage(code)
			}
		} else {
			// Truly unexpected error -- log it.
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
				slog.String("operation_id", middleware.GetOperationID(c)),
			)
		}
	}

	if !isAPIRequest(c) && middleware.WantsHTML(c) {
		if err := middleware.Render(c, code, layouts.ErrorPage(code, message)); err != nil {
			slog.Error("rendering error page", slog.Any("error", err))
		}
		return
	}

	if err := c.JSON(code, map[string]string{
		"error":   errType,
		"message": message,
	}); err != nil {
		slog.Error("writing error response", slog.Any("error", err))
	}
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "A valid API key is required."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusUnprocessableEntity:
		return "The submitted data could not be processed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred."
	}
}

// isAPIRequest returns true if the request is targeting the API (JSON response expected).
func isAPIRequest(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting activity log server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
