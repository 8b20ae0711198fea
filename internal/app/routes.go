package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyxmakerx/activitylog/internal/middleware"
	"github.com/keyxmakerx/activitylog/internal/plugins/options"
	"github.com/keyxmakerx/activitylog/internal/plugins/stream"
)

// healthTimeout bounds each dependency check of /healthz.
const healthTimeout = 2 * time.Second

// RegisterRoutes sets up all application routes. This is the single place
// where plugin routes are aggregated.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// --- Public Routes (no auth required) ---

	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/activity")
	})

	// Health check for container orchestration.
	e.GET("/healthz", a.healthz)

	if a.Config.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{})))
	}

	// --- Plugin Routes ---

	auth := middleware.RequireAPIKey(a.Config.Ingest.KeyHashes())
	limit := middleware.RateLimit(a.Redis, a.Config.Ingest.RateLimit, a.Config.Ingest.RateWindow)

	stream.RegisterRoutes(e, stream.NewHandler(a.Stream), auth, limit)
	stream.RegisterLiveRoute(e, a.Live, auth)
	options.RegisterRoutes(e, options.NewHandler(a.Options), auth)
}

// healthz reports each dependency. Any failure answers 503.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	// Clients see only ok or unavailable; the cause goes to the log.
	report := func(name string, err error) {
		if err != nil {
			slog.Warn("health check failed",
				slog.String("dependency", name),
				slog.Any("error", err),
			)
			checks[name] = "unavailable"
			healthy = false
			return
		}
		checks[name] = "ok"
	}

	report("store", a.Stream.Ping(ctx))
	if a.Redis != nil {
		report("redis", a.Redis.Ping(ctx).Err())
	}
	if a.NATS != nil {
		if a.NATS.IsConnected() {
			report("nats", nil)
		} else {
			// Reported, not fatal: publishing is best-effort.
			checks["nats"] = a.NATS.Status().String()
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}
	return c.JSON(status, map[string]any{
		"status": state,
		"checks": checks,
	})
}
