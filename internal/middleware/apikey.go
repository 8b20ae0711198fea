package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// apiKeyContextKey is the Echo context key for the authenticated key name.
const apiKeyContextKey = "api_key"

// GetAPIKeyName returns the name of the key that authenticated the request,
// or "" for anonymous requests.
func GetAPIKeyName(c echo.Context) string {
	name, _ := c.Get(apiKeyContextKey).(string)
	return name
}

// RequireAPIKey returns middleware that authenticates requests with
// "Authorization: Bearer <name>.<secret>". keys maps each key name to the
// bcrypt hash of its secret; the name selects the hash so only one bcrypt
// comparison runs per request. With no keys configured every request is
// let through.
func RequireAPIKey(keys map[string]string) echo.MiddlewareFunc {
	if len(keys) == 0 {
		slog.Warn("no ingest keys configured, API is open")
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "api key required")
			}

			rawKey := strings.TrimPrefix(authHeader, "Bearer ")
			if rawKey == authHeader {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format, use: Bearer <key>")
			}

			name, secret, ok := strings.Cut(rawKey, ".")
			hash, known := keys[name]
			if !ok || !known || bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
				slog.Warn("api key rejected",
					slog.String("key_name", name),
					slog.String("remote_ip", c.RealIP()),
				)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}

			c.Set(apiKeyContextKey, name)
			return next(c)
		}
	}
}
