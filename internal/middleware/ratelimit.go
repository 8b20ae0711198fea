package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// rateLimitEntry tracks request counts for a single client within a window.
type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// RateLimit returns middleware that allows maxRequests per client within
// each fixed window and answers 429 beyond that. Clients are identified by
// API key name when authenticated, otherwise by IP.
//
// With a Redis client the counters are shared by every instance. A Redis
// failure lets the request through. Without Redis the counters live in
// process memory.
func RateLimit(rdb *redis.Client, maxRequests int, window time.Duration) echo.MiddlewareFunc {
	var allow limiterFunc
	if rdb != nil {
		allow = redisLimiter(rdb, maxRequests, window)
	} else {
		allow = memoryLimiter(maxRequests, window)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, retryAfter := allow(c, rateLimitClient(c))
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error":   "Too Many Requests",
					"message": "Rate limit exceeded. Please try again later.",
				})
			}
			return next(c)
		}
	}
}

// limiterFunc reports whether client may proceed and, if not, how long
// until its window resets.
type limiterFunc func(c echo.Context, client string) (bool, time.Duration)

func rateLimitClient(c echo.Context) string {
	if name := GetAPIKeyName(c); name != "" {
		return "key:" + name
	}
	return "ip:" + c.RealIP()
}

// redisLimiter counts with INCR on a key per client and window. The first
// increment sets the expiry so abandoned windows clean themselves up.
func redisLimiter(rdb *redis.Client, maxRequests int, window time.Duration) limiterFunc {
	return func(c echo.Context, client string) (bool, time.Duration) {
		ctx := c.Request().Context()
		now := time.Now()
		slot := now.UnixNano() / int64(window)
		key := fmt.Sprintf("ratelimit:%s:%d", client, slot)

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			slog.Warn("rate limit check failed, allowing request",
				slog.String("client", client),
				slog.Any("error", err),
			)
			return true, 0
		}
		if count == 1 {
			if err := rdb.Expire(ctx, key, window).Err(); err != nil {
				slog.Warn("setting rate limit expiry failed", slog.Any("error", err))
			}
		}

		if count > int64(maxRequests) {
			reset := time.Unix(0, (slot+1)*int64(window))
			return false, reset.Sub(now)
		}
		return true, 0
	}
}

// memoryLimiter keeps counters in a map. A background sweep drops entries
// older than two windows.
func memoryLimiter(maxRequests int, window time.Duration) limiterFunc {
	var mu sync.Mutex
	entries := make(map[string]*rateLimitEntry)

	go func() {
		for {
			time.Sleep(time.Minute)
			mu.Lock()
			now := time.Now()
			for client, entry := range entries {
				if now.Sub(entry.windowStart) > window*2 {
					delete(entries, client)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c echo.Context, client string) (bool, time.Duration) {
		now := time.Now()

		mu.Lock()
		defer mu.Unlock()

		entry, exists := entries[client]
		if !exists || now.Sub(entry.windowStart) > window {
			entries[client] = &rateLimitEntry{count: 1, windowStart: now}
			return true, 0
		}

		entry.count++
		if entry.count > maxRequests {
			return false, entry.windowStart.Add(window).Sub(now)
		}
		return true, 0
	}
}
