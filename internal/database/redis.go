package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/activitylog/internal/config"
)

// NewRedis connects the client behind the shared rate limiter. Returns
// nil, nil when no URL is configured, in which case limits are kept per
// process.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := waitReady(ctx, "redis", 3, 500*time.Millisecond, ping); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
