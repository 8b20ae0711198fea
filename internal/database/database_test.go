package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/keyxmakerx/activitylog/internal/config"
)

func TestWaitReady_RetriesUntilUp(t *testing.T) {
	calls := 0
	ping := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}
	if err := waitReady(context.Background(), "store", 5, time.Millisecond, ping); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 pings, got %d", calls)
	}
}

func TestWaitReady_GivesUp(t *testing.T) {
	down := errors.New("connection refused")
	calls := 0
	err := waitReady(context.Background(), "store", 2, time.Millisecond, func(context.Context) error {
		calls++
		return down
	})
	if !errors.Is(err, down) {
		t.Fatalf("expected wrapped ping error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 pings, got %d", calls)
	}
}

func TestWaitReady_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := waitReady(ctx, "store", 10, time.Hour, func(context.Context) error {
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedis(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rdb.Close()
	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestNewRedis_NotConfigured(t *testing.T) {
	rdb, err := NewRedis(context.Background(), config.RedisConfig{})
	if err != nil || rdb != nil {
		t.Errorf("expected nil client and error, got %v, %v", rdb, err)
	}
}

func TestNewNATS_NotConfigured(t *testing.T) {
	nc, err := NewNATS(config.NATSConfig{})
	if err != nil || nc != nil {
		t.Errorf("expected nil connection and error, got %v, %v", nc, err)
	}
}
