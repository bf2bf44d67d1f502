package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{RedisURL: "redis://" + mr.Addr() + "/0", MaxDBConns: 8}

	rdb, err := NewRedisClient(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer rdb.Close()

	if got := rdb.Options().PoolSize; got != 16 {
		t.Errorf("PoolSize = %d, want 16", got)
	}
}

func TestNewRedisClientErrors(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), &config.Config{RedisURL: "not-a-url"}, zerolog.Nop()); err == nil {
		t.Error("expected parse error")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisClient(context.Background(), &config.Config{RedisURL: "redis://" + addr}, zerolog.Nop()); err == nil {
		t.Error("expected ping error")
	}
}

func TestNewPostgresPoolBadURL(t *testing.T) {
	if _, err := NewPostgresPool(context.Background(), &config.Config{DatabaseURL: "://bad", MaxDBConns: 4}, zerolog.Nop()); err == nil {
		t.Error("expected parse error")
	}
}
