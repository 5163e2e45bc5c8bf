package cache

import (
	"context"
	"log/slog"
	"time"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Config selects and tunes the cache backend.
type Config struct {
	Backend         string
	RedisURL        string
	Dir             string
	Prefix          string
	MaxSize         int
	CleanupInterval time.Duration
	RelayInfoTTL    time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Backend:         BackendMemory,
		Prefix:          "papers:",
		MaxSize:         1000,
		CleanupInterval: 2 * time.Minute,
		RelayInfoTTL:    1 * time.Hour,
	}
}

// Open returns the configured backend and its type. If Redis or badger is
// requested but cannot be opened it falls back to memory.
func Open(ctx context.Context, cfg Config) (Backend, string) {
	if cfg.Backend == BackendBadger && cfg.Dir != "" {
		bc, err := NewBadgerCache(cfg.Dir, cfg.Prefix)
		if err == nil {
			slog.Debug("badger store opened", "dir", cfg.Dir)
			return bc, BackendBadger
		}
		slog.Warn("badger store unavailable, using memory cache; nothing will be kept after this run", "dir", cfg.Dir, "error", err)
	}
	if cfg.Backend == BackendRedis && cfg.RedisURL != "" {
		slog.Info("initializing Redis cache")
		rc, err := NewRedisCache(ctx, cfg.RedisURL, cfg.Prefix)
		if err == nil {
			slog.Info("Redis cache initialized")
			return rc, BackendRedis
		}
		slog.Warn("Redis connection failed, using memory cache", "error", err)
	}
	slog.Info("initializing in-memory cache")
	return NewMemoryCache(cfg.MaxSize, cfg.CleanupInterval), BackendMemory
}
