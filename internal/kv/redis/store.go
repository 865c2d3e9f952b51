// Package redis provides a Redis-backed record store so several processes can
// share one visitor's records.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/engagement-tracker/internal/kv"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Store maps record keys onto Redis strings under a common prefix.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	owned  bool
}

// New dials Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("storage.redis.addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb, prefix: cfg.Prefix, owned: true}, nil
}

// NewWithClient wraps an existing client. Close does not close it.
func NewWithClient(rdb goredis.UniversalClient, prefix string) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Store{rdb: rdb, prefix: prefix}, nil
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.rdb == nil {
		return "", false, kv.ErrClosed
	}
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get record %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key without expiry; record lifetimes are enforced by
// their owners.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if s == nil || s.rdb == nil {
		return kv.ErrClosed
	}
	if key == "" {
		return kv.ErrEmptyKey
	}
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set record %q: %w", key, err)
	}
	return nil
}

// Remove deletes key if present.
func (s *Store) Remove(ctx context.Context, key string) error {
	if s == nil || s.rdb == nil {
		return kv.ErrClosed
	}
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("remove record %q: %w", key, err)
	}
	return nil
}

// Close closes the client when the store created it.
func (s *Store) Close() error {
	if s == nil || s.rdb == nil || !s.owned {
		return nil
	}
	return s.rdb.Close()
}
