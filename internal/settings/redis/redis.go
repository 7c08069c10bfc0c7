// Package redis stores settings as plain Redis string keys under a prefix.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/voxreel/internal/settings"
)

// DefaultPrefix namespaces keys written by [Store].
const DefaultPrefix = "voxreel:settings:"

var (
	_ settings.Store  = (*Store)(nil)
	_ settings.Pinger = (*Store)(nil)
)

// Options configures [NewStore].
type Options struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key. Defaults to [DefaultPrefix].
	Prefix string
}

// Store is a [settings.Store] backed by Redis.
type Store struct {
	client *goredis.Client
	prefix string
}

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis settings: ping %s: %w", opts.Addr, err)
	}
	return NewStoreFromClient(client, opts.Prefix), nil
}

// NewStoreFromClient wraps an existing client. An empty prefix selects
// [DefaultPrefix].
func NewStoreFromClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis settings: get %q: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) SetItem(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis settings: set %q: %w", key, err)
	}
	return nil
}

// Ping checks server connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
