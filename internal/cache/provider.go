// Package cache holds short-lived copies of upstream responses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Provider is a byte-oriented key/value cache with per-entry TTL.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

var (
	// ErrCacheMiss signals that a cache key was not found.
	ErrCacheMiss = errors.New("cache miss")
	// ErrCorruptEntry signals a cached value that no longer decodes.
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// GetJSON decodes the cached value at key into dst. A value that no longer
// decodes is evicted and reported as ErrCorruptEntry.
func GetJSON(ctx context.Context, p Provider, key string, dst any) error {
	data, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = p.Del(ctx, key)
		return fmt.Errorf("%w %s: %v", ErrCorruptEntry, key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key for ttl.
func SetJSON(ctx context.Context, p Provider, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return p.Set(ctx, key, data, ttl)
}

// NoopProvider never stores anything; every read misses.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }
