package db

import (
	"context"
	"time"
)

// Store is the main key-value facade combining all sub-interfaces.
// Consumers declare the narrow subset they need (ISP).
type Store interface {
	Pinger
	KVStore
	ListStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetNX writes value only if key is absent. Reports whether the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// ListStore provides capped list operations (newest first).
type ListStore interface {
	// PushCapped prepends value and trims the list to maxLen elements in one round trip.
	PushCapped(ctx context.Context, key string, value []byte, maxLen int64) error
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
}
