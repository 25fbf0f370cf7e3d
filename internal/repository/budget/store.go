// Package budget persists vision token counters on the shared key-value store.
//
// Counter keys end with their window, "<prefix>:daily:2006-01-02" or
// "<prefix>:monthly:2006-01". A counter expires a grace period after its window closes.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/docextract/internal/db"
)

const (
	// DefaultGrace keeps a closed window readable for a day.
	DefaultGrace = 24 * time.Hour
	// fallbackTTL applies to keys without a recognizable window.
	fallbackTTL = 62 * 24 * time.Hour
)

type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store implements vision.BudgetStore.
type Store struct {
	kv    kv
	grace time.Duration
	now   func() time.Time
}

// New creates a budget store. A non-positive grace takes DefaultGrace.
func New(s kv, grace time.Duration) *Store {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Store{kv: s, grace: grace, now: time.Now}
}

// WithClock replaces the time source (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// IncrBy adds val to the counter. The expiry is set only on the first write of a window.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	if err := s.kv.IncrBy(ctx, key, val); err != nil {
		return fmt.Errorf("budget incr %s: %w", key, err)
	}
	if err := s.kv.Expire(ctx, key, s.TTL(key), true); err != nil {
		return fmt.Errorf("budget expire %s: %w", key, err)
	}
	return nil
}

// Get returns the counter value; a missing key reads as 0.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	data, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("budget get %s: %w", key, err)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget get %s: corrupt counter %q: %w", key, data, err)
	}
	return n, nil
}

// TTL returns how long key must live: until its window ends plus grace.
func (s *Store) TTL(key string) time.Duration {
	end, ok := windowEnd(key)
	if !ok {
		return fallbackTTL
	}
	return max(end.Add(s.grace).Sub(s.now()), s.grace)
}

// windowEnd parses the trailing window of key and returns the instant it closes (UTC).
func windowEnd(key string) (time.Time, bool) {
	head, stamp, found := cutLast(key, ":")
	if !found {
		return time.Time{}, false
	}
	_, kind, _ := cutLast(head, ":")
	switch kind {
	case "daily":
		if t, err := time.Parse(time.DateOnly, stamp); err == nil {
			return t.AddDate(0, 0, 1), true
		}
	case "monthly":
		if t, err := time.Parse("2006-01", stamp); err == nil {
			return t.AddDate(0, 1, 0), true
		}
	}
	return time.Time{}, false
}

func cutLast(s, sep string) (string, string, bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", s, false
	}
	return s[:i], s[i+len(sep):], true
}
