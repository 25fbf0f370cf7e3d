// Package memory is an in-process db.Store: TTL with lazy eviction, bounded size,
// and explicit Shrink/Purge used by the free-resources recovery action.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/docextract/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

type entry struct {
	value   []byte
	expires time.Time // zero = no expiry
	seq     uint64
}

// Store is a mutex-guarded map. Values are copied on write and read.
type Store struct {
	mu         sync.Mutex
	kv         map[string]entry
	lists      map[string][][]byte
	maxEntries int
	seq        uint64
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries bounds the number of KV entries; the oldest are evicted first. 0 = unbounded.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		kv:    make(map[string]entry),
		lists: make(map[string][][]byte),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(context.Context, time.Duration) error { return nil }

func (s *Store) expired(e entry) bool {
	return !e.expires.IsZero() && !s.now().Before(e.expires)
}

// lookup returns a live entry, evicting an expired one. Caller holds mu.
func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.kv[key]
	if !ok {
		return entry{}, false
	}
	if s.expired(e) {
		delete(s.kv, key)
		return entry{}, false
	}
	return e, true
}

// put stores a copy of value. Caller holds mu.
func (s *Store) put(key string, value []byte, ttl time.Duration) {
	if _, exists := s.kv[key]; !exists && s.maxEntries > 0 && len(s.kv) >= s.maxEntries {
		s.sweep()
		if len(s.kv) >= s.maxEntries {
			s.evictOldest(len(s.kv) - s.maxEntries + 1)
		}
	}
	s.seq++
	e := entry{value: append([]byte(nil), value...), seq: s.seq}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.kv[key] = e
}

func (s *Store) sweep() {
	for k, e := range s.kv {
		if s.expired(e) {
			delete(s.kv, k)
		}
	}
}

func (s *Store) evictOldest(n int) {
	if n <= 0 {
		return
	}
	keys := make([]string, 0, len(s.kv))
	for k := range s.kv {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return s.kv[keys[i]].seq < s.kv[keys[j]].seq })
	if n > len(keys) {
		n = len(keys)
	}
	for _, k := range keys[:n] {
		delete(s.kv, k)
	}
}

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// SetNX stores value only if key is absent or expired.
func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

// SetWithTTL stores value unconditionally.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
	return nil
}

// Del removes a key from both the KV and list namespaces.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	delete(s.lists, key)
	return nil
}

// IncrBy increments an integer value, creating it at 0. Existing TTL is kept.
func (s *Store) IncrBy(_ context.Context, key string, val int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur int64
	e, ok := s.lookup(key)
	if ok {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return &db.Error{Op: db.OpIncrBy, Err: fmt.Errorf("value is not an integer: %w", err)}
		}
		cur = n
	}
	next := []byte(strconv.FormatInt(cur+val, 10))
	if ok {
		e.value = next
		s.kv[key] = e
		return nil
	}
	s.put(key, next, 0)
	return nil
}

// Expire sets a TTL. With nx, only keys without an expiry are touched.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || (nx && !e.expires.IsZero()) {
		return nil
	}
	e.expires = s.now().Add(ttl)
	s.kv[key] = e
	return nil
}

// PushCapped prepends value and keeps at most maxLen elements.
func (s *Store) PushCapped(_ context.Context, key string, value []byte, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := append([][]byte{append([]byte(nil), value...)}, s.lists[key]...)
	if maxLen > 0 && int64(len(l)) > maxLen {
		l = l[:maxLen]
	}
	s.lists[key] = l
	return nil
}

// Range returns elements between start and stop inclusive; negative indexes count from the end.
func (s *Store) Range(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	start = max(start, 0)
	stop = min(stop, n-1)
	if start > stop {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range l[start : stop+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

// Len returns the number of live KV entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.kv)
}

// Shrink drops expired entries then the oldest fraction (0..1] of the rest.
// Returns the number of entries removed.
func (s *Store) Shrink(fraction float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.kv)
	s.sweep()
	if fraction > 0 {
		s.evictOldest(int(float64(len(s.kv))*min(fraction, 1) + 0.5))
	}
	return before - len(s.kv)
}

// Purge removes everything.
func (s *Store) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = make(map[string]entry)
	s.lists = make(map[string][][]byte)
}
