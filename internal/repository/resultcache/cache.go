// Package resultcache is the content-addressed store of finished extraction results.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/db"
	"github.com/kailas-cloud/docextract/internal/domain"
)

// DefaultTTL keeps results for a week.
const DefaultTTL = 7 * 24 * time.Hour

var defaultPrefix = domain.KeyPrefix + "result:"

// store is the consumer interface for the result cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// Cache maps a document digest to the serialized result produced for it.
// Entries are written once and never mutated.
type Cache struct {
	store      store
	prefix     string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a cache. cacheTotal is a counter vec with label "result"
// ("hit" / "miss" / "bypass"), passed explicitly; nil disables counting.
func New(
	s store,
	prefix string,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Cache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:      s,
		prefix:     prefix,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Digest returns the hex SHA-256 of the document bytes.
func Digest(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func (c *Cache) key(digest string) string { return c.prefix + digest }

// Get returns the cached bytes for digest verbatim, or domain.ErrCacheMiss.
// Store failures degrade to a miss.
func (c *Cache) Get(ctx context.Context, digest string) ([]byte, error) {
	data, err := c.store.Get(ctx, c.key(digest))
	switch {
	case err == nil && len(data) > 0:
		c.inc("hit")
		return data, nil
	case err != nil && !errors.Is(err, db.ErrKeyNotFound):
		c.logger.Warn("Result cache read failed",
			zap.String("digest", shortDigest(digest)),
			zap.Error(err),
		)
	}
	c.inc("miss")
	return nil, fmt.Errorf("digest %s: %w", shortDigest(digest), domain.ErrCacheMiss)
}

// PutOnce stores value under digest unless an entry exists. Reports whether it wrote.
// The write is a single SET NX, so readers see the whole entry or nothing.
func (c *Cache) PutOnce(ctx context.Context, digest string, value []byte) (bool, error) {
	written, err := c.store.SetNX(ctx, c.key(digest), value, c.ttl)
	if err != nil {
		c.logger.Warn("Result cache write failed",
			zap.String("digest", shortDigest(digest)),
			zap.Error(err),
		)
		return false, fmt.Errorf("cache put: %w", err)
	}
	return written, nil
}

// Evict removes the entry for digest ahead of a forced reprocess.
func (c *Cache) Evict(ctx context.Context, digest string) error {
	c.inc("bypass")
	if err := c.store.Del(ctx, c.key(digest)); err != nil {
		return fmt.Errorf("cache evict: %w", err)
	}
	return nil
}

func (c *Cache) inc(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
