// Package errlog keeps the bounded ring of classified failures and optionally ships
// each entry to a capped list on the shared store.
package errlog

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
)

// Defaults for the ring and the remote list.
const (
	DefaultCapacity    = 100
	DefaultShipMaxLen  = 1000
	DefaultShipTimeout = 2 * time.Second
)

var defaultShipKey = domain.KeyPrefix + "errors"

// Entry is one logged failure.
type Entry struct {
	CorrelationID   string            `json:"correlation_id"`
	Timestamp       time.Time         `json:"timestamp"`
	Code            failure.Code      `json:"code"`
	Severity        failure.Severity  `json:"severity"`
	Action          failure.Action    `json:"recovery_action"`
	Message         string            `json:"message"`
	RecoveryMessage string            `json:"recovery_message"`
	Context         map[string]string `json:"context,omitempty"`
}

// shipper is the consumer interface for remote shipping (ISP).
type shipper interface {
	PushCapped(ctx context.Context, key string, value []byte, maxLen int64) error
}

// Config controls the ring size and remote shipping.
type Config struct {
	Capacity int
	// Ship enables remote shipping when a shipper is supplied.
	Ship        bool
	ShipKey     string
	ShipMaxLen  int64
	ShipTimeout time.Duration
}

// Log is safe for concurrent use. Shipping never runs under the ring lock.
type Log struct {
	cfg     Config
	shipper shipper
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	ring    []Entry
	next    int
	size    int
	total   uint64
	pending sync.WaitGroup
}

// New creates an error log. A nil shipper disables remote shipping.
func New(cfg Config, s shipper, logger *zap.Logger) *Log {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.ShipKey == "" {
		cfg.ShipKey = defaultShipKey
	}
	if cfg.ShipMaxLen <= 0 {
		cfg.ShipMaxLen = DefaultShipMaxLen
	}
	if cfg.ShipTimeout <= 0 {
		cfg.ShipTimeout = DefaultShipTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		cfg:     cfg,
		shipper: s,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		ring:    make([]Entry, cfg.Capacity),
	}
}

// Append records f, assigning a correlation id when f has none, and returns the entry.
// The oldest entry is overwritten once the ring is full.
func (l *Log) Append(f *failure.Failure, callCtx map[string]string) Entry {
	id := f.CorrelationID
	if id == "" {
		id = l.newID()
		f.CorrelationID = id
	}
	e := Entry{
		CorrelationID:   id,
		Timestamp:       l.now().UTC(),
		Code:            f.Class.Code,
		Severity:        f.Class.Severity,
		Action:          f.Class.Action,
		Message:         f.Message,
		RecoveryMessage: f.RecoveryMessage,
		Context:         maps.Clone(callCtx),
	}

	l.mu.Lock()
	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	if l.size < len(l.ring) {
		l.size++
	}
	l.total++
	l.mu.Unlock()

	if l.cfg.Ship && l.shipper != nil {
		l.pending.Add(1)
		go l.ship(e)
	}
	return e
}

// ship pushes one entry; every failure is logged and dropped.
func (l *Log) ship(e Entry) {
	defer l.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("Error log shipping panicked", zap.Any("panic", r))
		}
	}()

	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Warn("Error log entry encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ShipTimeout)
	defer cancel()
	if err := l.shipper.PushCapped(ctx, l.cfg.ShipKey, data, l.cfg.ShipMaxLen); err != nil {
		l.logger.Warn("Error log shipping failed",
			zap.String("correlation_id", e.CorrelationID),
			zap.Error(err),
		)
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.ring)) % len(l.ring)
		out = append(out, l.ring[idx])
	}
	return out
}

// Len returns the number of entries held in the ring.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Total returns the number of entries ever appended.
func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Close waits for in-flight shipping or until ctx ends.
func (l *Log) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
