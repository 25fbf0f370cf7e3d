package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
)

// Retry scheduler defaults.
const (
	DefaultRetryDelay   = 5 * time.Second
	DefaultMaxAttempts  = 3
	DefaultRetryTimeout = 2 * time.Minute
	maxRetryDelay       = 5 * time.Minute
)

var (
	errNoJob            = errors.New("no document to retry")
	errAttemptsExceeded = errors.New("retry attempts exhausted")
	errSchedulerClosed  = errors.New("retry scheduler closed")
)

// RetryScheduler reprocesses failed documents in the background with exponential delay.
// At most one retry is pending per digest. A digest is tracked from its first retry until
// a retry succeeds or the attempts run out.
type RetryScheduler struct {
	delay       time.Duration
	maxAttempts int
	timeout     time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	attempts map[string]int
	pending  map[string]*time.Timer
	closed   bool
	wg       sync.WaitGroup
}

// NewRetryScheduler creates a scheduler. Zero values use the defaults.
func NewRetryScheduler(delay time.Duration, maxAttempts int, logger *zap.Logger) *RetryScheduler {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryScheduler{
		delay:       delay,
		maxAttempts: maxAttempts,
		timeout:     DefaultRetryTimeout,
		logger:      logger,
		attempts:    make(map[string]int),
		pending:     make(map[string]*time.Timer),
	}
}

// Handle schedules job.Run; it implements Handler.
func (s *RetryScheduler) Handle(ctx context.Context, f *failure.Failure, job Job) (string, error) {
	if job.Run == nil || job.Digest == "" {
		return "", errNoJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errSchedulerClosed
	}
	if _, ok := s.pending[job.Digest]; ok {
		return "A retry is already scheduled for this document.", nil
	}
	attempt := s.attempts[job.Digest]
	if attempt >= s.maxAttempts {
		// The chain ends here; a later submission starts a new one.
		delete(s.attempts, job.Digest)
		return "", fmt.Errorf("%d attempts: %w", attempt, errAttemptsExceeded)
	}
	s.attempts[job.Digest] = attempt + 1

	delay := s.delay << attempt
	var rle *domain.RateLimitError
	if errors.As(f, &rle) && rle.RetryAfter > delay {
		delay = rle.RetryAfter
	}
	delay = min(delay, maxRetryDelay)

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	s.pending[job.Digest] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.run(runCtx, job, attempt+1)
	})

	s.logger.Info("Retry scheduled",
		zap.String("digest", job.Digest),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
	)
	return fmt.Sprintf("Retry %d of %d scheduled in %s.", attempt+1, s.maxAttempts, delay), nil
}

func (s *RetryScheduler) run(ctx context.Context, job Job, attempt int) {
	s.mu.Lock()
	delete(s.pending, job.Digest)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := job.Run(ctx); err != nil {
		s.logger.Warn("Scheduled retry failed",
			zap.String("digest", job.Digest),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return
	}
	s.mu.Lock()
	delete(s.attempts, job.Digest)
	s.mu.Unlock()
	s.logger.Info("Scheduled retry succeeded", zap.String("digest", job.Digest), zap.Int("attempt", attempt))
}

// Pending returns the number of scheduled retries.
func (s *RetryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels pending retries and waits for running ones.
func (s *RetryScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for d, t := range s.pending {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.pending, d)
	}
	clear(s.attempts)
	s.mu.Unlock()
	s.wg.Wait()
}

// Shrinker releases a fraction of cached entries.
type Shrinker interface {
	Shrink(fraction float64) int
}

// FreeResources returns a handler that shrinks s by fraction.
func FreeResources(s Shrinker, fraction float64) Handler {
	return func(_ context.Context, _ *failure.Failure, _ Job) (string, error) {
		n := s.Shrink(fraction)
		return fmt.Sprintf("Freed %d cached entries; resubmit the document.", n), nil
	}
}
