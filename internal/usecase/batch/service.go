package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/docextract/internal/domain"
	dombatch "github.com/kailas-cloud/docextract/internal/domain/batch"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	"github.com/kailas-cloud/docextract/internal/metrics"
	"github.com/kailas-cloud/docextract/internal/usecase/pipeline"
)

// MaxBatchSize is the maximum number of documents per batch request.
const MaxBatchSize = 50

// DefaultConcurrency bounds the documents processed at once.
const DefaultConcurrency = 4

// Item is one document of a batch.
type Item struct {
	ID    string
	Input pipeline.Input
}

// Service extracts documents in batch with per-item error reporting.
//
// Error and warning failures only affect their own item. A critical failure, a
// rate limit or an exhausted vision budget halts the batch: items not yet started
// are reported as skipped. Items already running finish normally.
type Service struct {
	extractor    Extractor
	maxBatchSize int
	concurrency  int
	logger       *zap.Logger
}

// New creates a batch service.
func New(extractor Extractor, logger *zap.Logger) *Service {
	return &Service{
		extractor:    extractor,
		maxBatchSize: MaxBatchSize,
		concurrency:  DefaultConcurrency,
		logger:       logger,
	}
}

// WithMaxBatchSize configures the maximum batch size.
func (s *Service) WithMaxBatchSize(size int) *Service {
	if size > 0 {
		s.maxBatchSize = size
	}
	return s
}

// WithConcurrency configures how many items run at once.
func (s *Service) WithConcurrency(n int) *Service {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// Extract processes items and returns one result per item, in input order.
func (s *Service) Extract(ctx context.Context, items []Item) []dombatch.Result {
	results := make([]dombatch.Result, len(items))

	if len(items) > s.maxBatchSize {
		err := fmt.Errorf("batch of %d exceeds %d: %w", len(items), s.maxBatchSize, dombatch.ErrTooLarge)
		for i, item := range items {
			results[i] = dombatch.NewError(item.ID, err)
		}
		count(results)
		return results
	}

	var (
		mu    sync.Mutex
		cause error
	)
	halted := func() error {
		mu.Lock()
		defer mu.Unlock()
		return cause
	}
	halt := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if cause != nil {
			return
		}
		cause = err
		s.logger.Warn("Batch halted",
			zap.String("item", id),
			zap.Error(err),
		)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := halted(); err != nil {
				results[i] = dombatch.NewSkipped(item.ID, err)
				return nil
			}
			if err := ctx.Err(); err != nil {
				results[i] = dombatch.NewSkipped(item.ID, err)
				return nil
			}
			out, err := s.extractor.Process(ctx, item.Input)
			if err != nil {
				results[i] = dombatch.NewError(item.ID, err)
				if haltsBatch(err) {
					halt(item.ID, err)
				}
				return nil
			}
			results[i] = dombatch.NewOK(item.ID, out.Body)
			return nil
		})
	}
	_ = g.Wait()

	count(results)
	return results
}

// haltsBatch reports failures after which further items cannot succeed.
func haltsBatch(err error) bool {
	var f *failure.Failure
	if errors.As(err, &f) && f.Class.Severity == failure.SeverityCritical {
		return true
	}
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrBudgetExceeded)
}

func count(results []dombatch.Result) {
	for _, r := range results {
		metrics.BatchItemsTotal.WithLabelValues(string(r.Status())).Inc()
	}
}
