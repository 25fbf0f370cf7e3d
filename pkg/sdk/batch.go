package docextract

import (
	"context"
	"fmt"
	"time"

	dombatch "github.com/kailas-cloud/docextract/internal/domain/batch"
	"github.com/kailas-cloud/docextract/internal/usecase/batch"
	"github.com/kailas-cloud/docextract/internal/usecase/pipeline"
)

// MaxBatchSize is the maximum number of documents per ExtractBatch call.
const MaxBatchSize = batch.MaxBatchSize

// ErrBatchTooLarge is returned when ExtractBatch receives more than MaxBatchSize documents.
var ErrBatchTooLarge = dombatch.ErrTooLarge

type batchUseCase interface {
	Extract(ctx context.Context, items []batch.Item) []dombatch.Result
}

// Document is one input of ExtractBatch.
type Document struct {
	Data     []byte
	Filename string
}

// BatchItem is the outcome of one batch document. Err is set for failed and
// skipped items; Skipped marks items that never ran because the batch halted.
type BatchItem struct {
	Filename string
	Result   Result
	Err      error
	Skipped  bool
}

// ExtractBatch processes several documents concurrently. A failure that makes
// further work pointless (engine down, rate limit, exhausted budget) halts the
// batch and the remaining documents are reported as skipped.
func (c *Client) ExtractBatch(ctx context.Context, docs []Document, opts ...ExtractOption) (items []BatchItem, err error) {
	start := time.Now()
	defer func() { c.obs.observe("extract_batch", start, err) }()

	if len(docs) > MaxBatchSize {
		return nil, fmt.Errorf("extract_batch: %d documents: %w", len(docs), ErrBatchTooLarge)
	}

	in := make([]batch.Item, len(docs))
	for i, d := range docs {
		input := pipeline.Input{Data: d.Data, Filename: d.Filename}
		for _, o := range opts {
			o(&input)
		}
		in[i] = batch.Item{ID: d.Filename, Input: input}
	}

	results := c.batch.Extract(ctx, in)
	items = make([]BatchItem, len(results))
	for i, r := range results {
		items[i] = BatchItem{Filename: r.ID()}
		switch r.Status() {
		case dombatch.StatusOK:
			res, decErr := resultFromOutput(pipeline.Output{Body: r.Body()})
			if decErr != nil {
				items[i].Err = decErr
				continue
			}
			items[i].Result = res
			c.obs.document(res)
		case dombatch.StatusSkipped:
			items[i].Err, items[i].Skipped = r.Err(), true
		default:
			items[i].Err = r.Err()
		}
	}
	return items, nil
}
