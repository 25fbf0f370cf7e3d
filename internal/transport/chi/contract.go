package chi

import (
	"context"

	dombatch "github.com/kailas-cloud/docextract/internal/domain/batch"
	domusage "github.com/kailas-cloud/docextract/internal/domain/usage"
	"github.com/kailas-cloud/docextract/internal/repository/errlog"
	"github.com/kailas-cloud/docextract/internal/usecase/batch"
	"github.com/kailas-cloud/docextract/internal/usecase/health"
	"github.com/kailas-cloud/docextract/internal/usecase/pipeline"
)

// Pipeline runs documents. Every error it returns is a *failure.Failure.
type Pipeline interface {
	Process(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
	Reprocess(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
}

// ErrorLog exposes the recent classified failures.
type ErrorLog interface {
	Recent(limit int) []errlog.Entry
	Total() uint64
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// BatchExtractor runs several documents with per-item results.
type BatchExtractor interface {
	Extract(ctx context.Context, items []batch.Item) []dombatch.Result
}

// UsageReporter reports vision token consumption.
type UsageReporter interface {
	GetReport(ctx context.Context, period domusage.Period) domusage.Report
}
