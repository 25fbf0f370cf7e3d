package pipeline

import (
	"context"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	"github.com/kailas-cloud/docextract/internal/repository/errlog"
	"github.com/kailas-cloud/docextract/internal/usecase/recovery"
)

// ResultCache stores serialized results by content digest.
type ResultCache interface {
	Get(ctx context.Context, digest string) ([]byte, error)
	PutOnce(ctx context.Context, digest string, value []byte) (bool, error)
	Evict(ctx context.Context, digest string) error
}

// VisionExtractor extracts a candidate from an image document.
type VisionExtractor interface {
	Extract(ctx context.Context, raw document.Raw) (candidate.Extraction, error)
}

// ErrorClassifier maps errors onto the taxonomy.
type ErrorClassifier interface {
	Classify(err error) *failure.Failure
}

// RecoveryDispatcher runs recovery actions for classified failures.
type RecoveryDispatcher interface {
	Dispatch(ctx context.Context, f *failure.Failure, job recovery.Job) recovery.Outcome
}

// ErrorLog records classified failures.
type ErrorLog interface {
	Append(f *failure.Failure, callCtx map[string]string) errlog.Entry
}
