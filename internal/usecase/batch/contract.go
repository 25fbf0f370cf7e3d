package batch

import (
	"context"

	"github.com/kailas-cloud/docextract/internal/usecase/pipeline"
)

// Extractor runs one document through the pipeline.
type Extractor interface {
	Process(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
}
