// Package vision decorates the vision extractor with budget enforcement.
package vision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/metrics"
)

// Extractor is the vision extraction contract.
type Extractor interface {
	Extract(ctx context.Context, raw document.Raw) (candidate.Extraction, error)
}

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedExtractor wraps an Extractor with budget enforcement and logging.
// Transport metrics (requests, duration, tokens) are recorded in transport/openai.
type InstrumentedExtractor struct {
	inner  Extractor
	model  string
	budget BudgetChecker
	logger *zap.Logger
}

// NewInstrumentedExtractor wraps an extractor. A nil budget disables enforcement.
func NewInstrumentedExtractor(
	inner Extractor, model string,
	budget BudgetChecker, logger *zap.Logger,
) *InstrumentedExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedExtractor{
		inner:  inner,
		model:  model,
		budget: budget,
		logger: logger,
	}
}

// Extract checks the budget, delegates, and records token usage.
func (p *InstrumentedExtractor) Extract(ctx context.Context, raw document.Raw) (candidate.Extraction, error) {
	if p.budget != nil {
		if err := p.budget.Check(ctx); err != nil {
			p.logger.Error("Vision budget exceeded",
				zap.String("model", p.model),
				zap.Error(err),
			)
			return candidate.Extraction{}, fmt.Errorf("budget check: %w", err)
		}
	}

	start := time.Now()
	result, err := p.inner.Extract(ctx, raw)
	duration := time.Since(start)

	if err != nil {
		return candidate.Extraction{}, fmt.Errorf("vision extract: %w", err)
	}

	total := result.PromptTokens + result.CompletionTokens
	if p.budget != nil && total > 0 {
		p.budget.Record(int64(total))
		gauge := metrics.VisionBudgetTokensRemaining
		gauge.WithLabelValues(p.model, "daily").Set(float64(p.budget.RemainingDaily()))
		gauge.WithLabelValues(p.model, "monthly").Set(float64(p.budget.RemainingMonthly()))
	}

	p.logger.Debug("Vision extraction completed",
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("completion_tokens", result.CompletionTokens),
		zap.Float64("confidence", result.Candidate.Confidence),
	)
	return result, nil
}
