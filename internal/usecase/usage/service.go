package usage

import (
	"context"
	"time"

	domusage "github.com/kailas-cloud/docextract/internal/domain/usage"
	"github.com/kailas-cloud/docextract/internal/domain/usage/budget"
)

// Service reports vision token usage per period.
type Service struct {
	br    BudgetReader
	model string
	now   func() time.Time
}

// New creates a Service. br may be nil when no vision model is configured.
func New(br BudgetReader, model string) *Service {
	return &Service{br: br, model: model, now: time.Now}
}

// WithClock replaces the time source (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetReport builds the report for period; anything but month reports the current day.
func (s *Service) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	if period != domusage.PeriodMonth {
		period = domusage.PeriodDay
	}
	start, end := window(period, s.now().UTC())

	var limit, used int64
	if s.br != nil {
		limit, used = s.br.Window(period)
	}
	remaining := max(limit-used, 0)
	b := budget.New(limit, remaining, limit > 0 && remaining == 0, end.UnixMilli())

	return domusage.NewReport(period, start.UnixMilli(), end.UnixMilli(), s.model, used, b)
}

// window returns the UTC bounds [start, end) of the period containing now.
func window(p domusage.Period, now time.Time) (time.Time, time.Time) {
	if p == domusage.PeriodMonth {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
