package vision

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

type mockExtractor struct {
	result candidate.Extraction
	err    error
	calls  int
}

func (m *mockExtractor) Extract(_ context.Context, _ document.Raw) (candidate.Extraction, error) {
	m.calls++
	return m.result, m.err
}

func testRaw(t *testing.T) document.Raw {
	t.Helper()
	raw, err := document.NewRaw(append([]byte("\x89PNG\r\n\x1a\n"), 0, 0, 0, 0), "scan.png")
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	return raw
}

func TestInstrumentedExtractor_Success(t *testing.T) {
	inner := &mockExtractor{result: candidate.Extraction{
		Candidate:        candidate.Candidate{InvoiceNumber: "F-1", Confidence: 0.9},
		PromptTokens:     80,
		CompletionTokens: 20,
	}}
	p := NewInstrumentedExtractor(inner, "budget-model", nil, zap.NewNop())

	got, err := p.Extract(context.Background(), testRaw(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Candidate.InvoiceNumber != "F-1" {
		t.Errorf("expected candidate passed through, got %+v", got.Candidate)
	}
}

func TestInstrumentedExtractor_RecordsBudget(t *testing.T) {
	inner := &mockExtractor{result: candidate.Extraction{PromptTokens: 80, CompletionTokens: 20}}
	bt := NewBudgetTracker("budget-model", 1000, 5000, BudgetActionReject, zap.NewNop())
	p := NewInstrumentedExtractor(inner, "budget-model", bt, zap.NewNop())

	if _, err := p.Extract(context.Background(), testRaw(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if bt.RemainingDaily() != 900 {
		t.Errorf("expected 900 daily tokens remaining, got %d", bt.RemainingDaily())
	}
	gauge := metrics.VisionBudgetTokensRemaining.WithLabelValues("budget-model", "monthly")
	if v := testutil.ToFloat64(gauge); v != 4900 {
		t.Errorf("expected monthly gauge 4900, got %v", v)
	}
}

func TestInstrumentedExtractor_RejectsWithoutCallingInner(t *testing.T) {
	inner := &mockExtractor{}
	bt := NewBudgetTracker("budget-model", 10, 0, BudgetActionReject, zap.NewNop())
	bt.Record(10)
	p := NewInstrumentedExtractor(inner, "budget-model", bt, zap.NewNop())

	_, err := p.Extract(context.Background(), testRaw(t))
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if inner.calls != 0 {
		t.Errorf("inner extractor must not be called, got %d calls", inner.calls)
	}
}

func TestInstrumentedExtractor_WrapsInnerError(t *testing.T) {
	inner := &mockExtractor{err: domain.ErrMalformedResponse}
	bt := NewBudgetTracker("budget-model", 1000, 0, BudgetActionReject, zap.NewNop())
	p := NewInstrumentedExtractor(inner, "budget-model", bt, zap.NewNop())

	_, err := p.Extract(context.Background(), testRaw(t))
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected wrapped ErrMalformedResponse, got %v", err)
	}
	if bt.RemainingDaily() != 1000 {
		t.Error("failed calls must not consume budget")
	}
}
