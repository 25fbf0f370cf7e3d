package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kailas-cloud/docextract/internal/domain"
	dombatch "github.com/kailas-cloud/docextract/internal/domain/batch"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	domusage "github.com/kailas-cloud/docextract/internal/domain/usage"
	"github.com/kailas-cloud/docextract/internal/domain/usage/budget"
	"github.com/kailas-cloud/docextract/internal/usecase/batch"
)

// --- Mocks ---

type fakeBatch struct {
	got     []batch.Item
	results []dombatch.Result
}

func (f *fakeBatch) Extract(ctx context.Context, items []batch.Item) []dombatch.Result {
	f.got = items
	domain.VisionUsageFromContext(ctx).Record(10, 5)
	return f.results
}

type fakeUsage struct {
	period domusage.Period
	report domusage.Report
}

func (f *fakeUsage) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	f.period = period
	return f.report
}

func multipartFiles(t *testing.T, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, n := range names {
		fw, err := mw.CreateFormFile("file", n)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte("data-" + n))
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

// --- Tests ---

func TestBatchExtract(t *testing.T) {
	fb := &fakeBatch{results: []dombatch.Result{
		dombatch.NewOK("a.pdf", []byte(`{"confidence":0.9}`)),
		dombatch.NewError("b.png", classified(failure.CodeUnsupportedFormat, domain.ErrUnsupportedFormat)),
		dombatch.NewSkipped("c.png", classified(failure.CodeInitialization, domain.ErrNotConfigured)),
	}}
	s, _, _ := newTestServer(&fakePipeline{})
	s.WithBatch(fb)

	body, ct := multipartFiles(t, "a.pdf", "b.png", "c.png")
	req := httptest.NewRequest("POST", "/v1/documents/batch?declared_type=client-invoice", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (%s)", rr.Code, rr.Body.String())
	}
	if len(fb.got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(fb.got))
	}
	if fb.got[1].ID != "b.png" || string(fb.got[1].Input.Data) != "data-b.png" {
		t.Errorf("unexpected item: %+v", fb.got[1])
	}
	if fb.got[0].Input.DeclaredType != "client-invoice" {
		t.Errorf("declared type not applied: %q", fb.got[0].Input.DeclaredType)
	}
	if rr.Header().Get(HeaderVisionTokens) != "15" {
		t.Errorf("X-Vision-Tokens: got %q", rr.Header().Get(HeaderVisionTokens))
	}

	var resp struct {
		Items []struct {
			ID     string          `json:"id"`
			Status string          `json:"status"`
			Result json.RawMessage `json:"result"`
			Error  struct {
				Code     string `json:"code"`
				Severity string `json:"severity"`
			} `json:"error"`
		} `json:"items"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Skipped   int `json:"skipped"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Succeeded != 1 || resp.Failed != 1 || resp.Skipped != 1 {
		t.Errorf("counts: %d/%d/%d", resp.Succeeded, resp.Failed, resp.Skipped)
	}
	if string(resp.Items[0].Result) != `{"confidence":0.9}` {
		t.Errorf("result: %s", resp.Items[0].Result)
	}
	if resp.Items[1].Error.Code != "UNSUPPORTED_FORMAT" {
		t.Errorf("error code: %q", resp.Items[1].Error.Code)
	}
	if resp.Items[2].Status != "skipped" || resp.Items[2].Error.Severity != "critical" {
		t.Errorf("skipped item: %+v", resp.Items[2])
	}
}

func TestBatchExtract_RequiresMultipart(t *testing.T) {
	s, _, _ := newTestServer(&fakePipeline{})
	s.WithBatch(&fakeBatch{})

	req := httptest.NewRequest("POST", "/v1/documents/batch", bytes.NewReader([]byte("raw")))
	rr := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestBatchExtract_NoFiles(t *testing.T) {
	fb := &fakeBatch{}
	s, _, _ := newTestServer(&fakePipeline{})
	s.WithBatch(fb)

	body, ct := multipartFiles(t)
	req := httptest.NewRequest("POST", "/v1/documents/batch", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
	if fb.got != nil {
		t.Error("batch must not run without files")
	}
}

func TestBatchExtract_NotRegisteredWithoutService(t *testing.T) {
	s, _, _ := newTestServer(&fakePipeline{})

	body, ct := multipartFiles(t, "a.pdf")
	req := httptest.NewRequest("POST", "/v1/documents/batch", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestGetUsage(t *testing.T) {
	fu := &fakeUsage{report: domusage.NewReport(domusage.PeriodMonth,
		1772323200000, 1775001600000, "gpt-4o-mini", 1200,
		budget.New(10000, 8800, false, 1775001600000))}
	s, _, _ := newTestServer(&fakePipeline{})
	s.WithUsage(fu)

	req := httptest.NewRequest("GET", "/v1/usage?period=month", nil)
	rr := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	if fu.period != domusage.PeriodMonth {
		t.Errorf("period: got %q", fu.period)
	}
	var resp struct {
		Period     string `json:"period"`
		Model      string `json:"model"`
		TokensUsed int64  `json:"tokens_used"`
		Budget     struct {
			TokensLimit     int64   `json:"tokens_limit"`
			TokensRemaining int64   `json:"tokens_remaining"`
			ResetsAt        *string `json:"resets_at"`
		} `json:"budget"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Period != "month" || resp.Model != "gpt-4o-mini" || resp.TokensUsed != 1200 {
		t.Errorf("unexpected report: %+v", resp)
	}
	if resp.Budget.TokensLimit != 10000 || resp.Budget.TokensRemaining != 8800 || resp.Budget.ResetsAt == nil {
		t.Errorf("unexpected budget: %+v", resp.Budget)
	}
}

func TestGetUsage_DefaultsToDay(t *testing.T) {
	fu := &fakeUsage{report: domusage.NewReport(domusage.PeriodDay, 0, 0, "", 0, budget.New(0, 0, false, 0))}
	s, _, _ := newTestServer(&fakePipeline{})
	s.WithUsage(fu)

	rr := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rr, httptest.NewRequest("GET", "/v1/usage", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if fu.period != domusage.PeriodDay {
		t.Errorf("period: got %q, want day", fu.period)
	}
}

func TestGetUsage_InvalidPeriod(t *testing.T) {
	s, _, _ := newTestServer(&fakePipeline{})
	s.WithUsage(&fakeUsage{})

	rr := httptest.NewRecorder()
	s.Router(nil).ServeHTTP(rr, httptest.NewRequest("GET", "/v1/usage?period=total", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}
