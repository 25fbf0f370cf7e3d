package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/metrics"
	"github.com/kailas-cloud/docextract/internal/resilience"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

func testImage(t *testing.T) document.Raw {
	t.Helper()
	raw, err := document.NewRaw(pngBytes, "scan.png")
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	return raw
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "vision-test",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 40, "total_tokens": 160},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func fastResilience() resilience.Config {
	cfg := resilience.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.BreakerEnabled = false
	return cfg
}

func newTestClient(url string) *VisionClient {
	return NewVisionClient(&Config{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "vision-test",
		Aliases:    []string{"Kailas Cloud SA"},
		Resilience: fastResilience(),
		Logger:     zap.NewNop(),
	})
}

const fencedAnswer = "Here is the data:\n```json\n" + `{
  "document_type": "supplier-invoice",
  "confidence": 0.92,
  "invoice_number": "F-2024-001",
  "emitter": {"name": "Muster AG", "iban": "CH93 0076 2011 6238 5295 7"},
  "issue_date": "2024-03-15",
  "currency": "chf",
  "amounts": {"net": 100, "tax_rate": 8.1, "tax_amount": "8.10", "gross": 108.10},
  "notion_mapping": {"collection": "supplier-invoice"}
}` + "\n```\nLet me know if you need more."

func TestVisionClient_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content []struct {
					Type     string `json:"type"`
					Text     string `json:"text"`
					ImageURL struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Model != "vision-test" || len(body.Messages) != 1 || len(body.Messages[0].Content) != 2 {
			t.Fatalf("unexpected request shape: %+v", body)
		}
		parts := body.Messages[0].Content
		if !strings.Contains(parts[0].Text, "- Kailas Cloud SA") {
			t.Error("prompt must list the known aliases")
		}
		if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
			t.Errorf("unexpected image url prefix: %.40s", parts[1].ImageURL.URL)
		}
		writeJSON(w, http.StatusOK, chatResponse(fencedAnswer))
	}))
	defer server.Close()

	ctx, usage := domain.NewContextWithVisionUsage(context.Background())
	ext, err := newTestClient(server.URL).Extract(ctx, testImage(t))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	c := ext.Candidate
	if c.DocumentType != document.SupplierInvoice {
		t.Errorf("expected supplier-invoice, got %q", c.DocumentType)
	}
	if c.Confidence != 0.92 {
		t.Errorf("expected confidence 0.92, got %v", c.Confidence)
	}
	if c.Currency != "CHF" || !c.CurrencyExplicit {
		t.Errorf("expected explicit CHF, got %q explicit=%v", c.Currency, c.CurrencyExplicit)
	}
	if c.Emitter.Name != "Muster AG" {
		t.Errorf("unexpected emitter: %+v", c.Emitter)
	}
	if got := c.Amounts.Gross.String(); got != "108.1" {
		t.Errorf("expected gross 108.1, got %s", got)
	}
	if c.Amounts.TaxAmount.IsParsed() || c.Amounts.TaxAmount.Raw() != "8.10" {
		t.Errorf("string amount must stay raw for the validator, got %+v", c.Amounts.TaxAmount)
	}
	if c.MappingHint["collection"] != "supplier-invoice" {
		t.Errorf("expected mapping hint, got %v", c.MappingHint)
	}
	if ext.PromptTokens != 120 || ext.CompletionTokens != 40 || ext.Model != "vision-test" {
		t.Errorf("unexpected usage: %+v", ext)
	}
	if usage.TotalTokens() != 160 || usage.Calls != 1 {
		t.Errorf("expected usage recorded in context, got %d tokens / %d calls", usage.TotalTokens(), usage.Calls)
	}
}

func TestVisionClient_DefaultConfidenceAndProse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, chatResponse(`Sure! {"invoice_number": 4711, "note": "a } brace"} thanks`))
	}))
	defer server.Close()

	ext, err := newTestClient(server.URL).Extract(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if ext.Candidate.Confidence != DefaultConfidence {
		t.Errorf("expected default confidence %v, got %v", DefaultConfidence, ext.Candidate.Confidence)
	}
	if ext.Candidate.InvoiceNumber != "4711" {
		t.Errorf("expected numeric invoice number kept as text, got %q", ext.Candidate.InvoiceNumber)
	}
}

func TestVisionClient_ConfidenceClamped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, chatResponse(`{"confidence": 1.7}`))
	}))
	defer server.Close()

	ext, err := newTestClient(server.URL).Extract(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if ext.Candidate.Confidence != 1 {
		t.Errorf("expected clamped confidence 1, got %v", ext.Candidate.Confidence)
	}
}

func TestVisionClient_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("retry-after-ms", "2")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"message": "rate limit reached", "type": "requests"},
			})
			return
		}
		writeJSON(w, http.StatusOK, chatResponse(fencedAnswer))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Extract(context.Background(), testImage(t)); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestVisionClient_RetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"message": "slow down"},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Extract(context.Background(), testImage(t))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("expected 1 attempt + 3 retries, got %d", calls.Load())
	}
}

func TestVisionClient_ServerErrorIsHardFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"message": "model crashed"},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Extract(context.Background(), testImage(t))
	var se *domain.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if !errors.Is(err, domain.ErrUpstreamModel) {
		t.Error("expected ErrUpstreamModel")
	}
	if calls.Load() != 1 {
		t.Errorf("non-429 must not be retried, got %d calls", calls.Load())
	}
}

func TestVisionClient_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, chatResponse("I could not read this document."))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Extract(context.Background(), testImage(t))
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestVisionClient_SchemaViolation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, chatResponse(`{"amounts": {"gross": true}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Extract(context.Background(), testImage(t))
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse for boolean amount, got %v", err)
	}
}

func TestVisionClient_CallerDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		writeJSON(w, http.StatusOK, chatResponse(fencedAnswer))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server.URL).Extract(ctx, testImage(t))
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestVisionClient_RejectsNonImage(t *testing.T) {
	raw, err := document.NewRaw([]byte("%PDF-1.4\n%%EOF"), "doc.pdf")
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	_, err = newTestClient("http://127.0.0.1:1").Extract(context.Background(), raw)
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestVisionClient_PayloadGuard(t *testing.T) {
	c := NewVisionClient(&Config{Model: "m", MaxPayload: 16, Resilience: fastResilience()})
	_, err := c.Extract(context.Background(), testImage(t))
	if !errors.Is(err, domain.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestVisionClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": []any{}})
	}))
	defer server.Close()

	if err := newTestClient(server.URL).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}
