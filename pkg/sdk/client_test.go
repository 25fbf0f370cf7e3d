package docextract

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

const invoiceText = `HYPERVISUAL by HMF Corporation SA
Avenue de la Gare 10
1003 Lausanne

PUBLIGRAMA ADVERTISING S.L.
Calle Mayor 5
28013 Madrid
Spain

Facture N° FAC-2024-031
Date: 02.04.2024
Sous-total CHF 2'000.00
TVA 8.1% CHF 162.00
Total TTC CHF 2'162.00
`

var png = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{7}, 64)...)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithEntity("HMF Corporation SA", "HYPERVISUAL"),
		WithEntityAddress("HMF Corporation SA", "Avenue de la Gare 10", "1003 Lausanne"),
	}
	c, err := New(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := &clientConfig{driver: "unknown"}
	if _, err := createStore(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNew_RedisRequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), WithRedis("", "")); err == nil {
		t.Fatal("expected error when no redis address provided")
	}
}

func TestNew_UnknownDefaultType(t *testing.T) {
	if _, err := New(context.Background(), WithDefaultType("receipt")); err == nil {
		t.Fatal("expected error for unknown default type")
	}
}

func TestExtract_TextDocument(t *testing.T) {
	c := newTestClient(t)

	res, err := c.Extract(context.Background(), []byte(invoiceText), "invoice.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DocumentType != ClientInvoice {
		t.Errorf("document type = %s, want client-invoice", res.DocumentType)
	}
	if res.Counterparty.Name != "PUBLIGRAMA ADVERTISING S.L." {
		t.Errorf("counterparty = %q", res.Counterparty.Name)
	}
	if res.Gross == nil || !res.Gross.Equal(decimal.RequireFromString("2162")) {
		t.Errorf("gross = %v, want 2162", res.Gross)
	}
	if res.ExtractionPath != "local" {
		t.Errorf("path = %q, want local", res.ExtractionPath)
	}
	if res.Collection != "Factures clients" {
		t.Errorf("collection = %q", res.Collection)
	}
	if res.Cache != "miss" {
		t.Errorf("cache = %q, want miss", res.Cache)
	}
	if _, ok := res.Properties["Montant TTC"]; !ok {
		t.Errorf("expected Montant TTC property, got %v", res.Properties)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	vision := &mockVision{fn: func(context.Context, []byte, string) (VisionResult, error) {
		return scannedInvoice(), nil
	}}
	c := newTestClient(t, WithVisionModel(vision))

	first, err := c.Extract(context.Background(), png, "scan.png")
	if err != nil {
		t.Fatalf("first extract: %v", err)
	}
	second, err := c.Extract(context.Background(), png, "scan-copy.png")
	if err != nil {
		t.Fatalf("second extract: %v", err)
	}

	if vision.calls.Load() != 1 {
		t.Errorf("vision calls = %d, want 1", vision.calls.Load())
	}
	if second.Cache != "hit" {
		t.Errorf("cache = %q, want hit", second.Cache)
	}
	if !bytes.Equal(first.JSON, second.JSON) {
		t.Error("cached result must be byte-identical")
	}

	if _, err := c.Reprocess(context.Background(), png, "scan.png"); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if vision.calls.Load() != 2 {
		t.Errorf("reprocess must reach the model, calls = %d", vision.calls.Load())
	}
}

func TestExtract_VisionResultIsReconciled(t *testing.T) {
	vision := &mockVision{fn: func(_ context.Context, _ []byte, mimeType string) (VisionResult, error) {
		if mimeType != "image/png" {
			t.Errorf("mime type = %q", mimeType)
		}
		return scannedInvoice(), nil
	}}
	c := newTestClient(t, WithVisionModel(vision))

	res, err := c.Extract(context.Background(), png, "scan.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DocumentType != ClientInvoice {
		t.Errorf("owner as emitter must yield client-invoice, got %s", res.DocumentType)
	}
	if res.ExtractionPath != "vision" {
		t.Errorf("path = %q", res.ExtractionPath)
	}
	if res.IssueDate != "2024-03-15" {
		t.Errorf("issue date = %q", res.IssueDate)
	}
	if len(res.ValidationErrors) != 1 {
		t.Fatalf("expected 1 validation error, got %+v", res.ValidationErrors)
	}
	ve := res.ValidationErrors[0]
	if ve.Field != "gross" || ve.SuggestedFix == nil || !ve.SuggestedFix.Equal(decimal.RequireFromString("1081")) {
		t.Errorf("unexpected validation error: %+v", ve)
	}
}

func TestExtract_Failures(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Extract(context.Background(), nil, "empty.pdf")
	if code := FailureCode(err); code != "UNSUPPORTED_FORMAT" {
		t.Errorf("empty document: code = %q", code)
	}
	if !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}

	_, err = c.Extract(context.Background(), png, "scan.png")
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("expected classified failure, got %v", err)
	}
	if f.Code != "INITIALIZATION_ERROR" || f.Severity != "critical" {
		t.Errorf("no vision model: got %+v", f)
	}
	if f.CorrelationID == "" {
		t.Error("failure must carry a correlation id")
	}

	entries := c.Errors(10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 logged failures, got %d", len(entries))
	}
	if entries[0].CorrelationID != f.CorrelationID {
		t.Error("errors must be listed newest first")
	}
}

func TestExtract_VisionModelError(t *testing.T) {
	vision := &mockVision{fn: func(context.Context, []byte, string) (VisionResult, error) {
		return VisionResult{}, ErrRateLimited
	}}
	c := newTestClient(t, WithVisionModel(vision))

	_, err := c.Extract(context.Background(), png, "scan.png")
	f, ok := AsFailure(err)
	if !ok || f.Code != "API_ERROR" || f.RecoveryAction != "retry-with-backoff" {
		t.Errorf("unexpected failure: %+v (%v)", f, err)
	}
}

func TestExtract_Options(t *testing.T) {
	c := newTestClient(t, WithCollection(ClientInvoice, "Invoices out"))

	res, err := c.Extract(context.Background(), []byte(invoiceText), "invoice.txt", AsType(ClientInvoice))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Collection != "Invoices out" {
		t.Errorf("collection = %q", res.Collection)
	}
}

func TestHealth_MemoryStore(t *testing.T) {
	c := newTestClient(t)

	h := c.Health(context.Background())
	if h.Status != "ok" {
		t.Errorf("status = %q, want ok", h.Status)
	}
	if h.Checks["cache"] != "ok" {
		t.Errorf("cache check = %q", h.Checks["cache"])
	}
	if _, ok := h.Checks["vision"]; ok {
		t.Error("vision must not be checked when not configured")
	}
	if !h.Healthy() {
		t.Error("expected Healthy()")
	}
	if h.CanProcessScans() {
		t.Error("scans cannot be processed without a vision model")
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestObserver_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestClient(t, WithPrometheus(reg))

	_, _ = c.Extract(context.Background(), []byte(invoiceText), "invoice.txt")
	_, _ = c.Extract(context.Background(), nil, "empty.pdf")

	if v := testutil.ToFloat64(c.obs.metrics.operations.WithLabelValues("extract", "ok")); v != 1 {
		t.Errorf("ok count = %v, want 1", v)
	}
	if v := testutil.ToFloat64(c.obs.metrics.operations.WithLabelValues("extract", "UNSUPPORTED_FORMAT")); v != 1 {
		t.Errorf("failure count = %v, want 1", v)
	}

	if v := testutil.ToFloat64(c.obs.metrics.documents.WithLabelValues("local", "miss")); v != 1 {
		t.Errorf("documents count = %v, want 1", v)
	}

	// A second client on the same registry reuses the collectors.
	c2 := newTestClient(t, WithPrometheus(reg))
	if c2.obs.metrics.operations != c.obs.metrics.operations {
		t.Error("expected collectors to be shared")
	}
}

func TestObserver_NilSafe(t *testing.T) {
	var o *observer
	o.observe("extract", time.Now(), errors.New("boom"))
	o.document(Result{})
}

func TestStatusLabel(t *testing.T) {
	if got := statusLabel(nil); got != "ok" {
		t.Errorf("nil error: %q", got)
	}
	if got := statusLabel(errors.New("boom")); got != "error" {
		t.Errorf("plain error: %q", got)
	}
	c := newTestClient(t)
	_, err := c.Extract(context.Background(), nil, "empty.pdf")
	if got := statusLabel(err); got != "UNSUPPORTED_FORMAT" {
		t.Errorf("classified failure: %q", got)
	}
}
