package docextract

import (
	"context"
	"sync/atomic"
)

// --- VisionModel mock ---

type mockVision struct {
	calls atomic.Int32
	fn    func(ctx context.Context, image []byte, mimeType string) (VisionResult, error)
}

func (m *mockVision) Extract(ctx context.Context, image []byte, mimeType string) (VisionResult, error) {
	m.calls.Add(1)
	return m.fn(ctx, image, mimeType)
}

func scannedInvoice() VisionResult {
	return VisionResult{
		DocumentType:     SupplierInvoice,
		Confidence:       0.85,
		InvoiceNumber:    "FAC-2024-017",
		Emitter:          Party{Name: "HYPERVISUAL by HMF Corporation SA"},
		Counterparty:     Party{Name: "PUBLIGRAMA ADVERTISING S.L."},
		IssueDate:        "15.03.2024",
		Currency:         "CHF",
		Net:              "1'000.00",
		TaxRate:          "8.1",
		TaxAmount:        "81.00",
		Gross:            "1'080.00",
		PromptTokens:     900,
		CompletionTokens: 120,
		Model:            "mock-vision",
	}
}
