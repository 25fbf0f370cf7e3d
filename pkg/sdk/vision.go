package docextract

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
)

// VisionModel extracts a candidate from a document image.
// Used when documents have no usable text layer.
type VisionModel interface {
	Extract(ctx context.Context, image []byte, mimeType string) (VisionResult, error)
}

// VisionResult is what a vision model read from a document. Amount fields hold the
// text as printed ("1'080.00"); the pipeline parses and reconciles them.
// A non-positive Confidence is read as 0.7.
type VisionResult struct {
	DocumentType  DocumentType
	Confidence    float64
	InvoiceNumber string
	Emitter       Party
	Counterparty  Party
	IssueDate     string
	DueDate       string
	Currency      string
	Net           string
	TaxRate       string
	TaxAmount     string
	Gross         string

	PromptTokens     int
	CompletionTokens int
	Model            string
}

// defaultVisionConfidence applies when a model reports no confidence.
const defaultVisionConfidence = 0.7

// visionAdapter wraps public VisionModel to satisfy pipeline.VisionExtractor.
type visionAdapter struct {
	inner VisionModel
}

func (a *visionAdapter) Extract(ctx context.Context, raw document.Raw) (candidate.Extraction, error) {
	r, err := a.inner.Extract(ctx, raw.Bytes(), raw.MIMEType())
	if err != nil {
		return candidate.Extraction{}, fmt.Errorf("vision model: %w", err)
	}
	amount := func(s string) candidate.Amount {
		if s == "" {
			return candidate.Amount{}
		}
		return candidate.RawAmount(s)
	}
	confidence := r.Confidence
	if confidence <= 0 {
		confidence = defaultVisionConfidence
	}
	c := candidate.Candidate{
		DocumentType:     document.Type(r.DocumentType),
		Confidence:       confidence,
		InvoiceNumber:    r.InvoiceNumber,
		Emitter:          partyTo(r.Emitter),
		Counterparty:     partyTo(r.Counterparty),
		IssueDate:        r.IssueDate,
		DueDate:          r.DueDate,
		Currency:         r.Currency,
		CurrencyExplicit: r.Currency != "",
		Amounts: candidate.Amounts{
			Net:       amount(r.Net),
			TaxRate:   amount(r.TaxRate),
			TaxAmount: amount(r.TaxAmount),
			Gross:     amount(r.Gross),
		},
	}
	return candidate.Extraction{
		Candidate:        c,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		Model:            r.Model,
	}, nil
}

func partyTo(p Party) candidate.Party {
	return candidate.Party{
		Name: p.Name, Address: p.Address, TaxID: p.TaxID,
		IBAN: p.IBAN, Phone: p.Phone, Country: p.Country,
	}
}
