package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
)

// responseSchema is deliberately lenient on presence and strict on types:
// amounts may still be strings, the validator coerces them later.
const responseSchema = `{
  "type": "object",
  "properties": {
    "document_type": {"type": ["string", "null"]},
    "confidence": {"type": ["number", "null"]},
    "invoice_number": {"type": ["string", "number", "null"]},
    "emitter": {"$ref": "#/$defs/party"},
    "counterparty": {"$ref": "#/$defs/party"},
    "issue_date": {"type": ["string", "null"]},
    "due_date": {"type": ["string", "null"]},
    "currency": {"type": ["string", "null"]},
    "line_items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "description": {"type": ["string", "null"]},
          "quantity": {"$ref": "#/$defs/amount"},
          "unit_price": {"$ref": "#/$defs/amount"},
          "total": {"$ref": "#/$defs/amount"}
        }
      }
    },
    "amounts": {
      "type": ["object", "null"],
      "properties": {
        "net": {"$ref": "#/$defs/amount"},
        "tax_rate": {"$ref": "#/$defs/amount"},
        "tax_amount": {"$ref": "#/$defs/amount"},
        "gross": {"$ref": "#/$defs/amount"}
      }
    },
    "notion_mapping": {"type": ["object", "null"]}
  },
  "$defs": {
    "amount": {"type": ["number", "string", "null"]},
    "party": {
      "type": ["object", "null"],
      "properties": {
        "name": {"type": ["string", "null"]},
        "address": {"type": ["string", "null"]},
        "tax_id": {"type": ["string", "null"]},
        "iban": {"type": ["string", "null"]},
        "phone": {"type": ["string", "null"]},
        "country": {"type": ["string", "null"]}
      }
    }
  }
}`

func compileResponseSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("candidate.json", strings.NewReader(responseSchema)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	return compiler.MustCompile("candidate.json")
}

type wireParty struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	TaxID   *string `json:"tax_id"`
	IBAN    *string `json:"iban"`
	Phone   *string `json:"phone"`
	Country *string `json:"country"`
}

func (p *wireParty) party() candidate.Party {
	if p == nil {
		return candidate.Party{}
	}
	s := func(v *string) string {
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	}
	return candidate.Party{
		Name: s(p.Name), Address: s(p.Address), TaxID: s(p.TaxID),
		IBAN: s(p.IBAN), Phone: s(p.Phone), Country: s(p.Country),
	}
}

type wireCandidate struct {
	DocumentType  string               `json:"document_type"`
	Confidence    *float64             `json:"confidence"`
	InvoiceNumber json.RawMessage      `json:"invoice_number"`
	Emitter       *wireParty           `json:"emitter"`
	Counterparty  *wireParty           `json:"counterparty"`
	IssueDate     string               `json:"issue_date"`
	DueDate       string               `json:"due_date"`
	Currency      string               `json:"currency"`
	LineItems     []candidate.LineItem `json:"line_items"`
	Amounts       *candidate.Amounts   `json:"amounts"`
	NotionMapping map[string]any       `json:"notion_mapping"`
}

// ParseResponse turns the model's free-text answer into a candidate.
// Any failure to find or validate the JSON object is domain.ErrMalformedResponse.
func ParseResponse(schema *jsonschema.Schema, text string, defaultConfidence float64) (candidate.Candidate, error) {
	obj, err := ExtractJSON(text)
	if err != nil {
		return candidate.Candidate{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return candidate.Candidate{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if err := schema.Validate(generic); err != nil {
		return candidate.Candidate{}, fmt.Errorf("%w: schema: %v", domain.ErrMalformedResponse, err)
	}

	var w wireCandidate
	if err := json.Unmarshal([]byte(obj), &w); err != nil {
		return candidate.Candidate{}, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	return w.candidate(defaultConfidence), nil
}

func (w wireCandidate) candidate(defaultConfidence float64) candidate.Candidate {
	c := candidate.Candidate{
		InvoiceNumber: rawString(w.InvoiceNumber),
		Emitter:       w.Emitter.party(),
		Counterparty:  w.Counterparty.party(),
		IssueDate:     strings.TrimSpace(w.IssueDate),
		DueDate:       strings.TrimSpace(w.DueDate),
		Currency:      strings.ToUpper(strings.TrimSpace(w.Currency)),
		LineItems:     w.LineItems,
	}
	c.CurrencyExplicit = c.Currency != ""
	if w.Amounts != nil {
		c.Amounts = *w.Amounts
	}
	if t, err := document.ParseType(w.DocumentType); err == nil {
		c.DocumentType = t
	}

	c.Confidence = defaultConfidence
	if w.Confidence != nil {
		c.Confidence = *w.Confidence
	}
	c.Confidence = candidate.ClampConfidence(c.Confidence)

	if len(w.NotionMapping) > 0 {
		c.MappingHint = make(map[string]string, len(w.NotionMapping))
		for k, v := range w.NotionMapping {
			if v != nil {
				c.MappingHint[k] = fmt.Sprint(v)
			}
		}
	}
	return c
}

// rawString accepts a JSON string or number (models sometimes emit numeric invoice numbers).
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}
