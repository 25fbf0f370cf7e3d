package openai

import (
	"fmt"
	"strings"
)

const promptTemplate = `You are a document extraction engine for Swiss and European financial documents.
Read the attached document image and return ONE JSON object inside a ` + "```json" + ` fenced block.
Do not add commentary outside the block.

Known entities of the owning organization (match case-insensitively, descriptors may surround them):
%s

Schema (omit fields you cannot read; never invent values; amounts as numbers, dates as YYYY-MM-DD):
{
  "document_type": "client-invoice | supplier-invoice | contract | expense-note",
  "confidence": 0.0-1.0,
  "invoice_number": "string",
  "emitter": {"name": "", "address": "", "tax_id": "", "iban": "", "phone": ""},
  "counterparty": {"name": "", "address": "", "country": ""},
  "issue_date": "YYYY-MM-DD",
  "due_date": "YYYY-MM-DD",
  "currency": "CHF | EUR | USD",
  "line_items": [{"description": "", "quantity": 0, "unit_price": 0, "total": 0}],
  "amounts": {"net": 0, "tax_rate": 8.1, "tax_amount": 0, "gross": 0},
  "notion_mapping": {"collection": "client-invoice | supplier-invoice | contract | expense-note"}
}

Rules:
- "emitter" is the party that issued the document; "counterparty" is the other party.
- If the emitter is one of the known entities the document is a client-invoice, if the counterparty is, a supplier-invoice.
- tax_rate is a percentage (8.1 means 8.1%%).
- Use the totals from the summary block, not from individual line items.`

// BuildPrompt renders the fixed extraction prompt with the known-entity aliases.
func BuildPrompt(aliases []string) string {
	list := "- (none configured)"
	if len(aliases) > 0 {
		lines := make([]string, 0, len(aliases))
		for _, a := range aliases {
			if a = strings.TrimSpace(a); a != "" {
				lines = append(lines, "- "+a)
			}
		}
		if len(lines) > 0 {
			list = strings.Join(lines, "\n")
		}
	}
	return fmt.Sprintf(promptTemplate, list)
}
