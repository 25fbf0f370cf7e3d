// Package classify decides a document's type and counterparty direction from the
// parties named on it, matching them against the owner's legal entity registry.
package classify

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
)

// keywordLines bounds the title scan for contracts and expense notes.
const keywordLines = 10

var (
	contractTitle = regexp.MustCompile(`(?i)\b(?:contrat|contract|contratto|contrato|convention|agreement)\b|vertrag\b`)
	expenseTitle  = regexp.MustCompile(`(?i)(?:note\s+de\s+frais|spesen(?:abrechnung|rechnung)?|expense\s+(?:note|report|claim)|nota\s+spese|rimborso\s+spese)`)
)

// Result is a classification decision.
type Result struct {
	Type          document.Type
	Role          candidate.Role
	LowConfidence bool
	// Owner is the matched registry entity, when any side matched.
	Owner string
}

// Classifier classifies documents against a registry.
type Classifier struct {
	registry    *Registry
	defaultType document.Type
	logger      *zap.Logger
}

// New creates a classifier. defaultType is used when the caller supplies no fallback.
func New(registry *Registry, defaultType document.Type, logger *zap.Logger) *Classifier {
	if defaultType == "" {
		defaultType = document.SupplierInvoice
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{registry: registry, defaultType: defaultType, logger: logger}
}

// Registry returns the entity registry.
func (c *Classifier) Registry() *Registry { return c.registry }

// Classify matches emitter first, then counterparty.
func (c *Classifier) Classify(emitter, counterparty string, fallback document.Type) Result {
	if e, ok := c.registry.Match(emitter); ok {
		return Result{Type: document.ClientInvoice, Role: candidate.RoleClient, Owner: e.Name}
	}
	if e, ok := c.registry.Match(counterparty); ok {
		return Result{Type: document.SupplierInvoice, Role: candidate.RoleSupplier, Owner: e.Name}
	}
	if fallback == "" {
		fallback = c.defaultType
	}
	c.logger.Debug("No registry match, using fallback type",
		zap.String("emitter", emitter),
		zap.String("counterparty", counterparty),
		zap.String("fallback", string(fallback)),
	)
	res := Result{Type: fallback, LowConfidence: true}
	switch fallback {
	case document.ClientInvoice:
		res.Role = candidate.RoleClient
	case document.SupplierInvoice:
		res.Role = candidate.RoleSupplier
	}
	return res
}

// ClassifyText locates the parties in text, then classifies them. Contracts and expense
// notes are recognized by their title; their role still follows the registry.
func (c *Classifier) ClassifyText(text string, fallback document.Type) (Result, Parties) {
	parties := c.registry.LocateParties(text)
	res := c.Classify(parties.Emitter.Name, parties.Counterparty.Name, fallback)
	if t, ok := titleType(text); ok {
		res.Type = t
	}
	return res, parties
}

// Apply classifies a candidate in place from its party names. The declared type wins when
// the registry cannot decide.
func (c *Classifier) Apply(cand *candidate.Candidate, declared document.Type) Result {
	fallback := declared
	if fallback == "" {
		fallback = cand.DocumentType
	}
	res := c.Classify(cand.Emitter.Name, cand.Counterparty.Name, fallback)
	if cand.DocumentType == document.Contract || cand.DocumentType == document.ExpenseNote {
		res.Type = cand.DocumentType
	}
	cand.DocumentType = res.Type
	cand.CounterpartyRole = res.Role
	cand.LowConfidence = cand.LowConfidence || res.LowConfidence
	return res
}

// ApplyText fills missing party names from the text, then classifies.
func (c *Classifier) ApplyText(cand *candidate.Candidate, text string, declared document.Type) Result {
	parties := c.registry.LocateParties(text)
	if cand.Emitter.Name == "" {
		cand.Emitter.Name = parties.Emitter.Name
		if cand.Emitter.Address == "" {
			cand.Emitter.Address = strings.Join(parties.Emitter.Address, ", ")
		}
	}
	if cand.Counterparty.Name == "" {
		cand.Counterparty.Name = parties.Counterparty.Name
		if cand.Counterparty.Address == "" {
			cand.Counterparty.Address = strings.Join(parties.Counterparty.Address, ", ")
		}
		if cand.Counterparty.Country == "" {
			cand.Counterparty.Country = parties.Counterparty.Country
		}
	}
	if t, ok := titleType(text); ok {
		cand.DocumentType = t
	}
	return c.Apply(cand, declared)
}

func titleType(text string) (document.Type, bool) {
	lines := strings.SplitN(text, "\n", keywordLines+1)
	if len(lines) > keywordLines {
		lines = lines[:keywordLines]
	}
	head := strings.Join(lines, "\n")
	switch {
	case expenseTitle.MatchString(head):
		return document.ExpenseNote, true
	case contractTitle.MatchString(head):
		return document.Contract, true
	}
	return "", false
}
