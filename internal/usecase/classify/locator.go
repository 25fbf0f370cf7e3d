package classify

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kailas-cloud/docextract/internal/domain/pattern"
)

// lineItemHeader ends the counterparty block.
var lineItemHeader = regexp.MustCompile(`(?i)^\s*(?:description|d[ée]signation|bezeichnung|beschreibung|descrizione|descripci[oó]n|qt[ée]|quantit|menge|amount|montant|betrag|importo|date\s*:|datum\s*:|facture|rechnung|invoice|fattura|factura)`)

var (
	emailLine = regexp.MustCompile(`(?i)\b[\w.+-]+@[\w-]+\.[\w.]+\b`)
	webLine   = regexp.MustCompile(`(?i)\b(?:www\.|https?://)`)
	phoneTag  = regexp.MustCompile(`(?i)^\s*(?:t[ée]l|tel|phone|fax|mobile)\b`)
)

var countries = map[string]string{
	"switzerland": "CH", "suisse": "CH", "schweiz": "CH", "svizzera": "CH",
	"france": "FR", "germany": "DE", "deutschland": "DE", "allemagne": "DE",
	"spain": "ES", "españa": "ES", "espagne": "ES", "italy": "IT", "italia": "IT",
	"italie": "IT", "austria": "AT", "österreich": "AT", "autriche": "AT",
	"belgium": "BE", "belgique": "BE", "luxembourg": "LU", "netherlands": "NL",
	"portugal": "PT", "united kingdom": "GB", "usa": "US", "united states": "US",
}

// Block is a located party: its first line and the lines that follow it.
type Block struct {
	Name    string
	Address []string
	Country string
}

// Parties is the result of scanning a document's letterhead area.
type Parties struct {
	Emitter      Block
	Counterparty Block
	// OwnerIsEmitter is set when the owner's letterhead opens the document.
	OwnerIsEmitter bool
	// OwnerFound is set when any registry alias appears in the text.
	OwnerFound bool
}

// LocateParties finds emitter and counterparty blocks in linear document text.
//
// When the owner's letterhead opens the document, the counterparty is the first block
// of capitalized lines after the seller block that is not itself an alias, ending at
// a line-item header. When the owner appears later it is the addressee and the first
// block of the document is the emitter.
func (r *Registry) LocateParties(text string) Parties {
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}

	first := nextNonBlank(lines, 0)
	if first < 0 {
		return Parties{}
	}
	firstEnd := paragraphEnd(lines, first)

	owner := -1
	for i, l := range lines {
		if _, ok := r.Match(l); ok {
			owner = i
			break
		}
	}

	var p Parties
	switch {
	case owner >= 0 && owner <= firstEnd:
		p.OwnerFound, p.OwnerIsEmitter = true, true
		sellerEnd := r.sellerBlockEnd(lines, owner)
		p.Emitter = Block{Name: lines[owner], Address: nonBlank(lines[owner+1 : sellerEnd+1])}
		p.Counterparty = r.blockAfter(lines, sellerEnd+1)
	case owner >= 0:
		p.OwnerFound = true
		p.Emitter = r.blockAt(lines, first)
		p.Counterparty = r.blockAt(lines, owner)
	default:
		p.Emitter = r.blockAt(lines, first)
		p.Counterparty = r.blockAfter(lines, firstEnd+1)
	}
	return p
}

// sellerBlockEnd extends the seller block over its paragraph and any following
// paragraphs made only of the owner's address and identifier lines.
func (r *Registry) sellerBlockEnd(lines []string, start int) int {
	end := paragraphEnd(lines, start)
	for {
		next := nextNonBlank(lines, end+1)
		if next < 0 {
			return end
		}
		pEnd := paragraphEnd(lines, next)
		for i := next; i <= pEnd; i++ {
			if !r.isSellerLine(lines[i]) {
				return end
			}
		}
		end = pEnd
	}
}

func (r *Registry) isSellerLine(l string) bool {
	if _, alias := r.Match(l); alias {
		return true
	}
	return r.IsAddressLine(l) || isIdentifierLine(l)
}

func isIdentifierLine(l string) bool {
	if _, ok := pattern.VATNumber.First(l); ok {
		return true
	}
	if _, ok := pattern.FindIBAN(l); ok {
		return true
	}
	if _, ok := pattern.FindPhone(l); ok {
		return true
	}
	return phoneTag.MatchString(l) || emailLine.MatchString(l) || webLine.MatchString(l)
}

// blockAfter returns the first capitalized, non-alias block starting at or after from.
func (r *Registry) blockAfter(lines []string, from int) Block {
	for i := from; i < len(lines); i++ {
		l := lines[i]
		if l == "" {
			continue
		}
		if lineItemHeader.MatchString(l) {
			return Block{}
		}
		if r.isSellerLine(l) {
			continue
		}
		if startsUpper(l) && !strings.Contains(l, ":") {
			return r.blockAt(lines, i)
		}
	}
	return Block{}
}

// blockAt collects the contiguous lines starting at i.
func (r *Registry) blockAt(lines []string, i int) Block {
	b := Block{Name: lines[i]}
	for j := i + 1; j < len(lines); j++ {
		l := lines[j]
		if l == "" || lineItemHeader.MatchString(l) {
			break
		}
		if code, ok := countries[strings.ToLower(l)]; ok {
			b.Country = code
			continue
		}
		b.Address = append(b.Address, l)
	}
	return b
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

func nextNonBlank(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if lines[i] != "" {
			return i
		}
	}
	return -1
}

func paragraphEnd(lines []string, start int) int {
	end := start
	for i := start + 1; i < len(lines) && lines[i] != ""; i++ {
		end = i
	}
	return end
}

func nonBlank(lines []string) []string {
	var out []string
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
