// Package textlayer reads the embedded text of a document when one exists:
// plain text as-is and PDF text row by row. Images have no text layer.
package textlayer

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/document"
)

// DefaultMinChars is the non-space rune count above which a text layer is trusted.
const DefaultMinChars = 40

// Layer is the text found in a document.
type Layer struct {
	Text  string
	Pages int
}

// Reliable reports whether the layer holds enough text to skip the vision model.
func (l Layer) Reliable(minChars int) bool {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	n := 0
	for _, r := range l.Text {
		if !unicode.IsSpace(r) {
			n++
			if n >= minChars {
				return true
			}
		}
	}
	return false
}

// Read extracts the text layer. Images return an empty layer and no error.
func Read(raw document.Raw) (Layer, error) {
	switch raw.Format() {
	case document.FormatText:
		if !utf8.Valid(raw.Bytes()) {
			return Layer{}, fmt.Errorf("%w: %s is not valid UTF-8 text", domain.ErrUnsupportedFormat, raw.Filename())
		}
		return Layer{Text: normalize(string(raw.Bytes())), Pages: 1}, nil
	case document.FormatPDF:
		return readPDF(raw.Bytes())
	default:
		return Layer{}, nil
	}
}

func readerPanic(r any) error {
	return fmt.Errorf("%w: malformed pdf: %v", domain.ErrUnsupportedFormat, r)
}

// readPDF walks every page. The reader panics on some malformed inputs; that is an
// unreadable document, not a crashed worker.
func readPDF(data []byte) (layer Layer, err error) {
	defer func() {
		if r := recover(); r != nil {
			layer, err = Layer{}, readerPanic(r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Layer{}, fmt.Errorf("%w: open pdf: %v", domain.ErrUnsupportedFormat, err)
	}

	var b strings.Builder
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return Layer{}, fmt.Errorf("%w: page %d text: %v", domain.ErrUnsupportedFormat, i, err)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, word := range row.Content {
				if s := strings.TrimSpace(word.S); s != "" {
					words = append(words, s)
				}
			}
			b.WriteString(strings.Join(words, " "))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return Layer{Text: normalize(b.String()), Pages: pages}, nil
}

// normalize unifies line endings and trims trailing spaces per line.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRightFunc(l, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
