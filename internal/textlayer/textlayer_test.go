package textlayer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/document"
)

// buildPDF renders a one-page PDF with one text line per entry and a valid xref table.
func buildPDF(lines ...string) []byte {
	var content strings.Builder
	content.WriteString("BT /F1 12 Tf 72 720 Td\n")
	for i, l := range lines {
		if i > 0 {
			content.WriteString("0 -20 Td\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", l)
	}
	content.WriteString("ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R " +
			"/Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func mustRaw(t *testing.T, data []byte, name string) document.Raw {
	t.Helper()
	raw, err := document.NewRaw(data, name)
	if err != nil {
		t.Fatalf("NewRaw: %v", err)
	}
	return raw
}

func TestRead_PDF(t *testing.T) {
	raw := mustRaw(t, buildPDF("Facture FAC-2024-001", "Total CHF 1081.00"), "invoice.pdf")
	layer, err := Read(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if layer.Pages != 1 {
		t.Errorf("Pages = %d", layer.Pages)
	}
	for _, want := range []string{"FAC-2024-001", "1081.00"} {
		if !strings.Contains(layer.Text, want) {
			t.Errorf("text %q missing %q", layer.Text, want)
		}
	}
}

func TestRead_BrokenPDF(t *testing.T) {
	raw := mustRaw(t, []byte("%PDF-1.4\nthis is not a pdf body"), "broken.pdf")
	_, err := Read(raw)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("unexpected error kind: %v", err)
	}
}

func TestReaderPanicIsUnsupportedFormat(t *testing.T) {
	err := readerPanic("runtime error: index out of range [3] with length 2")
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if errors.Is(err, domain.ErrWorkerCrashed) {
		t.Error("a malformed document must not be reported as a crashed worker")
	}
}

func TestRead_Text(t *testing.T) {
	raw := mustRaw(t, []byte("Facture N° 12\r\nTotal   \r\n"), "a.txt")
	layer, err := Read(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if layer.Text != "Facture N° 12\nTotal" {
		t.Errorf("Text = %q", layer.Text)
	}
}

func TestRead_Image(t *testing.T) {
	raw := mustRaw(t, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "scan.png")
	layer, err := Read(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if layer.Text != "" || layer.Reliable(1) {
		t.Errorf("image must have no text layer, got %q", layer.Text)
	}
}

func TestReliable(t *testing.T) {
	l := Layer{Text: "a b c"}
	if !l.Reliable(3) {
		t.Error("3 non-space runes must satisfy minChars=3")
	}
	if l.Reliable(4) {
		t.Error("3 non-space runes must not satisfy minChars=4")
	}
	if (Layer{Text: strings.Repeat("x", DefaultMinChars-1)}).Reliable(0) {
		t.Error("default threshold not applied")
	}
}
