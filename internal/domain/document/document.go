package document

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/docextract/internal/domain"
)

// MaxFileSize is the maximum accepted document size in bytes.
const MaxFileSize = 20 << 20 // 20MB

// Type is the document role the pipeline classifies into.
type Type string

// Document type constants. The value doubles as the target record collection name.
const (
	// ClientInvoice is an invoice issued BY the owning organization.
	ClientInvoice Type = "client-invoice"
	// SupplierInvoice is an invoice issued TO the owning organization.
	SupplierInvoice Type = "supplier-invoice"
	Contract        Type = "contract"
	ExpenseNote     Type = "expense-note"
)

// Types lists every document type in a stable order.
func Types() []Type {
	return []Type{ClientInvoice, SupplierInvoice, Contract, ExpenseNote}
}

// IsValid checks if the type is one of the supported values.
func (t Type) IsValid() bool {
	return t == ClientInvoice || t == SupplierInvoice || t == Contract || t == ExpenseNote
}

// ParseType validates a declared type. Empty input returns "" without error.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if t == "" || t.IsValid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

// Format is the detected container format of a raw document.
type Format string

// Supported formats.
const (
	FormatPDF  Format = "pdf"
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
	FormatWEBP Format = "webp"
	FormatText Format = "text"
)

var formatMIME = map[Format]string{
	FormatPDF:  "application/pdf",
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
	FormatGIF:  "image/gif",
	FormatWEBP: "image/webp",
	FormatText: "text/plain",
}

var extFormat = map[string]Format{
	".pdf":  FormatPDF,
	".png":  FormatPNG,
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".gif":  FormatGIF,
	".webp": FormatWEBP,
	".txt":  FormatText,
	".text": FormatText,
}

// MIME returns the canonical mime type of the format.
func (f Format) MIME() string { return formatMIME[f] }

// IsImage reports whether the format can only be read by the vision model.
func (f Format) IsImage() bool {
	return f == FormatPNG || f == FormatJPEG || f == FormatGIF || f == FormatWEBP
}

// DetectFormat sniffs the content first and falls back to the filename extension.
func DetectFormat(filename string, data []byte) (Format, error) {
	sniffed := http.DetectContentType(data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	for f, mime := range formatMIME {
		if mime == sniffed {
			return f, nil
		}
	}
	f, ok := extFormat[strings.ToLower(filepath.Ext(filename))]
	switch {
	case !ok:
		return "", fmt.Errorf("%w: %s (%s)", domain.ErrUnsupportedFormat, filename, sniffed)
	case f != FormatText:
		// declared binary format the sniffer did not recognize
		return "", fmt.Errorf("%w: %s content does not look like %s", domain.ErrUnsupportedFormat, filename, f)
	}
	return f, nil
}

// Raw is an immutable, request-scoped input document.
type Raw struct {
	data     []byte
	filename string
	format   Format
}

// NewRaw validates size and format. The byte slice is retained, not copied.
func NewRaw(data []byte, filename string) (Raw, error) {
	if len(data) == 0 {
		return Raw{}, domain.ErrEmptyDocument
	}
	if len(data) > MaxFileSize {
		return Raw{}, fmt.Errorf("%w: %d bytes (max %d)", domain.ErrFileTooLarge, len(data), MaxFileSize)
	}
	f, err := DetectFormat(filename, data)
	if err != nil {
		return Raw{}, err
	}
	return Raw{data: data, filename: filename, format: f}, nil
}

// Bytes returns the raw content.
func (r Raw) Bytes() []byte { return r.data }

// Filename returns the client-supplied file name.
func (r Raw) Filename() string { return r.filename }

// Format returns the detected format.
func (r Raw) Format() Format { return r.format }

// MIMEType returns the mime type of the detected format.
func (r Raw) MIMEType() string { return r.format.MIME() }

// Size returns the content length in bytes.
func (r Raw) Size() int { return len(r.data) }
