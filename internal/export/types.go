// Package export renders a document's comments for consumers outside the
// annotation engine: CSV, Annotator JSON, and a printable PDF or DOCX report.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name case-sensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON, FormatPDF, FormatDOCX:
		return f, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	DocumentID string
	Format     Format
	// IncludeHidden keeps hidden comments and replies in every format.
	IncludeHidden bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ReportComment is one top-level comment as listed in the printable report.
type ReportComment struct {
	Author    string
	Quote     string
	Text      string
	Kind      string
	State     string
	Likes     int
	Flags     int
	CreatedAt time.Time
	Replies   []ReportReply
}

type ReportReply struct {
	Author    string
	Text      string
	CreatedAt time.Time
}

var (
	// ErrUnsupportedFormat is returned for an unknown export format.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
