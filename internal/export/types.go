// Package export produces downloadable copies of a review's corrected
// content locally, for the cases the analysis service cannot export.
package export

import (
	"errors"
	"strings"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatText Format = "txt"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts a format name or file extension, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "html", "htm":
		return FormatHTML, nil
	case "txt", "text":
		return FormatText, nil
	case "pdf":
		return FormatPDF, nil
	case "docx":
		return FormatDOCX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation. Content must be
// marker-free; it may be plain text or an HTML fragment.
type Request struct {
	Format   Format
	Title    string
	FileName string
	Content  string
	Summary  string
	Score    int
	Fixed    int
	Open     int
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
