// Package issue holds the issue and analysis model returned by the analysis
// service, together with the pure classification helpers used for filtering
// and metrics.
package issue

import (
	"strings"
	"time"

	"redline/api/internal/util"
)

// Type is the detected problem category.
type Type string

const (
	TypeLayout        Type = "Layout"
	TypeMargin        Type = "Margin"
	TypeSpacing       Type = "Spacing"
	TypeAlignment     Type = "Alignment"
	TypeIndentation   Type = "Indentation"
	TypeTypography    Type = "Typography"
	TypeGrammar       Type = "Grammar"
	TypeSpelling      Type = "Spelling"
	TypeStructure     Type = "Structure"
	TypeAccessibility Type = "Accessibility"
)

// Severity ranks how important an issue is to fix.
type Severity string

const (
	SeverityCritical    Severity = "Critical"
	SeverityRecommended Severity = "Recommended"
	SeverityCosmetic    Severity = "Cosmetic"
)

// Position is a page-relative bounding box for non-text layout issues.
// All coordinates are percentages of the page.
type Position struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Page   int     `json:"page"`
}

// Issue is one detected problem in a document.
type Issue struct {
	ID                string    `json:"id"`
	Type              Type      `json:"type"`
	Severity          Severity  `json:"severity"`
	Description       string    `json:"description"`
	Suggestion        string    `json:"suggestion"`
	Location          string    `json:"location,omitempty"`
	OriginalText      string    `json:"originalText,omitempty"`
	CorrectedText     string    `json:"correctedText,omitempty"`
	Position          *Position `json:"position,omitempty"`
	IsFixed           bool      `json:"isFixed"`
	CustomFormatIssue bool      `json:"customFormatIssue"`
}

// HasCorrection reports whether the issue carries its own replacement text.
func (i Issue) HasCorrection() bool {
	return i.CorrectedText != ""
}

// Metadata is the free-form analysis metadata block.
type Metadata struct {
	Entity          string `json:"entity,omitempty"`
	Date            string `json:"date,omitempty"`
	Type            string `json:"type,omitempty"`
	IsLargeDocument bool   `json:"isLargeDocument,omitempty"`
}

// DocumentAnalysis is one server-side analysis result bound to one uploaded file.
type DocumentAnalysis struct {
	AnalysisID         string    `json:"analysisId"`
	FileName           string    `json:"fileName"`
	FileType           string    `json:"fileType"`
	UploadDate         time.Time `json:"uploadDate"`
	TotalScore         int       `json:"totalScore"`
	Summary            string    `json:"summary"`
	Issues             []Issue   `json:"issues"`
	ProcessedContent   string    `json:"processedContent"`
	CorrectedContent   string    `json:"correctedContent,omitempty"`
	CorrectedPDFBase64 string    `json:"correctedPdfBase64,omitempty"`
	FormatType         string    `json:"formatType,omitempty"`
	Metadata           Metadata  `json:"metadata"`
}

// IsPDF reports whether the source file was a PDF.
func (a DocumentAnalysis) IsPDF() bool {
	return strings.EqualFold(a.FileType, "pdf") ||
		strings.EqualFold(a.FileType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(a.FileName), ".pdf")
}

// WireIssue is the issue shape as the analysis service sends it. Flags are
// pointers so an omitted value can be told apart from an explicit false.
type WireIssue struct {
	ID                string    `json:"id"`
	Type              Type      `json:"type"`
	Severity          Severity  `json:"severity"`
	Description       string    `json:"description"`
	Suggestion        string    `json:"suggestion"`
	Location          string    `json:"location,omitempty"`
	OriginalText      string    `json:"originalText,omitempty"`
	CorrectedText     string    `json:"correctedText,omitempty"`
	Position          *Position `json:"position,omitempty"`
	IsFixed           *bool     `json:"isFixed,omitempty"`
	CustomFormatIssue *bool     `json:"customFormatIssue,omitempty"`
}

// Normalize converts wire issues into working issues. Missing ids are
// generated and unset flags default to false.
func Normalize(items []WireIssue) []Issue {
	out := make([]Issue, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ID)
		if _, dup := seen[id]; id == "" || dup {
			id = util.NewID("iss")
		}
		seen[id] = struct{}{}
		out = append(out, Issue{
			ID:                id,
			Type:              item.Type,
			Severity:          item.Severity,
			Description:       item.Description,
			Suggestion:        item.Suggestion,
			Location:          item.Location,
			OriginalText:      item.OriginalText,
			CorrectedText:     item.CorrectedText,
			Position:          item.Position,
			IsFixed:           item.IsFixed != nil && *item.IsFixed,
			CustomFormatIssue: item.CustomFormatIssue != nil && *item.CustomFormatIssue,
		})
	}
	return out
}

// Clone returns a deep copy of the slice so callers can hand it out
// without sharing backing storage.
func Clone(items []Issue) []Issue {
	if items == nil {
		return nil
	}
	out := make([]Issue, len(items))
	for i, item := range items {
		if item.Position != nil {
			pos := *item.Position
			item.Position = &pos
		}
		out[i] = item
	}
	return out
}

// Find returns the index of the issue with the given id, or -1.
func Find(items []Issue, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
