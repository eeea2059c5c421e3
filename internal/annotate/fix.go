package annotate

import (
	"errors"

	"redline/api/internal/issue"
)

// ErrNoCorrection is returned when neither the issue nor the caller
// supplies replacement text. The issue must stay unfixed.
var ErrNoCorrection = errors.New("no correction text available")

// ErrNotLocated is returned when the issue has neither a marker nor a raw
// occurrence of its original text left in the content. Nothing was
// rewritten, so the issue must stay unfixed.
var ErrNotLocated = errors.New("issue text not found in content")

// Method records how a fix reached the content.
type Method string

const (
	// MethodMarker replaced the issue's marker and the text it wrapped.
	MethodMarker Method = "marker"
	// MethodLiteral replaced the first raw occurrence of the original text.
	MethodLiteral Method = "literal"
	// MethodNone found nothing to replace; the text had already drifted.
	// ApplyFix pairs it with ErrNoCorrection or ErrNotLocated.
	MethodNone Method = "none"
)

// Fix is the outcome of applying one correction.
type Fix struct {
	IssueID    string `json:"issueId"`
	Original   string `json:"original"`
	Correction string `json:"correction"`
	Method     Method `json:"method"`
	Content    string `json:"-"`
}

// Changed reports whether the content was rewritten.
func (f Fix) Changed() bool {
	return f.Method == MethodMarker || f.Method == MethodLiteral
}

// Correction resolves the replacement text: the issue's own corrected
// text first, then the caller's suggestion.
func Correction(is issue.Issue, suggested string) string {
	if is.CorrectedText != "" {
		return is.CorrectedText
	}
	return suggested
}

// ApplyFix replaces the issue's marker, or failing that the first raw
// occurrence of its original text, with the resolved correction. When
// neither is present the content is returned untouched with ErrNotLocated.
func ApplyFix(content string, is issue.Issue, suggested string) (Fix, error) {
	correction := Correction(is, suggested)
	fix := Fix{IssueID: is.ID, Original: is.OriginalText, Correction: correction, Method: MethodNone, Content: content}
	if correction == "" {
		return fix, ErrNoCorrection
	}

	if start, end, ok := findMarker(content, is.ID); ok {
		fix.Content = content[:start] + correction + content[end:]
		fix.Method = MethodMarker
		return fix, nil
	}

	if is.OriginalText != "" {
		if start, ok := indexText(content, is.OriginalText, tagSpans(content), nil); ok {
			fix.Content = content[:start] + correction + content[start+len(is.OriginalText):]
			fix.Method = MethodLiteral
			return fix, nil
		}
	}
	return fix, ErrNotLocated
}

// ApplyAll applies every unfixed issue that carries its own corrected
// text, in insertion order. Issues without corrected text, or whose text
// can no longer be found, are skipped and get no Fix entry.
func ApplyAll(content string, issues []issue.Issue) (string, []Fix) {
	fixes := make([]Fix, 0, len(issues))
	for _, is := range issues {
		if is.IsFixed || !is.HasCorrection() {
			continue
		}
		fix, err := ApplyFix(content, is, "")
		if err != nil {
			continue
		}
		content = fix.Content
		fixes = append(fixes, fix)
	}
	return content, fixes
}

// Replay re-applies previously applied corrections to raw text using
// literal replacement, in the order they were applied.
func Replay(content string, fixes []Fix) string {
	for _, fix := range fixes {
		if fix.Original == "" || fix.Correction == "" {
			continue
		}
		if start, ok := indexText(content, fix.Original, tagSpans(content), nil); ok {
			content = content[:start] + fix.Correction + content[start+len(fix.Original):]
		}
	}
	return content
}
