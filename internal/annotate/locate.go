package annotate

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"redline/api/internal/issue"
)

// Span is where an issue's original text sits in the content.
type Span struct {
	Found            bool
	AlreadyAnnotated bool
	Start            int
	End              int
}

// Locator decides where an issue anchors in content.
type Locator interface {
	Locate(content string, is issue.Issue) Span
}

// FirstMatch anchors an issue at the first literal occurrence of its
// original text. Occurrences that begin or end inside tag markup are
// skipped. There is no context disambiguation: when one issue's text is a
// substring of another's, processing order decides.
type FirstMatch struct{}

func (FirstMatch) Locate(content string, is issue.Issue) Span {
	return locate(content, is, nil)
}

// WholeWord is a stricter FirstMatch: the occurrence must not continue a
// word on either side, so "good" does not anchor inside "goodness".
type WholeWord struct{}

func (WholeWord) Locate(content string, is issue.Issue) Span {
	return locate(content, is, onWordBoundary)
}

// Locate runs the default FirstMatch strategy.
func Locate(content string, is issue.Issue) Span {
	return FirstMatch{}.Locate(content, is)
}

func locate(content string, is issue.Issue, accept func(content, needle string, start, end int) bool) Span {
	result := Span{AlreadyAnnotated: HasMarker(content, is.ID)}
	if is.OriginalText == "" {
		return result
	}
	start, ok := indexText(content, is.OriginalText, tagSpans(content), accept)
	if !ok {
		return result
	}
	result.Found = true
	result.Start = start
	result.End = start + len(is.OriginalText)
	return result
}

func indexText(content, needle string, spans []span, accept func(content, needle string, start, end int) bool) (int, bool) {
	from := 0
	for from <= len(content)-len(needle) {
		idx := strings.Index(content[from:], needle)
		if idx < 0 {
			return 0, false
		}
		start := from + idx
		end := start + len(needle)
		if !insideTag(spans, start) && !insideTag(spans, end) &&
			(accept == nil || accept(content, needle, start, end)) {
			return start, true
		}
		_, size := utf8.DecodeRuneInString(content[start:])
		from = start + size
	}
	return 0, false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func onWordBoundary(content, needle string, start, end int) bool {
	first, _ := utf8.DecodeRuneInString(needle)
	if isWordRune(first) && start > 0 {
		before, _ := utf8.DecodeLastRuneInString(content[:start])
		if isWordRune(before) {
			return false
		}
	}
	last, _ := utf8.DecodeLastRuneInString(needle)
	if isWordRune(last) && end < len(content) {
		after, _ := utf8.DecodeRuneInString(content[end:])
		if isWordRune(after) {
			return false
		}
	}
	return true
}
