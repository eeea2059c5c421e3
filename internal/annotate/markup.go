// Package annotate anchors issues onto document text, renders them as inline
// markers and applies corrections back into the content. Every function is a
// pure transformation over strings; callers own the content and issue state.
package annotate

import (
	"html"
	"sort"
	"strings"

	nethtml "golang.org/x/net/html"
)

const (
	markerClass = "redline-issue"
	markerClose = "</mark>"
	idAttr      = "data-issue-id"
)

// span is one tag in the content. For <mark> elements the tag is also
// classified so marker lookups need not reparse it.
type span struct {
	start   int
	end     int
	mark    bool
	closing bool
	issueID string
	issue   bool
}

// tagSpans returns the byte ranges of every tag in content, in order. A tag
// starts with '<' followed by a letter, '/', '!' or '?' and ends at the first
// '>' outside a quoted attribute value. A '<' that never closes, or that is
// interrupted by another '<' before its '>', is prose and is skipped.
func tagSpans(content string) []span {
	var spans []span
	for i := 0; i < len(content); i++ {
		if content[i] != '<' || i+1 >= len(content) || !isTagStart(content[i+1]) {
			continue
		}
		end := tagEnd(content, i+1)
		if end < 0 {
			continue
		}
		spans = append(spans, classify(content[i:end], i, end))
		i = end - 1
	}
	return spans
}

func isTagStart(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '/' || b == '!' || b == '?'
}

// tagEnd returns the offset just past the '>' closing the tag that begins
// before from, or -1. Quotes only open after '=' so apostrophes in prose
// such as "x <y isn't" do not swallow the rest of the document.
func tagEnd(content string, from int) int {
	var quote, prev byte
	for j := from; j < len(content); j++ {
		c := content[j]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case (c == '"' || c == '\'') && prev == '=':
			quote = c
		case c == '<':
			return -1
		case c == '>':
			return j + 1
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			prev = c
		}
	}
	return -1
}

// classify tokenizes one tag to learn whether it opens or closes a <mark>
// and, for issue markers, which issue it belongs to.
func classify(raw string, start, end int) span {
	s := span{start: start, end: end}
	z := nethtml.NewTokenizer(strings.NewReader(raw))
	switch z.Next() {
	case nethtml.StartTagToken:
		name, more := z.TagName()
		if string(name) != "mark" {
			return s
		}
		s.mark = true
		for more {
			var key, val []byte
			key, val, more = z.TagAttr()
			if string(key) == idAttr {
				s.issueID = string(val)
				s.issue = true
			}
		}
	case nethtml.EndTagToken:
		name, _ := z.TagName()
		s.mark = string(name) == "mark"
		s.closing = s.mark
	}
	return s
}

// insideTag reports whether pos falls strictly between a tag's '<' and its
// closing '>'.
func insideTag(spans []span, pos int) bool {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].end > pos })
	return i < len(spans) && spans[i].start < pos
}

func openMarker(id, description string) string {
	return `<mark class="` + markerClass + `" ` + idAttr + `="` + html.EscapeString(id) + `"` +
		` title="` + html.EscapeString(description) + `">`
}

func (s span) opensMark() bool  { return s.mark && !s.closing }
func (s span) closesMark() bool { return s.mark && s.closing }

// findMarker locates the marker for id, returning the range that covers
// the opening tag, the wrapped text and the balancing closing tag. Markers
// nested inside the target are included in the range.
func findMarker(content, id string) (int, int, bool) {
	spans := tagSpans(content)
	for i, s := range spans {
		if !s.issue || s.issueID != id || s.closing {
			continue
		}
		depth := 1
		for _, next := range spans[i+1:] {
			switch {
			case next.opensMark():
				depth++
			case next.closesMark():
				depth--
			}
			if depth == 0 {
				return s.start, next.end, true
			}
		}
		return 0, 0, false
	}
	return 0, 0, false
}

// HasMarker reports whether content already carries a marker for id.
func HasMarker(content, id string) bool {
	if id == "" || !strings.Contains(content, idAttr) {
		return false
	}
	for _, s := range tagSpans(content) {
		if s.issue && s.issueID == id {
			return true
		}
	}
	return false
}

// MarkerIDs lists the issue ids of every marker in content, in document order.
func MarkerIDs(content string) []string {
	var ids []string
	for _, s := range tagSpans(content) {
		if s.issue {
			ids = append(ids, s.issueID)
		}
	}
	return ids
}

// Strip removes every issue marker from content while keeping the wrapped
// text. Other <mark> elements are left alone.
func Strip(content string) string {
	spans := tagSpans(content)
	if len(spans) == 0 {
		return content
	}
	var out strings.Builder
	out.Grow(len(content))
	var stack []bool
	last := 0
	for _, s := range spans {
		drop := false
		switch {
		case s.opensMark():
			stack = append(stack, s.issue)
			drop = s.issue
		case s.closesMark() && len(stack) > 0:
			drop = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
		if drop {
			out.WriteString(content[last:s.start])
			last = s.end
		}
	}
	out.WriteString(content[last:])
	return out.String()
}
