package annotate

import (
	"sort"

	"redline/api/internal/issue"
)

// Renderer wraps located issue text in markers.
type Renderer struct {
	Locator Locator
}

// Render annotates content using the FirstMatch strategy.
func Render(content string, issues []issue.Issue) string {
	return Renderer{}.Render(content, issues)
}

// Render wraps the anchored text of every unfixed issue in a marker. Longer
// original texts are processed first so a phrase is wrapped before any
// shorter phrase it contains. Issues that are fixed, unlocatable or already
// marked are skipped, which makes repeated renders idempotent.
func (r Renderer) Render(content string, issues []issue.Issue) string {
	locator := r.Locator
	if locator == nil {
		locator = FirstMatch{}
	}

	pending := make([]issue.Issue, 0, len(issues))
	for _, is := range issues {
		if is.IsFixed || is.OriginalText == "" || is.ID == "" {
			continue
		}
		pending = append(pending, is)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return len(pending[i].OriginalText) > len(pending[j].OriginalText)
	})

	for _, is := range pending {
		loc := locator.Locate(content, is)
		if !loc.Found || loc.AlreadyAnnotated {
			continue
		}
		content = content[:loc.Start] +
			openMarker(is.ID, is.Description) +
			content[loc.Start:loc.End] +
			markerClose +
			content[loc.End:]
	}
	return content
}
