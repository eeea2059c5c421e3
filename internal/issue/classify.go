package issue

import (
	"regexp"
	"strings"
)

// Filter selects a display bucket of issues.
type Filter string

const (
	FilterAll          Filter = "ALL"
	FilterCritical     Filter = "CRITICAL"
	FilterTopology     Filter = "TOPOLOGY"
	FilterSpacing      Filter = "SPACING"
	FilterTypography   Filter = "TYPOGRAPHY"
	FilterGrammar      Filter = "GRAMMAR"
	FilterCustomFormat Filter = "CUSTOM_FORMAT"
)

// Filters lists every supported filter in display order.
var Filters = []Filter{
	FilterAll,
	FilterCritical,
	FilterTopology,
	FilterSpacing,
	FilterTypography,
	FilterGrammar,
	FilterCustomFormat,
}

var topologyTypes = map[Type]struct{}{
	TypeLayout:      {},
	TypeMargin:      {},
	TypeSpacing:     {},
	TypeAlignment:   {},
	TypeIndentation: {},
}

// ParseFilter maps user input onto a Filter. Unknown values select ALL.
func ParseFilter(value string) Filter {
	normalized := Filter(strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(value, "-", "_"))))
	for _, f := range Filters {
		if f == normalized {
			return f
		}
	}
	return FilterAll
}

// Requirements is the set of formatting requirements declared in a
// custom-format requirements block.
type Requirements struct {
	Font    string
	Margin  string
	Spacing string
	Other   map[string]string
}

func (r Requirements) HasFont() bool    { return r.Font != "" }
func (r Requirements) HasMargin() bool  { return r.Margin != "" }
func (r Requirements) HasSpacing() bool { return r.Spacing != "" }

var requirementLine = regexp.MustCompile(`^\s*[-*•]?\s*([A-Za-z][A-Za-z0-9 _\-]*?)\s*:\s*(.*?)\s*$`)

// ParseRequirements reads `key: value` lines. Lines that do not match the
// pattern, or have an empty value, are ignored.
func ParseRequirements(text string) Requirements {
	req := Requirements{Other: map[string]string{}}
	for _, line := range strings.Split(text, "\n") {
		match := requirementLine.FindStringSubmatch(line)
		if match == nil || match[2] == "" {
			continue
		}
		key := strings.ToLower(match[1])
		value := match[2]
		switch {
		case strings.HasPrefix(key, "font"):
			if req.Font == "" {
				req.Font = value
			}
		case strings.Contains(key, "margin"):
			if req.Margin == "" {
				req.Margin = value
			}
		case strings.Contains(key, "spacing"):
			if req.Spacing == "" {
				req.Spacing = value
			}
		default:
			req.Other[key] = value
		}
	}
	return req
}

// Classification is the set of overlapping buckets an issue belongs to.
type Classification struct {
	Topology             bool
	CustomFormatRelevant bool
}

// Classify buckets an issue against the declared requirements.
func Classify(is Issue, req Requirements) Classification {
	_, topology := topologyTypes[is.Type]
	custom := is.CustomFormatIssue ||
		(is.Type == TypeTypography && req.HasFont()) ||
		(is.Type == TypeMargin && req.HasMargin()) ||
		(is.Type == TypeSpacing && req.HasSpacing())
	return Classification{Topology: topology, CustomFormatRelevant: custom}
}

// Matches reports whether the issue belongs in the filter bucket.
func Matches(is Issue, filter Filter, req Requirements) bool {
	switch filter {
	case FilterCritical:
		return is.Severity == SeverityCritical
	case FilterTopology:
		return Classify(is, req).Topology
	case FilterSpacing:
		return is.Type == TypeSpacing
	case FilterTypography:
		return is.Type == TypeTypography
	case FilterGrammar:
		return is.Type == TypeGrammar || is.Type == TypeSpelling
	case FilterCustomFormat:
		return Classify(is, req).CustomFormatRelevant
	default:
		return true
	}
}

// Select returns the issues in the filter bucket, preserving order.
func Select(items []Issue, filter Filter, req Requirements) []Issue {
	out := make([]Issue, 0, len(items))
	for _, item := range items {
		if Matches(item, filter, req) {
			out = append(out, item)
		}
	}
	return out
}

// Counts is the per-bucket tally shown on the review dashboard.
type Counts struct {
	ByFilter map[Filter]int `json:"byFilter"`
	Fixed    int            `json:"fixed"`
	Open     int            `json:"open"`
}

// Tally counts issues per filter bucket plus fixed and open totals.
func Tally(items []Issue, req Requirements) Counts {
	counts := Counts{ByFilter: make(map[Filter]int, len(Filters))}
	for _, f := range Filters {
		counts.ByFilter[f] = 0
	}
	for _, item := range items {
		for _, f := range Filters {
			if Matches(item, f, req) {
				counts.ByFilter[f]++
			}
		}
		if item.IsFixed {
			counts.Fixed++
		} else {
			counts.Open++
		}
	}
	return counts
}
