package issue

import "testing"

func TestParseRequirements(t *testing.T) {
	text := "Font: Times New Roman 12pt\n" +
		"Top Margin: 1 inch\n" +
		"  - Line spacing: double\n" +
		"Citation style: APA\n" +
		"this line has no separator\n" +
		"Empty value:   \n" +
		": missing key\n"

	req := ParseRequirements(text)
	if req.Font != "Times New Roman 12pt" {
		t.Fatalf("font = %q", req.Font)
	}
	if req.Margin != "1 inch" {
		t.Fatalf("margin = %q", req.Margin)
	}
	if req.Spacing != "double" {
		t.Fatalf("spacing = %q", req.Spacing)
	}
	if req.Other["citation style"] != "APA" {
		t.Fatalf("expected citation style in Other, got %+v", req.Other)
	}
	if len(req.Other) != 1 {
		t.Fatalf("expected malformed lines to be ignored, got %+v", req.Other)
	}
}

func TestParseRequirementsMalformedDegradesToNone(t *testing.T) {
	for _, text := range []string{"", "\n\n", "::::", "font", "<<>>: x"} {
		req := ParseRequirements(text)
		if req.HasFont() || req.HasMargin() || req.HasSpacing() {
			t.Fatalf("ParseRequirements(%q) declared a requirement: %+v", text, req)
		}
	}
}

func TestClassify(t *testing.T) {
	withFont := Requirements{Font: "Arial"}
	withMargin := Requirements{Margin: "1in"}
	withSpacing := Requirements{Spacing: "1.5"}

	tests := []struct {
		name     string
		issue    Issue
		req      Requirements
		topology bool
		custom   bool
	}{
		{"layout is topology", Issue{Type: TypeLayout}, Requirements{}, true, false},
		{"indentation is topology", Issue{Type: TypeIndentation}, Requirements{}, true, false},
		{"grammar is not topology", Issue{Type: TypeGrammar}, Requirements{}, false, false},
		{"flagged custom issue", Issue{Type: TypeGrammar, CustomFormatIssue: true}, Requirements{}, false, true},
		{"typography with font requirement", Issue{Type: TypeTypography}, withFont, false, true},
		{"typography without font requirement", Issue{Type: TypeTypography}, withMargin, false, false},
		{"margin with margin requirement", Issue{Type: TypeMargin}, withMargin, true, true},
		{"margin without margin requirement", Issue{Type: TypeMargin}, withFont, true, false},
		{"spacing with spacing requirement", Issue{Type: TypeSpacing}, withSpacing, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.issue, tt.req)
			if got.Topology != tt.topology || got.CustomFormatRelevant != tt.custom {
				t.Fatalf("Classify() = %+v, want topology=%v custom=%v", got, tt.topology, tt.custom)
			}
		})
	}
}

func TestSelectAndTally(t *testing.T) {
	items := []Issue{
		{ID: "a", Type: TypeGrammar, Severity: SeverityCritical},
		{ID: "b", Type: TypeSpelling, Severity: SeverityCosmetic, IsFixed: true},
		{ID: "c", Type: TypeSpacing, Severity: SeverityRecommended},
		{ID: "d", Type: TypeTypography, Severity: SeverityRecommended},
		{ID: "e", Type: TypeAccessibility, Severity: SeverityCritical, CustomFormatIssue: true},
	}
	req := Requirements{Font: "Arial"}

	grammar := Select(items, FilterGrammar, req)
	if len(grammar) != 2 || grammar[0].ID != "a" || grammar[1].ID != "b" {
		t.Fatalf("unexpected grammar selection: %+v", grammar)
	}
	if got := len(Select(items, FilterAll, req)); got != len(items) {
		t.Fatalf("ALL selected %d issues", got)
	}

	counts := Tally(items, req)
	want := map[Filter]int{
		FilterAll:          5,
		FilterCritical:     2,
		FilterTopology:     1,
		FilterSpacing:      1,
		FilterTypography:   1,
		FilterGrammar:      2,
		FilterCustomFormat: 2,
	}
	for filter, n := range want {
		if counts.ByFilter[filter] != n {
			t.Errorf("%s = %d, want %d", filter, counts.ByFilter[filter], n)
		}
	}
	if counts.Fixed != 1 || counts.Open != 4 {
		t.Fatalf("fixed/open = %d/%d", counts.Fixed, counts.Open)
	}
}

func TestParseFilter(t *testing.T) {
	tests := map[string]Filter{
		"critical":      FilterCritical,
		" Topology ":    FilterTopology,
		"custom-format": FilterCustomFormat,
		"CUSTOM_FORMAT": FilterCustomFormat,
		"":              FilterAll,
		"bogus":         FilterAll,
	}
	for input, want := range tests {
		if got := ParseFilter(input); got != want {
			t.Errorf("ParseFilter(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	yes := true
	no := false
	items := Normalize([]WireIssue{
		{ID: "x1", Type: TypeGrammar, OriginalText: "teh", CorrectedText: "the"},
		{ID: "x2", Type: TypeMargin, IsFixed: &yes, CustomFormatIssue: &yes},
		{ID: "x3", IsFixed: &no},
		{ID: "", Description: "no id"},
		{ID: "x1", Description: "duplicate id"},
	})

	if len(items) != 5 {
		t.Fatalf("expected 5 issues, got %d", len(items))
	}
	if items[0].IsFixed || items[0].CustomFormatIssue {
		t.Fatalf("expected defaults to be false: %+v", items[0])
	}
	if !items[1].IsFixed || !items[1].CustomFormatIssue {
		t.Fatalf("expected explicit server flags to be kept: %+v", items[1])
	}
	if items[2].IsFixed {
		t.Fatal("explicit false should stay false")
	}
	if items[3].ID == "" {
		t.Fatal("expected generated id for issue without id")
	}
	if items[4].ID == "x1" {
		t.Fatal("expected duplicate id to be replaced")
	}
}

func TestCloneDoesNotShareStorage(t *testing.T) {
	original := []Issue{{ID: "a", Position: &Position{Top: 10, Page: 1}}}
	copied := Clone(original)
	copied[0].IsFixed = true
	copied[0].Position.Top = 50

	if original[0].IsFixed || original[0].Position.Top != 10 {
		t.Fatalf("clone shares storage with original: %+v", original[0])
	}
	if Find(copied, "a") != 0 || Find(copied, "missing") != -1 {
		t.Fatal("Find returned wrong index")
	}
}
