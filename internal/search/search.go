package search

// Result is a single issue hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	IssueID    string `json:"issueId"`
	AnalysisID string `json:"analysisId"`
	ReviewID   string `json:"reviewId"`
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	IsFixed    bool   `json:"isFixed"`
}

// Query describes a search request. UserID scopes results to one user's
// reviews and is always set by the API layer.
type Query struct {
	Text     string
	Severity string
	Type     string
	ReviewID string
	UserID   string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push issues into a search index.
type Indexer interface {
	IndexIssues(records []IssueRecord) error
	DeleteReview(reviewID string) error
}

// IssueRecord is the data we index for an issue. ID is unique across
// analyses: <analysisId>_<issueId>.
type IssueRecord struct {
	ID           string `json:"id"`
	IssueID      string `json:"issueId"`
	AnalysisID   string `json:"analysisId"`
	ReviewID     string `json:"reviewId"`
	UserID       string `json:"userId"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
	OriginalText string `json:"originalText"`
	Suggestion   string `json:"suggestion"`
	IsFixed      bool   `json:"isFixed"`
}

// RecordID builds the index primary key for one issue of one analysis.
// Meilisearch ids only allow alphanumerics, '-' and '_'.
func RecordID(analysisID, issueID string) string {
	return sanitizeID(analysisID) + "_" + sanitizeID(issueID)
}

func sanitizeID(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '-'
		}
	}
	return string(out)
}
