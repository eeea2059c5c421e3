package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxIssues = "redline_issues"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the issue index.
// An unreachable server is not fatal; the health loop picks it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxIssues,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxIssues, err)
	}

	index := m.client.Index(idxIssues)
	filterable := []interface{}{"analysisId", "reviewId", "userId", "severity", "type", "isFixed"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxIssues, err)
	}
	searchable := []string{"description", "originalText", "suggestion"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxIssues, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	req := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"description", "originalText", "suggestion"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		req.Filter = filters
	}

	resp, err := m.client.Index(idxIssues).Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func meiliFilters(q Query) []string {
	var filters []string
	if q.UserID != "" {
		filters = append(filters, fmt.Sprintf("userId = %q", q.UserID))
	}
	if q.ReviewID != "" {
		filters = append(filters, fmt.Sprintf("reviewId = %q", q.ReviewID))
	}
	if q.Severity != "" {
		filters = append(filters, fmt.Sprintf("severity = %q", q.Severity))
	}
	if q.Type != "" {
		filters = append(filters, fmt.Sprintf("type = %q", q.Type))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:         decodeString(hit, "id"),
		IssueID:    decodeString(hit, "issueId"),
		AnalysisID: decodeString(hit, "analysisId"),
		ReviewID:   decodeString(hit, "reviewId"),
		Type:       decodeString(hit, "type"),
		Severity:   decodeString(hit, "severity"),
		IsFixed:    decodeBool(hit, "isFixed"),
	}
	r.Title = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	r.Snippet = firstNonBlank(
		decodeFormattedString(hit, "originalText"),
		decodeString(hit, "originalText"),
		decodeFormattedString(hit, "suggestion"),
		decodeString(hit, "suggestion"),
	)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexIssues adds or replaces issue records.
func (m *Meili) IndexIssues(records []IssueRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxIssues).AddDocuments(records, nil)
	return err
}

// DeleteReview removes every issue of a review from the index.
func (m *Meili) DeleteReview(reviewID string) error {
	_, err := m.client.Index(idxIssues).DeleteDocumentsByFilter(fmt.Sprintf("reviewId = %q", reviewID), nil)
	return err
}
