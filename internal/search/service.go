package search

import (
	"context"
	"log"
)

type issueIndex interface {
	Searcher
	Indexer
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]IssueRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	index    issueIndex
	fallback Searcher
	loader   recordLoader
	async    func(func())
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{async: func(fn func()) { go fn() }}
	if meili != nil {
		s.index = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexIssues indexes the issues of one analysis (fire-and-forget). Fixed
// state changes are reindexed the same way since records are upserts.
func (s *Service) IndexIssues(records []IssueRecord) {
	if !s.indexReady() || len(records) == 0 {
		return
	}
	s.async(func() {
		if err := s.index.IndexIssues(records); err != nil {
			log.Printf("search: index %d issues: %v", len(records), err)
		}
	})
}

// DeleteReview removes a review's issues from the index (fire-and-forget).
func (s *Service) DeleteReview(reviewID string) {
	if !s.indexReady() {
		return
	}
	s.async(func() {
		if err := s.index.DeleteReview(reviewID); err != nil {
			log.Printf("search: delete review %s: %v", reviewID, err)
		}
	})
}

// ReindexAllFromPG pushes every live issue from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.index.IndexIssues(records); err != nil {
		log.Printf("search: reindex issues: %v", err)
		return
	}
	log.Printf("search: reindexed %d issues", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
