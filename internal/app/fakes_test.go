package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"redline/api/internal/auth"
	"redline/api/internal/blob"
	"redline/api/internal/config"
	"redline/api/internal/export"
	"redline/api/internal/gitrepo"
	"redline/api/internal/issue"
	"redline/api/internal/review"
	"redline/api/internal/search"
	"redline/api/internal/session"
	"redline/api/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	mu        sync.Mutex
	reviews   map[string]store.Review
	analyses  []store.Analysis
	issues    map[string][]store.Issue
	fixEvents []store.FixEvent

	upsertFn func(context.Context, store.Review) error
	pingFn   func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{reviews: map[string]store.Review{}, issues: map[string][]store.Issue{}}
}

func (f *fakeStore) UpsertReview(ctx context.Context, rec store.Review) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, rec)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews[rec.ID] = rec
	return nil
}

func (f *fakeStore) GetReview(_ context.Context, id string) (store.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.reviews[id]
	if !ok {
		return store.Review{}, sql.ErrNoRows
	}
	return rec, nil
}

func (f *fakeStore) ListReviews(_ context.Context, userID string, _ int) ([]store.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Review
	for _, rec := range f.reviews {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteReview(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.reviews, id)
	return nil
}

func (f *fakeStore) RecordAnalysis(_ context.Context, a store.Analysis, items []store.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses = append(f.analyses, a)
	f.issues[a.ID] = items
	return nil
}

func (f *fakeStore) RecordFixes(_ context.Context, events []store.FixEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, event := range events {
		event.ID = int64(len(f.fixEvents) + 1)
		f.fixEvents = append(f.fixEvents, event)
	}
	return nil
}

func (f *fakeStore) ListFixEvents(_ context.Context, reviewID string, _ int) ([]store.FixEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.FixEvent
	for _, event := range f.fixEvents {
		if event.ReviewID == reviewID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeGit struct {
	mu       sync.Mutex
	commits  map[string][]store.CommitInfo
	contents map[string]gitrepo.Content
	removed  []string
}

func newFakeGit() *fakeGit {
	return &fakeGit{commits: map[string][]store.CommitInfo{}, contents: map[string]gitrepo.Content{}}
}

func (f *fakeGit) Commit(reviewID string, content gitrepo.Content, author, message string) (store.CommitInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := store.CommitInfo{
		Hash:      reviewID + "-" + string(rune('a'+len(f.commits[reviewID]))),
		Message:   message,
		Author:    author,
		CreatedAt: time.Now(),
	}
	f.commits[reviewID] = append([]store.CommitInfo{info}, f.commits[reviewID]...)
	f.contents[info.Hash] = content
	return info, true, nil
}

func (f *fakeGit) History(reviewID string, _ int) ([]store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.commits[reviewID]
	if !ok {
		return nil, gitrepo.ErrNoRepo
	}
	return items, nil
}

func (f *fakeGit) GetContentByHash(_ string, hash string) (gitrepo.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.contents[hash]
	if !ok {
		return gitrepo.Content{}, errors.New("object not found")
	}
	return content, nil
}

func (f *fakeGit) Remove(reviewID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.commits, reviewID)
	f.removed = append(f.removed, reviewID)
	return nil
}

func (f *fakeGit) messages(reviewID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, info := range f.commits[reviewID] {
		out = append(out, info.Message)
	}
	return out
}

type fakeSessions struct {
	mu      sync.Mutex
	records map[string]session.Record
	saves   int
	pingFn  func(context.Context) error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{records: map[string]session.Record{}}
}

func (f *fakeSessions) Save(_ context.Context, rec session.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ReviewID] = rec
	f.saves++
	return nil
}

func (f *fakeSessions) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeSessions) record(id string) session.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

func (f *fakeSessions) Load(_ context.Context, id string) (session.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return session.Record{}, session.ErrNotFound
	}
	return rec, nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *fakeSessions) IDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeSessions) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	putFn   func(key string) error
	pingFn  func(context.Context) error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, key, _ string, data []byte) error {
	if f.putFn != nil {
		if err := f.putFn(key); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (f *fakeBlobs) Remove(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.objects, key)
	}
	return nil
}

func (f *fakeBlobs) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeBlobs) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

type fakeSearch struct {
	mu        sync.Mutex
	indexed   []search.IssueRecord
	deleted   []string
	lastQuery search.Query
	reindexed int
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	var results []search.Result
	for _, rec := range f.indexed {
		if rec.UserID == q.UserID && strings.Contains(strings.ToLower(rec.Description), strings.ToLower(q.Text)) {
			results = append(results, search.Result{ID: rec.ID, IssueID: rec.IssueID, ReviewID: rec.ReviewID, Title: rec.Description})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexIssues(records []search.IssueRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
}

func (f *fakeSearch) DeleteReview(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeSearch) ReindexAllFromPG(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexed++
}

type fakeExporter struct {
	exportFn func(context.Context, export.Request) (*export.Result, error)
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if f.exportFn != nil {
		return f.exportFn(ctx, req)
	}
	return &export.Result{
		Data:     []byte("local:" + req.Content),
		Filename: "document." + string(req.Format),
		MimeType: "text/plain; charset=utf-8",
	}, nil
}

type fakeAnalyzer struct {
	analyzeFn func(context.Context, review.AnalyzeRequest) (*issue.DocumentAnalysis, error)
	chatFn    func(context.Context, review.ChatRequest) (review.ChatReply, error)
	exportFn  func(context.Context, string, []string) (review.Artifact, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req review.AnalyzeRequest) (*issue.DocumentAnalysis, error) {
	if f.analyzeFn != nil {
		return f.analyzeFn(ctx, req)
	}
	return catAnalysis(), nil
}

func (f *fakeAnalyzer) Chat(ctx context.Context, req review.ChatRequest) (review.ChatReply, error) {
	if f.chatFn != nil {
		return f.chatFn(ctx, req)
	}
	return review.ChatReply{Message: "ok"}, nil
}

func (f *fakeAnalyzer) ExportCorrected(ctx context.Context, analysisID string, fixedIDs []string) (review.Artifact, error) {
	if f.exportFn != nil {
		return f.exportFn(ctx, analysisID, fixedIDs)
	}
	return review.Artifact{}, errors.New("export not configured")
}

func catAnalysis() *issue.DocumentAnalysis {
	return &issue.DocumentAnalysis{
		AnalysisID:       "an_1",
		FileName:         "essay.docx",
		FileType:         "docx",
		TotalScore:       80,
		Summary:          "One spelling mistake.",
		ProcessedContent: "The cat sat on teh mat.",
		Issues: []issue.Issue{
			{ID: "i1", Type: issue.TypeSpelling, Severity: issue.SeverityCritical, Description: "Spelling of the", OriginalText: "teh", CorrectedText: "the"},
			{ID: "i2", Type: issue.TypeGrammar, Severity: issue.SeverityRecommended, Description: "Weak verb", OriginalText: "sat"},
		},
	}
}

type testEnv struct {
	svc      *Service
	store    *fakeStore
	git      *fakeGit
	sessions *fakeSessions
	blobs    *fakeBlobs
	search   *fakeSearch
	exporter *fakeExporter
	analyzer *fakeAnalyzer
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newFakeStore(),
		git:      newFakeGit(),
		sessions: newFakeSessions(),
		blobs:    newFakeBlobs(),
		search:   &fakeSearch{},
		exporter: &fakeExporter{},
		analyzer: &fakeAnalyzer{},
	}
	env.svc = env.service()
	return env
}

// service builds a fresh Service over the env's collaborators, as after a
// process restart.
func (env *testEnv) service() *Service {
	return &Service{
		cfg:            config.Config{AuthSecret: testSecret, MaxUploadMB: 1},
		store:          env.store,
		git:            env.git,
		sessions:       env.sessions,
		blobs:          env.blobs,
		search:         env.search,
		exporter:       env.exporter,
		analyzer:       env.analyzer,
		verifier:       auth.NewVerifier(testSecret),
		persistTimeout: time.Second,
		reviews:        make(map[string]*entry),
	}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  userID,
		Name: "User " + userID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
