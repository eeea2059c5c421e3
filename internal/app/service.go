package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"redline/api/internal/annotate"
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
	"redline/api/internal/util"
)

// Session is the authenticated caller of a request.
type Session struct {
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

type dataStore interface {
	UpsertReview(context.Context, store.Review) error
	GetReview(context.Context, string) (store.Review, error)
	ListReviews(context.Context, string, int) ([]store.Review, error)
	DeleteReview(context.Context, string) error
	RecordAnalysis(context.Context, store.Analysis, []store.Issue) error
	RecordFixes(context.Context, []store.FixEvent) error
	ListFixEvents(context.Context, string, int) ([]store.FixEvent, error)
	Ping(ctx context.Context) error
}

type gitService interface {
	Commit(string, gitrepo.Content, string, string) (store.CommitInfo, bool, error)
	History(string, int) ([]store.CommitInfo, error)
	GetContentByHash(string, string) (gitrepo.Content, error)
	Remove(string) error
}

type sessionStore interface {
	Save(context.Context, session.Record) error
	Load(context.Context, string) (session.Record, error)
	Delete(context.Context, string) error
	IDs(context.Context) ([]string, error)
	Ping(context.Context) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexIssues([]search.IssueRecord)
	DeleteReview(string)
	ReindexAllFromPG(context.Context)
}

type blobStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

type localExporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// entry is one live review session.
type entry struct {
	id       string
	userID   string
	userName string
	ctrl     *review.Controller
	buffer   *review.Buffer

	// saveMu serializes persistence so snapshots land in commit order.
	saveMu sync.Mutex

	mu          sync.Mutex
	analysisKey string
	sourceKey   string
	savedSeq    uint64
	pendingEdit *review.Change
	editTimer   *time.Timer
	deleted     bool
}

type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitService
	sessions sessionStore
	blobs    blobStore
	search   searchIndex
	exporter localExporter
	analyzer review.Analyzer
	verifier *auth.Verifier
	locator  annotate.Locator

	persistTimeout time.Duration
	editDebounce   time.Duration

	mu      sync.Mutex
	reviews map[string]*entry
}

// Deps are the collaborators of a Service. Sessions may be nil, in which
// case reviews live only in memory. Blobs may be nil, in which case
// uploaded documents stay inline in the session snapshot.
type Deps struct {
	Store    *store.PostgresStore
	Git      *gitrepo.Service
	Sessions *session.RedisStore
	Blobs    *blob.MinioStore
	Search   *search.Service
	Exporter *export.Service
	Analyzer review.Analyzer
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:            cfg,
		store:          deps.Store,
		git:            deps.Git,
		search:         deps.Search,
		exporter:       deps.Exporter,
		analyzer:       deps.Analyzer,
		verifier:       auth.NewVerifier(cfg.AuthSecret),
		persistTimeout: 10 * time.Second,
		editDebounce:   cfg.EditDebounce,
		reviews:        make(map[string]*entry),
	}
	if deps.Sessions != nil {
		s.sessions = deps.Sessions
	}
	if deps.Blobs != nil {
		s.blobs = deps.Blobs
	}
	if strings.EqualFold(strings.TrimSpace(cfg.MatchStrategy), "word") {
		s.locator = annotate.WholeWord{}
	}
	return s
}

// Bootstrap restores the review sessions persisted in Redis and rebuilds
// the search index from PostgreSQL.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.sessions != nil {
		ids, err := s.sessions.IDs(ctx)
		if err != nil {
			return fmt.Errorf("list persisted sessions: %w", err)
		}
		restored := 0
		for _, id := range ids {
			if _, err := s.restore(ctx, id); err != nil {
				log.Printf("review: restore session %s: %v", id, err)
				continue
			}
			restored++
		}
		log.Printf("review: restored %d of %d persisted sessions", restored, len(ids))
	}
	s.search.ReindexAllFromPG(ctx)
	return nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	principal, err := s.verifier.Verify(token)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: principal.UserID, UserName: principal.UserName, ExpiresAt: principal.ExpiresAt}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks Redis when it is configured.
func (s *Service) PingSessions(ctx context.Context) (configured bool, err error) {
	if s.sessions == nil {
		return false, nil
	}
	return true, s.sessions.Ping(ctx)
}

// PingBlobs checks object storage when it is configured.
func (s *Service) PingBlobs(ctx context.Context) (configured bool, err error) {
	if s.blobs == nil {
		return false, nil
	}
	return true, s.blobs.Ping(ctx)
}

func (s *Service) MaxUploadBytes() int64 {
	mb := s.cfg.MaxUploadMB
	if mb <= 0 {
		mb = 25
	}
	return int64(mb) << 20
}

func (s *Service) newEntry(id, userID, userName string) *entry {
	e := &entry{id: id, userID: userID, userName: userName, buffer: review.NewBuffer("")}
	opts := []review.Option{
		review.WithEditor(e.buffer),
		review.WithOnChange(func(change review.Change) { s.persist(e, change) }),
	}
	if s.locator != nil {
		opts = append(opts, review.WithLocator(s.locator))
	}
	e.ctrl = review.New(s.analyzer, opts...)
	return e
}

// CreateReview opens a session for an uploaded document and runs the
// initial analysis. A session whose first analysis fails is discarded.
func (s *Service) CreateReview(ctx context.Context, caller Session, req review.AnalyzeRequest) (string, review.View, error) {
	id := util.NewID("rev")
	req.UserID = caller.UserID
	e := s.newEntry(id, caller.UserID, caller.UserName)

	s.mu.Lock()
	s.reviews[id] = e
	s.mu.Unlock()

	if err := e.ctrl.Load(ctx, req); err != nil {
		s.mu.Lock()
		delete(s.reviews, id)
		s.mu.Unlock()
		return "", review.View{}, upstreamError(err)
	}
	s.storeTemplate(ctx, id, req.Template)
	log.Printf("review: created %s for user %s", id, caller.UserID)
	return id, e.ctrl.View(), nil
}

func (s *Service) GetReview(ctx context.Context, caller Session, id string) (review.View, error) {
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return review.View{}, err
	}
	return e.ctrl.View(), nil
}

func (s *Service) FilteredIssues(ctx context.Context, caller Session, id string, filter issue.Filter) ([]issue.Issue, error) {
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	items := e.ctrl.FilteredIssues(filter)
	if items == nil {
		items = []issue.Issue{}
	}
	return items, nil
}

// SyncContent mirrors the browser editor into the session buffer.
func (s *Service) SyncContent(ctx context.Context, caller Session, id, content string) (review.View, error) {
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return review.View{}, err
	}
	if err := e.ctrl.Edit(content); err != nil {
		return review.View{}, err
	}
	return e.ctrl.View(), nil
}

func (s *Service) ApplyFix(ctx context.Context, caller Session, id, issueID, suggested string) (annotate.Fix, review.View, error) {
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return annotate.Fix{}, review.View{}, err
	}
	fix, err := e.ctrl.ApplyFix(issueID, suggested)
	if err != nil {
		return annotate.Fix{}, review.View{}, err
	}
	return fix, e.ctrl.View(), nil
}

func (s *Service) ApplyAll(ctx context.Context, caller Session, id string) ([]annotate.Fix, review.View, error) {
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return nil, review.View{}, err
	}
	fixes, err := e.ctrl.ApplyAll()
	if err != nil {
		return nil, review.View{}, err
	}
	if fixes == nil {
		fixes = []annotate.Fix{}
	}
	return fixes, e.ctrl.View(), nil
}

func (s *Service) Reanalyze(ctx context.Context, caller Session, id string, req review.ReanalyzeRequest) (review.View, error) {
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return review.View{}, err
	}
	if err := e.ctrl.Reanalyze(ctx, req); err != nil {
		return review.View{}, upstreamError(err)
	}
	s.storeTemplate(ctx, id, req.Template)
	return e.ctrl.View(), nil
}

func (s *Service) SetViewMode(ctx context.Context, caller Session, id, mode string) (review.View, error) {
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return review.View{}, err
	}
	parsed, err := review.ParseViewMode(mode)
	if err != nil {
		return review.View{}, err
	}
	if err := e.ctrl.SetViewMode(parsed); err != nil {
		return review.View{}, err
	}
	return e.ctrl.View(), nil
}

func (s *Service) Chat(ctx context.Context, caller Session, id, message string) (review.ChatReply, review.View, error) {
	if strings.TrimSpace(message) == "" {
		return review.ChatReply{}, review.View{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message is required", nil)
	}
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return review.ChatReply{}, review.View{}, err
	}
	reply, err := e.ctrl.Chat(ctx, message)
	if err != nil {
		return review.ChatReply{}, review.View{}, upstreamError(err)
	}
	return reply, e.ctrl.View(), nil
}

// Download is a finished export.
type Download struct {
	Target      review.ExportTarget
	FileName    string
	ContentType string
	Data        []byte
}

// Export produces the corrected document. Server export is tried when the
// session's plan allows it; a failed server export falls back to local.
func (s *Service) Export(ctx context.Context, caller Session, id, format string) (Download, error) {
	e, err := s.lookup(ctx, caller, id)
	if err != nil {
		return Download{}, err
	}
	localFormat, err := export.ParseFormat(format)
	if err != nil {
		return Download{}, err
	}
	plan, err := e.ctrl.ExportPlan(string(localFormat))
	if err != nil {
		return Download{}, err
	}

	if plan.Target == review.ExportServer {
		artifact, err := s.analyzer.ExportCorrected(ctx, plan.AnalysisID, plan.FixedIDs)
		if err == nil {
			return Download{
				Target:      review.ExportServer,
				FileName:    artifact.FileName,
				ContentType: artifact.ContentType,
				Data:        artifact.Data,
			}, nil
		}
		log.Printf("review: server export for %s failed, exporting locally: %v", id, err)
	}

	view := e.ctrl.View()
	result, err := s.exporter.Export(ctx, export.Request{
		Format:   localFormat,
		Title:    plan.Title,
		FileName: plan.FileName,
		Content:  plan.Content,
		Summary:  view.Summary,
		Score:    view.TotalScore,
		Fixed:    view.Counts.Fixed,
		Open:     view.Counts.Open,
	})
	if err != nil {
		return Download{}, err
	}
	return Download{
		Target:      review.ExportLocal,
		FileName:    result.Filename,
		ContentType: result.MimeType,
		Data:        result.Data,
	}, nil
}

func (s *Service) History(ctx context.Context, caller Session, id string, limit int) ([]store.CommitInfo, error) {
	if _, err := s.lookup(ctx, caller, id); err != nil {
		return nil, err
	}
	items, err := s.git.History(id, limit)
	if errors.Is(err, gitrepo.ErrNoRepo) {
		return []store.CommitInfo{}, nil
	}
	return items, err
}

func (s *Service) Revision(ctx context.Context, caller Session, id, hash string) (gitrepo.Content, error) {
	if _, err := s.lookup(ctx, caller, id); err != nil {
		return gitrepo.Content{}, err
	}
	content, err := s.git.GetContentByHash(id, hash)
	if errors.Is(err, gitrepo.ErrNoRepo) {
		return gitrepo.Content{}, domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil)
	}
	if err != nil {
		return gitrepo.Content{}, domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", map[string]any{"hash": hash})
	}
	return content, nil
}

func (s *Service) FixLog(ctx context.Context, caller Session, id string, limit int) ([]store.FixEvent, error) {
	if _, err := s.ownedReview(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.store.ListFixEvents(ctx, id, limit)
}

func (s *Service) ListReviews(ctx context.Context, caller Session, limit int) ([]store.Review, error) {
	return s.store.ListReviews(ctx, caller.UserID, limit)
}

// DeleteReview drops the live session and its snapshot, soft-deletes the
// stored review and removes its search entries and history.
func (s *Service) DeleteReview(ctx context.Context, caller Session, id string) error {
	live, err := s.lookup(ctx, caller, id)
	if err != nil && !isNotFound(err) {
		return err
	}
	if live == nil {
		if _, err := s.ownedReview(ctx, caller, id); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.reviews, id)
	s.mu.Unlock()
	if live != nil {
		live.mu.Lock()
		live.deleted = true
		live.pendingEdit = nil
		if live.editTimer != nil {
			live.editTimer.Stop()
		}
		live.mu.Unlock()
	}

	if s.sessions != nil {
		if err := s.sessions.Delete(ctx, id); err != nil {
			log.Printf("review: delete snapshot %s: %v", id, err)
		}
	}
	if err := s.store.DeleteReview(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	s.search.DeleteReview(id)
	if s.blobs != nil {
		if err := s.blobs.Remove(ctx, blob.SourceKey(id), blob.TemplateKey(id)); err != nil {
			log.Printf("review: remove documents %s: %v", id, err)
		}
	}
	if err := s.git.Remove(id); err != nil {
		log.Printf("review: remove history %s: %v", id, err)
	}
	log.Printf("review: deleted %s", id)
	return nil
}

func (s *Service) Search(_ context.Context, caller Session, q search.Query) search.Response {
	q.UserID = caller.UserID
	return s.search.Search(q)
}

// lookup finds a live session, restoring it from Redis after a restart.
// Sessions owned by another user are reported as missing.
func (s *Service) lookup(ctx context.Context, caller Session, id string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.reviews[id]
	s.mu.Unlock()
	if !ok {
		var err error
		e, err = s.restore(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	if e.userID != caller.UserID {
		return nil, errReviewNotFound
	}
	return e, nil
}

func (s *Service) restore(ctx context.Context, id string) (*entry, error) {
	if s.sessions == nil {
		return nil, errReviewNotFound
	}
	record, err := s.sessions.Load(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, errReviewNotFound
	}
	if err != nil {
		return nil, err
	}

	e := s.newEntry(id, record.UserID, "")
	e.analysisKey = record.AnalysisKey
	if a := record.Snapshot.Analysis; a != nil && e.analysisKey == "" {
		e.analysisKey = a.AnalysisID
	}
	snap := record.Snapshot
	if src := snap.Source; src != nil && src.Key != "" {
		e.sourceKey = src.Key
		snap.Source = s.loadSource(ctx, id, *src)
	}
	e.ctrl.Restore(snap)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.reviews[id]; ok {
		return existing, nil
	}
	s.reviews[id] = e
	return e, nil
}

func (s *Service) ownedReview(ctx context.Context, caller Session, id string) (store.Review, error) {
	rec, err := s.store.GetReview(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Review{}, errReviewNotFound
	}
	if err != nil {
		return store.Review{}, err
	}
	if rec.UserID != caller.UserID {
		return store.Review{}, errReviewNotFound
	}
	return rec, nil
}

// persist fans a committed change out to Redis, PostgreSQL, the search
// index and the revision history. Editor syncs are debounced so a burst of
// keystrokes is saved once, with the last content. Failures are logged;
// the in-memory session stays authoritative.
func (s *Service) persist(e *entry, change review.Change) {
	if change.Kind == review.ChangeEdited && s.editDebounce > 0 {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.deleted {
			return
		}
		e.pendingEdit = &change
		if e.editTimer == nil {
			e.editTimer = time.AfterFunc(s.editDebounce, func() { s.flushEdit(e) })
		} else {
			e.editTimer.Reset(s.editDebounce)
		}
		return
	}
	s.save(e, change)
}

func (s *Service) flushEdit(e *entry) {
	e.mu.Lock()
	change := e.pendingEdit
	e.pendingEdit = nil
	e.mu.Unlock()
	if change != nil {
		s.save(e, *change)
	}
}

// save writes one change. Saves of an entry are serialized and a snapshot
// older than one already saved is not written again, so concurrent
// requests cannot leave an older snapshot in Redis or in the history.
// Fix events and analyses are still recorded for a late change.
func (s *Service) save(e *entry, change review.Change) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	snap := change.Snapshot
	a := snap.Analysis

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return
	}
	current := change.Seq > e.savedSeq
	if current {
		e.savedSeq = change.Seq
	}
	if change.Kind == review.ChangeReconciled && a != nil {
		e.analysisKey = a.AnalysisID
		if e.analysisKey == "" {
			e.analysisKey = util.NewID("local")
		}
	}
	key := e.analysisKey
	e.mu.Unlock()

	if current && s.sessions != nil {
		snap.Source = s.storeSource(ctx, e, snap.Source)
		record := session.Record{ReviewID: e.id, UserID: e.userID, AnalysisKey: key, Snapshot: snap}
		if err := s.sessions.Save(ctx, record); err != nil {
			log.Printf("review: save snapshot %s: %v", e.id, err)
		}
	}

	if a == nil || change.Kind == review.ChangeEdited {
		return
	}

	if current {
		rec := store.Review{
			ID:         e.id,
			UserID:     e.userID,
			FileName:   a.FileName,
			FileType:   a.FileType,
			State:      string(snap.State),
			ViewMode:   string(snap.ViewMode),
			AnalysisID: key,
		}
		if err := s.store.UpsertReview(ctx, rec); err != nil {
			log.Printf("review: upsert %s: %v", e.id, err)
			return
		}
	}

	switch change.Kind {
	case review.ChangeReconciled:
		if err := s.store.RecordAnalysis(ctx, storeAnalysis(e.id, key, snap), storeIssues(e.id, key, snap.Issues)); err != nil {
			log.Printf("review: record analysis %s: %v", key, err)
		}
		s.search.IndexIssues(issueRecords(e, key, snap.Issues, nil))
	case review.ChangeFixed, review.ChangeFixedAll:
		if len(change.Fixes) == 0 {
			break
		}
		events := make([]store.FixEvent, 0, len(change.Fixes))
		fixed := make(map[string]bool, len(change.Fixes))
		for _, fix := range change.Fixes {
			fixed[fix.IssueID] = true
			events = append(events, store.FixEvent{
				ReviewID:     e.id,
				AnalysisID:   key,
				IssueID:      fix.IssueID,
				Method:       string(fix.Method),
				OriginalText: fix.Original,
				Correction:   fix.Correction,
				AppliedBy:    e.userID,
			})
		}
		if err := s.store.RecordFixes(ctx, events); err != nil {
			log.Printf("review: record fixes %s: %v", e.id, err)
		}
		s.search.IndexIssues(issueRecords(e, key, snap.Issues, fixed))
	}

	if !current {
		log.Printf("review: %s change %d superseded, history not committed", e.id, change.Seq)
		return
	}
	author := e.userName
	if author == "" {
		author = e.userID
	}
	content := gitrepo.Content{
		AnalysisID: a.AnalysisID,
		ViewMode:   string(snap.ViewMode),
		Content:    snap.Content,
		Edited:     snap.Edited,
		FixedIDs:   fixedIDs(snap.Issues),
	}
	if _, _, err := s.git.Commit(e.id, content, author, commitMessage(change)); err != nil {
		log.Printf("review: commit history %s: %v", e.id, err)
	}
}

// storeSource moves the uploaded document to object storage the first time
// it is seen and returns the reference to keep in the snapshot. Without
// object storage, or when the upload fails, the bytes stay inline.
func (s *Service) storeSource(ctx context.Context, e *entry, src *review.File) *review.File {
	if s.blobs == nil || src == nil {
		return src
	}
	e.mu.Lock()
	key := e.sourceKey
	e.mu.Unlock()
	if key == "" {
		if len(src.Data) == 0 {
			return src
		}
		key = blob.SourceKey(e.id)
		if err := s.blobs.Put(ctx, key, src.ContentType, src.Data); err != nil {
			log.Printf("review: store document %s: %v", e.id, err)
			return src
		}
		e.mu.Lock()
		e.sourceKey = key
		e.mu.Unlock()
	}
	return &review.File{Name: src.Name, ContentType: src.ContentType, Key: key}
}

// loadSource fetches the bytes of a document kept in object storage. A
// failed fetch restores the session without them; only re-analysis needs
// the original upload.
func (s *Service) loadSource(ctx context.Context, reviewID string, src review.File) *review.File {
	if s.blobs == nil || len(src.Data) > 0 {
		return &src
	}
	data, err := s.blobs.Get(ctx, src.Key)
	if err != nil {
		log.Printf("review: load document %s: %v", reviewID, err)
		return &src
	}
	src.Data = data
	return &src
}

func (s *Service) storeTemplate(ctx context.Context, reviewID string, template *review.File) {
	if s.blobs == nil || template == nil || len(template.Data) == 0 {
		return
	}
	if err := s.blobs.Put(ctx, blob.TemplateKey(reviewID), template.ContentType, template.Data); err != nil {
		log.Printf("review: store template %s: %v", reviewID, err)
	}
}

func commitMessage(change review.Change) string {
	switch change.Kind {
	case review.ChangeReconciled:
		return "Reconcile analysis " + analysisLabel(change.Snapshot.Analysis)
	case review.ChangeFixed:
		if len(change.Fixes) == 1 {
			return fmt.Sprintf("Fix issue %s", change.Fixes[0].IssueID)
		}
	case review.ChangeFixedAll:
		return fmt.Sprintf("Fix all (%d issues)", len(change.Fixes))
	case review.ChangeView:
		return "Switch to " + string(change.Snapshot.ViewMode) + " view"
	case review.ChangeChat:
		return "Apply chat correction"
	}
	return "Update review"
}

func analysisLabel(a *issue.DocumentAnalysis) string {
	if a == nil || a.AnalysisID == "" {
		return "(local)"
	}
	return a.AnalysisID
}

func fixedIDs(items []issue.Issue) []string {
	var ids []string
	for _, item := range items {
		if item.IsFixed {
			ids = append(ids, item.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func storeAnalysis(reviewID, key string, snap review.Snapshot) store.Analysis {
	a := snap.Analysis
	return store.Analysis{
		ID:              key,
		ReviewID:        reviewID,
		FileName:        a.FileName,
		FileType:        a.FileType,
		FormatType:      snap.FormatType,
		TotalScore:      a.TotalScore,
		Summary:         a.Summary,
		IsLargeDocument: a.Metadata.IsLargeDocument,
		IssueCount:      len(snap.Issues),
	}
}

func storeIssues(reviewID, key string, items []issue.Issue) []store.Issue {
	out := make([]store.Issue, 0, len(items))
	for i, item := range items {
		out = append(out, store.Issue{
			AnalysisID:    key,
			ID:            item.ID,
			ReviewID:      reviewID,
			Position:      i,
			Type:          string(item.Type),
			Severity:      string(item.Severity),
			Description:   item.Description,
			Suggestion:    item.Suggestion,
			OriginalText:  item.OriginalText,
			CorrectedText: item.CorrectedText,
			CustomFormat:  item.CustomFormatIssue,
			IsFixed:       item.IsFixed,
		})
	}
	return out
}

// issueRecords builds index records for items, or only for the ids in
// only when it is non-nil.
func issueRecords(e *entry, key string, items []issue.Issue, only map[string]bool) []search.IssueRecord {
	out := make([]search.IssueRecord, 0, len(items))
	for _, item := range items {
		if only != nil && !only[item.ID] {
			continue
		}
		out = append(out, search.IssueRecord{
			ID:           search.RecordID(key, item.ID),
			IssueID:      item.ID,
			AnalysisID:   key,
			ReviewID:     e.id,
			UserID:       e.userID,
			Type:         string(item.Type),
			Severity:     string(item.Severity),
			Description:  item.Description,
			OriginalText: item.OriginalText,
			Suggestion:   item.Suggestion,
			IsFixed:      item.IsFixed,
		})
	}
	return out
}
