// Package review owns the editing state of one review session and
// reconciles it with analysis results as they arrive.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"redline/api/internal/annotate"
	"redline/api/internal/issue"
)

var (
	// ErrStale is returned for an analysis response that arrived after a
	// newer request was issued. The response is discarded.
	ErrStale = errors.New("analysis response superseded by a newer request")
	// ErrNotReady is returned when an operation needs a loaded analysis.
	ErrNotReady        = errors.New("review has no analysis loaded")
	ErrIssueNotFound   = errors.New("issue not found")
	ErrAlreadyFixed    = errors.New("issue already fixed")
	ErrEmptyFile       = errors.New("document file is required")
	ErrInvalidViewMode = errors.New("invalid view mode")
	ErrEmptyAnalysis   = errors.New("analysis service returned no result")
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading_analysis"
	StateReady   State = "ready"
)

type ViewMode string

const (
	ViewOriginal  ViewMode = "original"
	ViewCorrected ViewMode = "corrected"
)

func ParseViewMode(value string) (ViewMode, error) {
	switch ViewMode(strings.ToLower(strings.TrimSpace(value))) {
	case ViewOriginal:
		return ViewOriginal, nil
	case ViewCorrected:
		return ViewCorrected, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidViewMode, value)
}

// Display is the kind of artifact the surface should show.
type Display string

const (
	DisplayText Display = "text"
	DisplayPDF  Display = "pdf"
)

const LargeDocumentWarning = "This document is large, so full automatic correction was skipped. " +
	"The original text is shown; apply fixes individually."

type ChangeKind string

const (
	ChangeReconciled ChangeKind = "reconciled"
	ChangeFixed      ChangeKind = "fixed"
	ChangeFixedAll   ChangeKind = "fixed_all"
	ChangeView       ChangeKind = "view"
	ChangeChat       ChangeKind = "chat"
	ChangeEdited     ChangeKind = "edited"
)

// Change describes one committed mutation. Seq increases with every
// change of a controller, so a consumer can tell an older snapshot that
// arrives late from the current one.
type Change struct {
	Seq      uint64
	Kind     ChangeKind
	Fixes    []annotate.Fix
	Snapshot Snapshot
}

type Option func(*Controller)

// WithEditor attaches the live editing surface.
func WithEditor(editor Editor) Option {
	return func(c *Controller) { c.editor = editor }
}

// WithLocator replaces the default first-match anchoring strategy.
func WithLocator(locator annotate.Locator) Option {
	return func(c *Controller) { c.renderer.Locator = locator }
}

// WithOnChange registers a hook fired after every committed mutation. It
// runs outside the controller lock.
func WithOnChange(fn func(Change)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// Controller is the reconciliation state machine for a single review
// session. All content and issue state is owned here; the editor is a
// second copy kept in step explicitly.
type Controller struct {
	analyzer Analyzer
	editor   Editor
	renderer annotate.Renderer
	onChange func(Change)

	mu           sync.Mutex
	generation   uint64
	seq          uint64
	state        State
	viewMode     ViewMode
	display      Display
	analysis     *issue.DocumentAnalysis
	issues       []issue.Issue
	content      string
	fixLog       []annotate.Fix
	edited       bool
	warnings     []string
	requirements string
	formatType   string
	userID       string
	source       *File
}

func New(analyzer Analyzer, opts ...Option) *Controller {
	c := &Controller{
		analyzer: analyzer,
		state:    StateIdle,
		viewMode: ViewOriginal,
		display:  DisplayText,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load runs the initial analysis of an uploaded document.
func (c *Controller) Load(ctx context.Context, req AnalyzeRequest) error {
	if req.File.empty() {
		return ErrEmptyFile
	}
	return c.run(ctx, req)
}

// Reanalyze re-submits the loaded document with a new template or
// requirements. Local edits survive unless the server returns a
// replacement.
func (c *Controller) Reanalyze(ctx context.Context, req ReanalyzeRequest) error {
	c.mu.Lock()
	source, userID := c.source, c.userID
	c.mu.Unlock()
	if source.empty() {
		return ErrNotReady
	}
	return c.run(ctx, AnalyzeRequest{
		File:         *source,
		UserID:       userID,
		FormatType:   req.FormatType,
		Template:     req.Template,
		Requirements: req.Requirements,
	})
}

func (c *Controller) run(ctx context.Context, req AnalyzeRequest) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state = StateLoading
	c.mu.Unlock()

	analysis, err := c.analyzer.Analyze(ctx, req)
	if err == nil && analysis == nil {
		err = ErrEmptyAnalysis
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		c.state = c.settledStateLocked()
		c.mu.Unlock()
		return fmt.Errorf("analyze document: %w", err)
	}
	c.reconcileLocked(analysis, req)
	change := c.changeLocked(ChangeReconciled, nil)
	c.mu.Unlock()

	c.notify(change)
	return nil
}

func (c *Controller) settledStateLocked() State {
	if c.analysis == nil {
		return StateIdle
	}
	return StateReady
}

// reconcileLocked replaces the working issue collection wholesale and
// picks the content and view mode for the new analysis.
func (c *Controller) reconcileLocked(a *issue.DocumentAnalysis, req AnalyzeRequest) {
	c.pullLocked()
	localChanges := c.edited || len(c.fixLog) > 0
	local := annotate.Strip(c.content)

	if !req.File.empty() {
		src := req.File
		c.source = &src
	}
	c.userID = req.UserID
	c.requirements = req.Requirements
	c.formatType = req.FormatType
	c.analysis = a
	c.issues = issue.Clone(a.Issues)
	c.fixLog = nil
	c.warnings = nil
	c.display = DisplayText
	c.state = StateReady

	switch {
	case a.CorrectedContent != "":
		c.content = a.CorrectedContent
		c.viewMode = ViewCorrected
		c.edited = false
	case a.Metadata.IsLargeDocument:
		c.content = c.rawTextLocked()
		c.viewMode = ViewCorrected
		c.edited = false
		c.warnings = append(c.warnings, LargeDocumentWarning)
	case a.CorrectedPDFBase64 != "":
		c.content = c.rawTextLocked()
		c.display = DisplayPDF
		c.viewMode = ViewCorrected
		c.edited = false
	default:
		base := c.rawTextLocked()
		if localChanges && strings.TrimSpace(local) != "" {
			base = local
		} else {
			c.edited = false
		}
		c.content = c.renderer.Render(base, c.issues)
		c.viewMode = ViewOriginal
	}
	c.pushLocked()
}

// rawTextLocked is the original extracted text: the processed content, or
// the uploaded file itself when it is plain text.
func (c *Controller) rawTextLocked() string {
	if c.analysis != nil && c.analysis.ProcessedContent != "" {
		return c.analysis.ProcessedContent
	}
	if c.source != nil && utf8.Valid(c.source.Data) {
		return string(c.source.Data)
	}
	return ""
}

func (c *Controller) pullLocked() {
	if c.editor == nil {
		return
	}
	if current := c.editor.GetContent(); current != c.content {
		c.content = current
		c.edited = true
	}
}

func (c *Controller) pushLocked() {
	if c.editor != nil {
		c.editor.SetContent(c.content)
	}
}

// ApplyFix corrects one issue. The correction is the issue's own corrected
// text, else suggested. When neither exists the issue stays unfixed and
// annotate.ErrNoCorrection is returned; when its text is gone from the
// content it stays unfixed with annotate.ErrNotLocated.
func (c *Controller) ApplyFix(issueID, suggested string) (annotate.Fix, error) {
	c.mu.Lock()
	if c.analysis == nil {
		c.mu.Unlock()
		return annotate.Fix{}, ErrNotReady
	}
	idx := issue.Find(c.issues, issueID)
	if idx < 0 {
		c.mu.Unlock()
		return annotate.Fix{}, ErrIssueNotFound
	}
	if c.issues[idx].IsFixed {
		c.mu.Unlock()
		return annotate.Fix{}, ErrAlreadyFixed
	}

	c.pullLocked()
	fix, err := annotate.ApplyFix(c.content, c.issues[idx], suggested)
	if err != nil {
		c.mu.Unlock()
		return fix, err
	}
	c.issues[idx].IsFixed = true
	c.commitFixesLocked([]annotate.Fix{fix}, fix.Content)
	change := c.changeLocked(ChangeFixed, []annotate.Fix{fix})
	c.mu.Unlock()

	c.notify(change)
	return fix, nil
}

// ApplyAll corrects every open issue that carries its own corrected text.
// Issues without one are left open.
func (c *Controller) ApplyAll() ([]annotate.Fix, error) {
	c.mu.Lock()
	if c.analysis == nil {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	c.pullLocked()
	content, fixes := annotate.ApplyAll(c.content, c.issues)
	for _, fix := range fixes {
		if idx := issue.Find(c.issues, fix.IssueID); idx >= 0 {
			c.issues[idx].IsFixed = true
		}
	}
	c.commitFixesLocked(fixes, content)
	change := c.changeLocked(ChangeFixedAll, fixes)
	c.mu.Unlock()

	c.notify(change)
	return fixes, nil
}

// commitFixesLocked records the fixes and installs the new content. A
// marker replacement also drops markers nested in the replaced range, so
// highlighted content is re-rendered to re-anchor the remaining open issues.
func (c *Controller) commitFixesLocked(fixes []annotate.Fix, content string) {
	for _, fix := range fixes {
		if fix.Changed() {
			fix.Content = ""
			c.fixLog = append(c.fixLog, fix)
		}
	}
	if len(annotate.MarkerIDs(c.content)) > 0 {
		content = c.renderer.Render(content, c.issues)
	}
	c.content = content
	c.pushLocked()
}

// SetViewMode switches between the original and corrected views. The
// original view is not the bare extracted text: it is rebuilt from that
// text with the applied fixes replayed and the open issues re-highlighted.
// Unsaved manual edits are dropped, and toggling back and forth returns the
// same bytes.
func (c *Controller) SetViewMode(mode ViewMode) error {
	if mode != ViewOriginal && mode != ViewCorrected {
		return fmt.Errorf("%w: %q", ErrInvalidViewMode, mode)
	}
	c.mu.Lock()
	if c.analysis == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	a := c.analysis
	switch mode {
	case ViewOriginal:
		c.content = c.renderer.Render(annotate.Replay(c.rawTextLocked(), c.fixLog), c.issues)
		c.display = DisplayText
		c.edited = false
	case ViewCorrected:
		switch {
		case a.CorrectedContent != "":
			c.content = a.CorrectedContent
			c.display = DisplayText
			c.edited = false
		case a.CorrectedPDFBase64 != "":
			c.display = DisplayPDF
		case a.Metadata.IsLargeDocument:
			c.content = c.rawTextLocked()
			c.edited = false
		}
	}
	c.viewMode = mode
	c.pushLocked()
	change := c.changeLocked(ChangeView, nil)
	c.mu.Unlock()

	c.notify(change)
	return nil
}

// Edit records content typed into the editor.
func (c *Controller) Edit(content string) error {
	c.mu.Lock()
	if c.analysis == nil {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.editor != nil {
		c.editor.SetContent(content)
		c.pullLocked()
	} else if content != c.content {
		c.content = content
		c.edited = true
	}
	change := c.changeLocked(ChangeEdited, nil)
	c.mu.Unlock()

	c.notify(change)
	return nil
}

// Chat sends a message about the document. A reply carrying corrected
// text replaces the content through the same resync path as a fix.
func (c *Controller) Chat(ctx context.Context, message string) (ChatReply, error) {
	c.mu.Lock()
	if c.analysis == nil {
		c.mu.Unlock()
		return ChatReply{}, ErrNotReady
	}
	c.pullLocked()
	req := ChatRequest{
		Message:         message,
		DocumentContent: annotate.Strip(c.content),
		OpenIssues:      openIssues(c.issues),
		Summary:         c.analysis.Summary,
	}
	gen := c.generation
	c.mu.Unlock()

	reply, err := c.analyzer.Chat(ctx, req)
	if err != nil {
		return ChatReply{}, fmt.Errorf("chat: %w", err)
	}
	if reply.CorrectedText == "" {
		return reply, nil
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return reply, ErrStale
	}
	c.content = reply.CorrectedText
	c.edited = true
	c.pushLocked()
	change := c.changeLocked(ChangeChat, nil)
	c.mu.Unlock()

	c.notify(change)
	return reply, nil
}

func openIssues(items []issue.Issue) []issue.Issue {
	open := make([]issue.Issue, 0, len(items))
	for _, item := range items {
		if !item.IsFixed {
			open = append(open, item)
		}
	}
	return open
}

func (c *Controller) notify(change Change) {
	if c.onChange != nil {
		c.onChange(change)
	}
}

func (c *Controller) changeLocked(kind ChangeKind, fixes []annotate.Fix) Change {
	c.seq++
	return Change{Seq: c.seq, Kind: kind, Fixes: fixes, Snapshot: c.snapshotLocked()}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) ViewMode() ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewMode
}

// Content returns the controller's current content after pulling any
// pending editor changes.
func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pullLocked()
	return c.content
}

func (c *Controller) Issues() []issue.Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return issue.Clone(c.issues)
}

// FilteredIssues returns the issues in one filter bucket.
func (c *Controller) FilteredIssues(filter issue.Filter) []issue.Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return issue.Select(c.issues, filter, issue.ParseRequirements(c.requirements))
}

// Warnings returns the user-facing warnings raised by the last
// reconciliation.
func (c *Controller) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.warnings...)
}

func (c *Controller) Analysis() *issue.DocumentAnalysis {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.analysis == nil {
		return nil
	}
	copied := *c.analysis
	copied.Issues = issue.Clone(c.analysis.Issues)
	return &copied
}
