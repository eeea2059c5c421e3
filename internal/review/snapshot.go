package review

import (
	"strings"

	"redline/api/internal/annotate"
	"redline/api/internal/issue"
)

// Snapshot is the persistable state of a controller.
type Snapshot struct {
	State        State                   `json:"state"`
	ViewMode     ViewMode                `json:"viewMode"`
	Display      Display                 `json:"display"`
	Analysis     *issue.DocumentAnalysis `json:"analysis,omitempty"`
	Issues       []issue.Issue           `json:"issues"`
	Content      string                  `json:"content"`
	FixLog       []annotate.Fix          `json:"fixLog,omitempty"`
	Edited       bool                    `json:"edited"`
	Warnings     []string                `json:"warnings,omitempty"`
	Requirements string                  `json:"requirements,omitempty"`
	FormatType   string                  `json:"formatType,omitempty"`
	UserID       string                  `json:"userId,omitempty"`
	Source       *File                   `json:"source,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pullLocked()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:        c.state,
		ViewMode:     c.viewMode,
		Display:      c.display,
		Issues:       issue.Clone(c.issues),
		Content:      c.content,
		FixLog:       append([]annotate.Fix(nil), c.fixLog...),
		Edited:       c.edited,
		Warnings:     append([]string(nil), c.warnings...),
		Requirements: c.requirements,
		FormatType:   c.formatType,
		UserID:       c.userID,
		Source:       c.source,
	}
	if c.analysis != nil {
		copied := *c.analysis
		copied.Issues = issue.Clone(c.analysis.Issues)
		snap.Analysis = &copied
	}
	return snap
}

// Restore replaces the controller state with a snapshot and resyncs the
// editor. A snapshot taken mid-request restores to the last settled state,
// since the request did not survive.
func (c *Controller) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.viewMode = snap.ViewMode
	if c.viewMode == "" {
		c.viewMode = ViewOriginal
	}
	c.display = snap.Display
	if c.display == "" {
		c.display = DisplayText
	}
	c.analysis = snap.Analysis
	c.issues = issue.Clone(snap.Issues)
	c.content = snap.Content
	c.fixLog = append([]annotate.Fix(nil), snap.FixLog...)
	c.edited = snap.Edited
	c.warnings = append([]string(nil), snap.Warnings...)
	c.requirements = snap.Requirements
	c.formatType = snap.FormatType
	c.userID = snap.UserID
	c.source = snap.Source
	c.state = c.settledStateLocked()
	c.pushLocked()
}

// View is what the editing surface needs to render a session.
type View struct {
	State      State         `json:"state"`
	ViewMode   ViewMode      `json:"viewMode"`
	Display    Display       `json:"display"`
	Content    string        `json:"content"`
	PDFBase64  string        `json:"pdfBase64,omitempty"`
	Issues     []issue.Issue `json:"issues"`
	Warnings   []string      `json:"warnings"`
	Counts     issue.Counts  `json:"counts"`
	AnalysisID string        `json:"analysisId,omitempty"`
	FileName   string        `json:"fileName,omitempty"`
	FileType   string        `json:"fileType,omitempty"`
	TotalScore int           `json:"totalScore"`
	Summary    string        `json:"summary,omitempty"`
	FormatType string        `json:"formatType,omitempty"`
	Edited     bool          `json:"edited"`
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pullLocked()
	view := View{
		State:      c.state,
		ViewMode:   c.viewMode,
		Display:    c.display,
		Content:    c.content,
		Issues:     issue.Clone(c.issues),
		Warnings:   append([]string{}, c.warnings...),
		Counts:     issue.Tally(c.issues, issue.ParseRequirements(c.requirements)),
		FormatType: c.formatType,
		Edited:     c.edited,
	}
	if view.Issues == nil {
		view.Issues = []issue.Issue{}
	}
	if a := c.analysis; a != nil {
		view.AnalysisID = a.AnalysisID
		view.FileName = a.FileName
		view.FileType = a.FileType
		view.TotalScore = a.TotalScore
		view.Summary = a.Summary
		if c.display == DisplayPDF {
			view.PDFBase64 = a.CorrectedPDFBase64
		}
	}
	return view
}

type ExportTarget string

const (
	ExportServer ExportTarget = "server"
	ExportLocal  ExportTarget = "local"
)

// ExportPlan says where an export should be produced and with what.
type ExportPlan struct {
	Target     ExportTarget
	Format     string
	AnalysisID string
	FixedIDs   []string
	FileName   string
	Title      string
	Content    string
}

// serverFormats are the formats the analysis service can generate.
var serverFormats = map[string]struct{}{
	"pdf":  {},
	"docx": {},
}

// ExportPlan picks server export when the server can reproduce the current
// document from its analysis and the fixed issue ids. Anything that only
// exists locally is exported from the marker-free local content.
func (c *Controller) ExportPlan(format string) (ExportPlan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.analysis == nil {
		return ExportPlan{}, ErrNotReady
	}
	c.pullLocked()

	format = strings.ToLower(strings.TrimSpace(format))
	plan := ExportPlan{
		Target:     ExportLocal,
		Format:     format,
		AnalysisID: c.analysis.AnalysisID,
		FileName:   c.analysis.FileName,
		Title:      strings.TrimSuffix(c.analysis.FileName, fileExt(c.analysis.FileName)),
		Content:    annotate.Strip(c.content),
	}
	for _, item := range c.issues {
		if item.IsFixed {
			plan.FixedIDs = append(plan.FixedIDs, item.ID)
		}
	}
	_, supported := serverFormats[format]
	if plan.AnalysisID != "" && !c.edited && supported {
		plan.Target = ExportServer
	}
	return plan, nil
}

func fileExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[idx:]
	}
	return ""
}
