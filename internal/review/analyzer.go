package review

import (
	"context"

	"redline/api/internal/issue"
)

// File is an uploaded document or template. Key names the object holding
// the bytes once they have been moved to object storage; Data may then be
// empty in persisted snapshots.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Key         string `json:"key,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

func (f *File) empty() bool {
	return f == nil || len(f.Data) == 0
}

type AnalyzeRequest struct {
	File         File
	UserID       string
	FormatType   string
	Template     *File
	Requirements string
}

// ReanalyzeRequest changes the template or requirements for the document
// already loaded in a session.
type ReanalyzeRequest struct {
	FormatType   string
	Template     *File
	Requirements string
}

type ChatRequest struct {
	Message         string
	DocumentContent string
	OpenIssues      []issue.Issue
	Summary         string
}

type ChatReply struct {
	Message       string `json:"message,omitempty"`
	CorrectedText string `json:"correctedText,omitempty"`
}

// Artifact is an exported document.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Analyzer is the remote analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*issue.DocumentAnalysis, error)
	Chat(ctx context.Context, req ChatRequest) (ChatReply, error)
	ExportCorrected(ctx context.Context, analysisID string, fixedIDs []string) (Artifact, error)
}
