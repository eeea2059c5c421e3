package store

import "time"

type Review struct {
	ID         string
	UserID     string
	FileName   string
	FileType   string
	State      string
	ViewMode   string
	AnalysisID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Analysis struct {
	ID              string
	ReviewID        string
	FileName        string
	FileType        string
	FormatType      string
	TotalScore      int
	Summary         string
	IsLargeDocument bool
	IssueCount      int
	CreatedAt       time.Time
}

type Issue struct {
	AnalysisID    string
	ID            string
	ReviewID      string
	Position      int
	Type          string
	Severity      string
	Description   string
	Suggestion    string
	OriginalText  string
	CorrectedText string
	CustomFormat  bool
	IsFixed       bool
}

// FixEvent is one row of the append-only fix audit log.
type FixEvent struct {
	ID           int64
	ReviewID     string
	AnalysisID   string
	IssueID      string
	Method       string
	OriginalText string
	Correction   string
	AppliedBy    string
	AppliedAt    time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}
