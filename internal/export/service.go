package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"
)

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service renders local exports. PDF goes through headless Chrome and DOCX
// through pandoc; both are looked up at call time.
type Service struct {
	renderPDF  renderFunc
	renderDOCX renderFunc
	now        func() time.Time
}

func NewService() *Service {
	return &Service{
		renderPDF:  exportPDF,
		renderDOCX: exportDOCX,
		now:        time.Now,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "document"
	}

	if req.Format == FormatText {
		return &Result{
			Data:     []byte(ToText(req.Content)),
			Filename: sanitizeFilename(title) + ".txt",
			MimeType: "text/plain; charset=utf-8",
		}, nil
	}

	page, err := RenderDocumentHTML(TemplateData{
		Title:       title,
		FileName:    req.FileName,
		ContentHTML: template.HTML(ToHTML(req.Content)),
		Summary:     req.Summary,
		Score:       req.Score,
		Fixed:       req.Fixed,
		Open:        req.Open,
		GeneratedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.renderPDF(ctx, page, title)
	case FormatDOCX:
		return s.renderDOCX(ctx, page, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

// sanitizeFilename creates a safe filename from a title
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		case r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "document"
	}
	return result
}
