package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"redline/api/internal/annotate"
	"redline/api/internal/auth"
	"redline/api/internal/export"
	"redline/api/internal/issue"
	"redline/api/internal/review"
	"redline/api/internal/search"
	"redline/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, session)
		return
	}

	if r.URL.Path == "/api/reviews" {
		switch r.Method {
		case http.MethodGet:
			limit, ok := queryInt(w, r, "limit", 50)
			if !ok {
				return
			}
			items, err := s.service.ListReviews(r.Context(), session, limit)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(items))
			for _, item := range items {
				payload = append(payload, reviewSummary(item))
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": payload})
		case http.MethodPost:
			s.handleCreateReview(w, r, session)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "reviews" {
		s.handleReview(w, r, session, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if configured, err := s.service.PingSessions(ctx); configured {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}

	if configured, err := s.service.PingBlobs(ctx); configured {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["objectStore"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["objectStore"] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	resp := s.service.Search(r.Context(), session, search.Query{
		Text:     q,
		Severity: strings.TrimSpace(r.URL.Query().Get("severity")),
		Type:     strings.TrimSpace(r.URL.Query().Get("type")),
		ReviewID: strings.TrimSpace(r.URL.Query().Get("reviewId")),
		Limit:    limit,
		Offset:   offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCreateReview(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.parseUpload(w, r); err != nil {
		writeMappedError(w, err)
		return
	}
	file, err := formFile(r, "file")
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if file == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	template, err := formFile(r, "template")
	if err != nil {
		writeMappedError(w, err)
		return
	}

	id, view, err := s.service.CreateReview(r.Context(), session, review.AnalyzeRequest{
		File:         *file,
		FormatType:   strings.TrimSpace(r.FormValue("formatType")),
		Template:     template,
		Requirements: r.FormValue("requirements"),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "review": view})
}

func (s *HTTPServer) handleReview(w http.ResponseWriter, r *http.Request, session Session, reviewID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetReview(ctx, session, reviewID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "review": view})
		case http.MethodDelete:
			if err := s.service.DeleteReview(ctx, session, reviewID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "issues" && r.Method == http.MethodGet {
		filter := issue.ParseFilter(r.URL.Query().Get("filter"))
		items, err := s.service.FilteredIssues(ctx, session, reviewID, filter)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"filter": filter, "issues": items})
		return
	}

	if len(parts) == 4 && parts[3] == "content" && r.Method == http.MethodPut {
		var body struct {
			Content *string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Content == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
			return
		}
		view, err := s.service.SyncContent(ctx, session, reviewID, *body.Content)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "review": view})
		return
	}

	if len(parts) == 6 && parts[3] == "issues" && parts[5] == "fix" && r.Method == http.MethodPost {
		var body struct {
			SuggestedFix string `json:"suggestedFix"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		fix, view, err := s.service.ApplyFix(ctx, session, reviewID, parts[4], body.SuggestedFix)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "fix": fix, "review": view})
		return
	}

	if len(parts) == 4 && parts[3] == "fix-all" && r.Method == http.MethodPost {
		fixes, view, err := s.service.ApplyAll(ctx, session, reviewID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "fixes": fixes, "review": view})
		return
	}

	if len(parts) == 4 && parts[3] == "reanalyze" && r.Method == http.MethodPost {
		if err := s.parseUpload(w, r); err != nil {
			writeMappedError(w, err)
			return
		}
		template, err := formFile(r, "template")
		if err != nil {
			writeMappedError(w, err)
			return
		}
		view, err := s.service.Reanalyze(ctx, session, reviewID, review.ReanalyzeRequest{
			FormatType:   strings.TrimSpace(r.FormValue("formatType")),
			Template:     template,
			Requirements: r.FormValue("requirements"),
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "review": view})
		return
	}

	if len(parts) == 4 && parts[3] == "view" && r.Method == http.MethodPost {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.SetViewMode(ctx, session, reviewID, body.Mode)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "review": view})
		return
	}

	if len(parts) == 4 && parts[3] == "chat" && r.Method == http.MethodPost {
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		reply, view, err := s.service.Chat(ctx, session, reviewID, body.Message)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "reply": reply, "review": view})
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodPost {
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		download, err := s.service.Export(ctx, session, reviewID, body.Format)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeDownload(w, download)
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		items, err := s.service.History(ctx, session, reviewID, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, commitSummary(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "items": payload})
		return
	}

	if len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodGet {
		content, err := s.service.Revision(ctx, session, reviewID, parts[4])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "hash": parts[4], "revision": content})
		return
	}

	if len(parts) == 4 && parts[3] == "fixes" && r.Method == http.MethodGet {
		limit, ok := queryInt(w, r, "limit", 100)
		if !ok {
			return
		}
		events, err := s.service.FixLog(ctx, session, reviewID, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(events))
		for _, event := range events {
			payload = append(payload, fixEventSummary(event))
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": reviewID, "items": payload})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) parseUpload(w http.ResponseWriter, r *http.Request) error {
	limit := s.service.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Upload exceeds the size limit", map[string]any{"limitBytes": limit})
		}
		return domainError(http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
	}
	return nil
}

// formFile reads an optional upload field. A missing field is (nil, nil).
func formFile(r *http.Request, field string) (*review.File, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", fmt.Sprintf("%s could not be read", field), nil)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", fmt.Sprintf("%s could not be read", field), nil)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &review.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func writeDownload(w http.ResponseWriter, download Download) {
	contentType := download.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.FileName))
	w.Header().Set("X-Export-Target", string(download.Target))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(download.Data)
}

func reviewSummary(item store.Review) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"fileName":   item.FileName,
		"fileType":   item.FileType,
		"state":      item.State,
		"viewMode":   item.ViewMode,
		"analysisId": item.AnalysisID,
		"createdAt":  item.CreatedAt,
		"updatedAt":  item.UpdatedAt,
	}
}

func commitSummary(item store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      item.Hash,
		"message":   strings.TrimSpace(item.Message),
		"author":    item.Author,
		"createdAt": item.CreatedAt,
		"added":     item.Added,
		"removed":   item.Removed,
	}
}

func fixEventSummary(item store.FixEvent) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"analysisId":   item.AnalysisID,
		"issueId":      item.IssueID,
		"method":       item.Method,
		"originalText": item.OriginalText,
		"correction":   item.Correction,
		"appliedBy":    item.AppliedBy,
		"appliedAt":    item.AppliedAt,
	}
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" must be a non-negative integer", nil)
		return 0, false
	}
	return parsed, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Export-Target, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("review: request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, review.ErrIssueNotFound):
		return http.StatusNotFound, "ISSUE_NOT_FOUND", "Issue not found", nil
	case errors.Is(err, review.ErrAlreadyFixed):
		return http.StatusConflict, "ALREADY_FIXED", "Issue is already fixed", nil
	case errors.Is(err, review.ErrNotReady):
		return http.StatusConflict, "NOT_READY", "Review has no analysis loaded", nil
	case errors.Is(err, review.ErrStale):
		return http.StatusConflict, "STALE_ANALYSIS", "A newer analysis request superseded this one", nil
	case errors.Is(err, annotate.ErrNoCorrection):
		return http.StatusUnprocessableEntity, "NO_CORRECTION", "Issue has no correction text; provide suggestedFix", nil
	case errors.Is(err, annotate.ErrNotLocated):
		return http.StatusConflict, "TEXT_NOT_FOUND", "Issue text is no longer in the document", nil
	case errors.Is(err, review.ErrEmptyFile), errors.Is(err, review.ErrInvalidViewMode), errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, review.ErrEmptyAnalysis):
		return http.StatusBadGateway, "ANALYSIS_FAILED", "Analysis service returned no result", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
