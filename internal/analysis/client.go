// Package analysis is the HTTP client for the remote document analysis
// service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"redline/api/internal/issue"
	"redline/api/internal/review"
)

const DefaultTimeout = 120 * time.Second

// ErrRejected is wrapped by every non-2xx response from the service.
var ErrRejected = errors.New("analysis service rejected the request")

// StatusError carries the status and message of a rejected request.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("analysis service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("analysis service returned status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrRejected }

// Validation reports whether the service rejected the input itself rather
// than failing.
func (e *StatusError) Validation() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type analysisResponse struct {
	AnalysisID         string            `json:"analysisId"`
	FileName           string            `json:"fileName"`
	FileType           string            `json:"fileType"`
	UploadDate         time.Time         `json:"uploadDate"`
	TotalScore         int               `json:"totalScore"`
	Summary            string            `json:"summary"`
	Issues             []issue.WireIssue `json:"issues"`
	ProcessedContent   string            `json:"processedContent"`
	CorrectedContent   string            `json:"correctedContent"`
	CorrectedPDFBase64 string            `json:"correctedPdfBase64"`
	FormatType         string            `json:"formatType"`
	Metadata           issue.Metadata    `json:"metadata"`
}

func (r analysisResponse) toAnalysis() *issue.DocumentAnalysis {
	return &issue.DocumentAnalysis{
		AnalysisID:         r.AnalysisID,
		FileName:           r.FileName,
		FileType:           r.FileType,
		UploadDate:         r.UploadDate,
		TotalScore:         clampScore(r.TotalScore),
		Summary:            r.Summary,
		Issues:             issue.Normalize(r.Issues),
		ProcessedContent:   r.ProcessedContent,
		CorrectedContent:   r.CorrectedContent,
		CorrectedPDFBase64: r.CorrectedPDFBase64,
		FormatType:         r.FormatType,
		Metadata:           r.Metadata,
	}
}

func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// Analyze uploads a document, with an optional template file, and returns
// the normalized analysis.
func (c *Client) Analyze(ctx context.Context, req review.AnalyzeRequest) (*issue.DocumentAnalysis, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writeFile(writer, "file", req.File); err != nil {
		return nil, err
	}
	if req.Template != nil && len(req.Template.Data) > 0 {
		if err := writeFile(writer, "template", *req.Template); err != nil {
			return nil, err
		}
	}
	fields := map[string]string{
		"userId":       req.UserID,
		"formatType":   req.FormatType,
		"requirements": req.Requirements,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	httpReq, err := c.newRequest(ctx, "/analyze", &body, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var decoded analysisResponse
	if err := c.doJSON(httpReq, &decoded); err != nil {
		return nil, err
	}
	analysis := decoded.toAnalysis()
	if analysis.FileName == "" {
		analysis.FileName = req.File.Name
	}
	if analysis.FormatType == "" {
		analysis.FormatType = req.FormatType
	}
	return analysis, nil
}

func writeFile(writer *multipart.Writer, field string, file review.File) error {
	part, err := writer.CreateFormFile(field, file.Name)
	if err != nil {
		return fmt.Errorf("create form file %s: %w", field, err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return fmt.Errorf("write form file %s: %w", field, err)
	}
	return nil
}

type chatRequest struct {
	Message string      `json:"message"`
	Context chatContext `json:"context"`
}

type chatContext struct {
	DocumentContent string        `json:"documentContent"`
	OpenIssues      []issue.Issue `json:"openIssues"`
	Summary         string        `json:"summary"`
}

func (c *Client) Chat(ctx context.Context, req review.ChatRequest) (review.ChatReply, error) {
	payload, err := json.Marshal(chatRequest{
		Message: req.Message,
		Context: chatContext{
			DocumentContent: req.DocumentContent,
			OpenIssues:      req.OpenIssues,
			Summary:         req.Summary,
		},
	})
	if err != nil {
		return review.ChatReply{}, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, "/chat", bytes.NewReader(payload), "application/json")
	if err != nil {
		return review.ChatReply{}, err
	}
	var reply review.ChatReply
	if err := c.doJSON(httpReq, &reply); err != nil {
		return review.ChatReply{}, err
	}
	return reply, nil
}

type exportRequest struct {
	AnalysisID    string   `json:"analysisId"`
	FixedIssueIDs []string `json:"fixedIssueIds"`
}

// ExportCorrected asks the service to render the corrected document with
// the given issues applied. The response body is the file itself.
func (c *Client) ExportCorrected(ctx context.Context, analysisID string, fixedIDs []string) (review.Artifact, error) {
	if fixedIDs == nil {
		fixedIDs = []string{}
	}
	payload, err := json.Marshal(exportRequest{AnalysisID: analysisID, FixedIssueIDs: fixedIDs})
	if err != nil {
		return review.Artifact{}, fmt.Errorf("marshal export request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, "/export", bytes.NewReader(payload), "application/json")
	if err != nil {
		return review.Artifact{}, err
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return review.Artifact{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return review.Artifact{}, fmt.Errorf("read export body: %w", err)
	}
	artifact := review.Artifact{
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		artifact.FileName = params["filename"]
	}
	return artifact, nil
}

func (c *Client) newRequest(ctx context.Context, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return resp, nil
}

func (c *Client) doJSON(req *http.Request, target any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage pulls a readable message out of an error body, which may be
// JSON with an error or message field, or plain text.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}
