package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"redline/api/internal/analysis"
	"redline/api/internal/issue"
	"redline/api/internal/review"
)

type reviewResponse struct {
	ID     string      `json:"id"`
	Review review.View `json:"review"`
}

type errorResponse struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func uploadRequest(t *testing.T, path, token string, fields map[string]string, fileName string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		_, _ = part.Write(data)
	}
	for key, value := range fields {
		_ = writer.WriteField(key, value)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("multipart close error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func createReview(t *testing.T, env *testEnv, handler http.Handler, token string) reviewResponse {
	t.Helper()
	req := uploadRequest(t, "/api/reviews", token, map[string]string{"formatType": "APA"}, "essay.docx", []byte("binary"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rr.Code, rr.Body.String())
	}
	var resp reviewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (%s)", err, rr.Body.String())
	}
	return resp
}

func TestReviewRoutesRequireSession(t *testing.T) {
	handler := NewHTTPServer(newTestEnv().svc, "*").Handler()

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"bad token", "garbage.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, handler, http.MethodGet, "/api/reviews", tt.token, "")
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rr.Code)
			}
		})
	}
}

func TestCreateReviewPersistsEverywhere(t *testing.T) {
	env := newTestEnv()
	var gotReq review.AnalyzeRequest
	env.analyzer.analyzeFn = func(_ context.Context, req review.AnalyzeRequest) (*issue.DocumentAnalysis, error) {
		gotReq = req
		return catAnalysis(), nil
	}
	handler := NewHTTPServer(env.svc, "*").Handler()

	created := createReview(t, env, handler, tokenFor(t, "usr_1"))

	if gotReq.UserID != "usr_1" || gotReq.File.Name != "essay.docx" || gotReq.FormatType != "APA" {
		t.Fatalf("analyzer request = %+v", gotReq)
	}
	if created.Review.State != review.StateReady || len(created.Review.Issues) != 2 {
		t.Fatalf("view = %+v", created.Review)
	}
	if !strings.Contains(created.Review.Content, `data-issue-id="i1"`) {
		t.Fatalf("content missing marker: %q", created.Review.Content)
	}

	rec, err := env.store.GetReview(context.Background(), created.ID)
	if err != nil || rec.AnalysisID != "an_1" || rec.UserID != "usr_1" {
		t.Fatalf("stored review = %+v, %v", rec, err)
	}
	if len(env.store.analyses) != 1 || len(env.store.issues["an_1"]) != 2 {
		t.Fatalf("stored analyses = %+v", env.store.analyses)
	}
	if len(env.search.indexed) != 2 {
		t.Fatalf("indexed %d records, want 2", len(env.search.indexed))
	}
	if _, ok := env.sessions.records[created.ID]; !ok {
		t.Fatalf("session snapshot not saved")
	}
	if got := env.git.messages(created.ID); !reflect.DeepEqual(got, []string{"Reconcile analysis an_1"}) {
		t.Fatalf("commits = %v", got)
	}
}

func TestCreateReviewValidation(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, uploadRequest(t, "/api/reviews", token, nil, "", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing file status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, uploadRequest(t, "/api/reviews", token, nil, "big.docx", bytes.Repeat([]byte("x"), 3<<20)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized upload status = %d", rr.Code)
	}
}

func TestCreateReviewUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"rejected input", &analysis.StatusError{StatusCode: http.StatusBadRequest, Message: "unsupported file"}, http.StatusUnprocessableEntity, "ANALYSIS_REJECTED"},
		{"server failure", &analysis.StatusError{StatusCode: http.StatusInternalServerError}, http.StatusBadGateway, "ANALYSIS_FAILED"},
		{"transport failure", errors.New("dial tcp: connection refused"), http.StatusBadGateway, "ANALYSIS_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.analyzer.analyzeFn = func(context.Context, review.AnalyzeRequest) (*issue.DocumentAnalysis, error) {
				return nil, tt.err
			}
			handler := NewHTTPServer(env.svc, "*").Handler()

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, uploadRequest(t, "/api/reviews", tokenFor(t, "usr_1"), nil, "essay.docx", []byte("x")))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := decodeError(t, rr).Code; got != tt.wantCode {
				t.Fatalf("code = %q, want %q", got, tt.wantCode)
			}
			if len(env.svc.reviews) != 0 {
				t.Fatalf("failed session should be discarded")
			}
		})
	}
}

func TestFixFlow(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)
	base := "/api/reviews/" + created.ID

	rr := doRequest(t, handler, http.MethodPost, base+"/issues/i1/fix", token, `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("fix status = %d body = %s", rr.Code, rr.Body.String())
	}
	var fixed reviewResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &fixed)
	if !strings.Contains(fixed.Review.Content, "on the mat") || fixed.Review.Counts.Fixed != 1 {
		t.Fatalf("fixed view = %+v", fixed.Review)
	}

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"already fixed", base + "/issues/i1/fix", `{}`, http.StatusConflict, "ALREADY_FIXED"},
		{"no correction", base + "/issues/i2/fix", `{}`, http.StatusUnprocessableEntity, "NO_CORRECTION"},
		{"unknown issue", base + "/issues/nope/fix", `{}`, http.StatusNotFound, "ISSUE_NOT_FOUND"},
		{"bad json", base + "/issues/i2/fix", `{`, http.StatusBadRequest, "INVALID_BODY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, handler, http.MethodPost, tt.path, token, tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if got := decodeError(t, rr).Code; got != tt.wantCode {
				t.Fatalf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}

	rr = doRequest(t, handler, http.MethodPost, base+"/issues/i2/fix", token, `{"suggestedFix":"rested"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("suggested fix status = %d body = %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodGet, base+"/fixes", token, "")
	var log struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &log)
	if rr.Code != http.StatusOK || len(log.Items) != 2 {
		t.Fatalf("fix log = %d %s", rr.Code, rr.Body.String())
	}
	if log.Items[0]["issueId"] != "i1" || log.Items[0]["correction"] != "the" || log.Items[1]["correction"] != "rested" {
		t.Fatalf("fix log items = %v", log.Items)
	}

	want := []string{"Fix issue i2", "Fix issue i1", "Reconcile analysis an_1"}
	if got := env.git.messages(created.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("commits = %v, want %v", got, want)
	}
}

func TestFixOfMissingTextReportsConflict(t *testing.T) {
	env := newTestEnv()
	env.analyzer.analyzeFn = func(context.Context, review.AnalyzeRequest) (*issue.DocumentAnalysis, error) {
		a := catAnalysis()
		a.ProcessedContent = "Nothing here."
		return a, nil
	}
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)
	base := "/api/reviews/" + created.ID

	rr := doRequest(t, handler, http.MethodPost, base+"/issues/i1/fix", token, `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (%s)", rr.Code, rr.Body.String())
	}
	if got := decodeError(t, rr).Code; got != "TEXT_NOT_FOUND" {
		t.Fatalf("code = %q, want TEXT_NOT_FOUND", got)
	}

	rr = doRequest(t, handler, http.MethodGet, base, token, "")
	var view reviewResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &view)
	if view.Review.Counts.Fixed != 0 || view.Review.Issues[0].IsFixed {
		t.Fatalf("issue marked fixed: %+v", view.Review.Issues[0])
	}
	if len(env.store.fixEvents) != 0 {
		t.Fatalf("fix events = %+v", env.store.fixEvents)
	}
}

func TestFixAllAndFilteredIssues(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)
	base := "/api/reviews/" + created.ID

	rr := doRequest(t, handler, http.MethodGet, base+"/issues?filter=critical", token, "")
	var filtered struct {
		Filter string        `json:"filter"`
		Issues []issue.Issue `json:"issues"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &filtered)
	if filtered.Filter != "CRITICAL" || len(filtered.Issues) != 1 || filtered.Issues[0].ID != "i1" {
		t.Fatalf("filtered = %+v", filtered)
	}

	rr = doRequest(t, handler, http.MethodPost, base+"/fix-all", token, "")
	var all struct {
		Fixes  []map[string]any `json:"fixes"`
		Review review.View      `json:"review"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &all)
	if rr.Code != http.StatusOK || len(all.Fixes) != 1 || all.Review.Counts.Open != 1 {
		t.Fatalf("fix-all = %d %s", rr.Code, rr.Body.String())
	}
	if len(env.store.fixEvents) != 1 {
		t.Fatalf("fix events = %+v", env.store.fixEvents)
	}
}

func TestViewModeAndContentSync(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)
	base := "/api/reviews/" + created.ID

	rr := doRequest(t, handler, http.MethodPut, base+"/content", token, `{"content":"The dog sat on teh mat."}`)
	var synced reviewResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &synced)
	if rr.Code != http.StatusOK || !synced.Review.Edited {
		t.Fatalf("sync = %d %s", rr.Code, rr.Body.String())
	}
	before := len(env.git.messages(created.ID))

	rr = doRequest(t, handler, http.MethodPost, base+"/view", token, `{"mode":"sideways"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid mode status = %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodPost, base+"/view", token, `{"mode":"original"}`)
	var viewed reviewResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &viewed)
	if rr.Code != http.StatusOK || viewed.Review.Edited || strings.Contains(viewed.Review.Content, "dog") {
		t.Fatalf("original view = %d %+v", rr.Code, viewed.Review)
	}
	if got := len(env.git.messages(created.ID)); got != before+1 {
		t.Fatalf("commits = %d, want %d (content sync must not commit)", got, before+1)
	}

	rr = doRequest(t, handler, http.MethodPut, base+"/content", token, `{}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing content status = %d", rr.Code)
	}
}

func TestExportTargets(t *testing.T) {
	tests := []struct {
		name       string
		format     string
		serverErr  error
		wantTarget string
		wantBody   string
	}{
		{"server pdf", "pdf", nil, "server", "%PDF"},
		{"server failure falls back", "pdf", errors.New("503"), "local", "local:The cat sat on the mat."},
		{"text is always local", "txt", nil, "local", "local:The cat sat on the mat."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			var gotIDs []string
			env.analyzer.exportFn = func(_ context.Context, analysisID string, fixedIDs []string) (review.Artifact, error) {
				gotIDs = fixedIDs
				if tt.serverErr != nil {
					return review.Artifact{}, tt.serverErr
				}
				return review.Artifact{FileName: "essay_corrected.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, nil
			}
			handler := NewHTTPServer(env.svc, "*").Handler()
			token := tokenFor(t, "usr_1")
			created := createReview(t, env, handler, token)
			base := "/api/reviews/" + created.ID
			doRequest(t, handler, http.MethodPost, base+"/issues/i1/fix", token, `{}`)

			rr := doRequest(t, handler, http.MethodPost, base+"/export", token, `{"format":"`+tt.format+`"}`)
			if rr.Code != http.StatusOK {
				t.Fatalf("export status = %d body = %s", rr.Code, rr.Body.String())
			}
			if got := rr.Header().Get("X-Export-Target"); got != tt.wantTarget {
				t.Fatalf("target = %q, want %q", got, tt.wantTarget)
			}
			if rr.Body.String() != tt.wantBody {
				t.Fatalf("body = %q, want %q", rr.Body.String(), tt.wantBody)
			}
			if !strings.HasPrefix(rr.Header().Get("Content-Disposition"), "attachment;") {
				t.Fatalf("missing Content-Disposition")
			}
			if tt.wantTarget == "server" && !reflect.DeepEqual(gotIDs, []string{"i1"}) {
				t.Fatalf("server export ids = %v", gotIDs)
			}
		})
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)

	rr := doRequest(t, handler, http.MethodPost, "/api/reviews/"+created.ID+"/export", token, `{"format":"odt"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestOtherUsersReviewIsHidden(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	created := createReview(t, env, handler, tokenFor(t, "usr_1"))
	intruder := tokenFor(t, "usr_2")

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/reviews/" + created.ID, ""},
		{http.MethodPost, "/api/reviews/" + created.ID + "/issues/i1/fix", `{}`},
		{http.MethodGet, "/api/reviews/" + created.ID + "/fixes", ""},
		{http.MethodDelete, "/api/reviews/" + created.ID, ""},
	} {
		rr := doRequest(t, handler, tc.method, tc.path, intruder, tc.body)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s status = %d, want 404", tc.method, tc.path, rr.Code)
		}
	}
	if _, ok := env.svc.reviews[created.ID]; !ok {
		t.Fatalf("owner's session should survive")
	}
}

func TestHistoryAndRevision(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)
	base := "/api/reviews/" + created.ID
	doRequest(t, handler, http.MethodPost, base+"/issues/i1/fix", token, `{}`)

	rr := doRequest(t, handler, http.MethodGet, base+"/history", token, "")
	var history struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &history)
	if rr.Code != http.StatusOK || len(history.Items) != 2 || history.Items[0]["message"] != "Fix issue i1" {
		t.Fatalf("history = %d %s", rr.Code, rr.Body.String())
	}

	hash, _ := history.Items[0]["hash"].(string)
	rr = doRequest(t, handler, http.MethodGet, base+"/history/"+hash, token, "")
	var revision struct {
		Revision struct {
			Content  string   `json:"content"`
			FixedIDs []string `json:"fixedIssueIds"`
		} `json:"revision"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &revision)
	if rr.Code != http.StatusOK || !reflect.DeepEqual(revision.Revision.FixedIDs, []string{"i1"}) {
		t.Fatalf("revision = %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodGet, base+"/history/deadbeef", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown revision status = %d", rr.Code)
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv()
	var gotReq review.ChatRequest
	env.analyzer.chatFn = func(_ context.Context, req review.ChatRequest) (review.ChatReply, error) {
		gotReq = req
		return review.ChatReply{Message: "Fixed it.", CorrectedText: "The cat sat on the mat."}, nil
	}
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)
	base := "/api/reviews/" + created.ID

	rr := doRequest(t, handler, http.MethodPost, base+"/chat", token, `{"message":"   "}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty message status = %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodPost, base+"/chat", token, `{"message":"fix spelling"}`)
	var resp struct {
		Reply  review.ChatReply `json:"reply"`
		Review review.View      `json:"review"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if rr.Code != http.StatusOK || resp.Reply.Message != "Fixed it." {
		t.Fatalf("chat = %d %s", rr.Code, rr.Body.String())
	}
	if gotReq.Message != "fix spelling" || len(gotReq.OpenIssues) != 2 {
		t.Fatalf("chat request = %+v", gotReq)
	}
	if !strings.Contains(resp.Review.Content, "on the mat") {
		t.Fatalf("content = %q", resp.Review.Content)
	}
}

func TestDeleteReview(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)

	rr := doRequest(t, handler, http.MethodDelete, "/api/reviews/"+created.ID, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d body = %s", rr.Code, rr.Body.String())
	}
	if _, ok := env.sessions.records[created.ID]; ok {
		t.Fatalf("snapshot should be deleted")
	}
	if len(env.search.deleted) != 1 || len(env.git.removed) != 1 {
		t.Fatalf("search deleted %v, git removed %v", env.search.deleted, env.git.removed)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/reviews/"+created.ID, token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
}

func TestListAndSearchScopedToCaller(t *testing.T) {
	env := newTestEnv()
	handler := NewHTTPServer(env.svc, "*").Handler()
	token := tokenFor(t, "usr_1")
	created := createReview(t, env, handler, token)
	createReview(t, env, handler, tokenFor(t, "usr_2"))

	rr := doRequest(t, handler, http.MethodGet, "/api/reviews", token, "")
	var list struct {
		Items []map[string]any `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Items) != 1 || list.Items[0]["id"] != created.ID {
		t.Fatalf("list = %s", rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/search?q=spelling&userId=usr_2", token, "")
	var resp struct {
		Total   int `json:"total"`
		Results []struct {
			ReviewID string `json:"reviewId"`
		} `json:"results"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if rr.Code != http.StatusOK || resp.Total != 1 || resp.Results[0].ReviewID != created.ID {
		t.Fatalf("search = %d %s", rr.Code, rr.Body.String())
	}
	if env.search.lastQuery.UserID != "usr_1" {
		t.Fatalf("search user = %q", env.search.lastQuery.UserID)
	}

	if rr := doRequest(t, handler, http.MethodGet, "/api/search", token, ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty query status = %d", rr.Code)
	}
	if rr := doRequest(t, handler, http.MethodGet, "/api/search?q=x&limit=-1", token, ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative limit status = %d", rr.Code)
	}
}
