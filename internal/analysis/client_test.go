package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"redline/api/internal/review"
)

func TestAnalyzeSendsMultipartAndNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Fatalf("authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm() error = %v", err)
		}
		if r.FormValue("formatType") != "apa" || r.FormValue("requirements") != "font: Arial" || r.FormValue("userId") != "usr_1" {
			t.Fatalf("form = %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile(file) error = %v", err)
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "essay.txt" || string(data) != "The cat sat on teh mat." {
			t.Fatalf("file = %s %q", header.Filename, data)
		}
		if _, _, err := r.FormFile("template"); err != nil {
			t.Fatalf("template missing: %v", err)
		}

		_, _ = io.WriteString(w, `{
			"analysisId": "an_1",
			"totalScore": 140,
			"processedContent": "The cat sat on teh mat.",
			"metadata": {"isLargeDocument": true},
			"issues": [
				{"id": "i1", "type": "Spelling", "severity": "Critical", "originalText": "teh", "correctedText": "the"},
				{"type": "Margin", "severity": "Cosmetic", "customFormatIssue": true, "isFixed": false}
			]
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "key-1", time.Second)
	analysis, err := client.Analyze(context.Background(), review.AnalyzeRequest{
		File:         review.File{Name: "essay.txt", Data: []byte("The cat sat on teh mat.")},
		UserID:       "usr_1",
		FormatType:   "apa",
		Requirements: "font: Arial",
		Template:     &review.File{Name: "template.docx", Data: []byte("tpl")},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if analysis.TotalScore != 100 {
		t.Fatalf("score = %d, want clamped 100", analysis.TotalScore)
	}
	if analysis.FileName != "essay.txt" || analysis.FormatType != "apa" {
		t.Fatalf("fallback fields = %s %s", analysis.FileName, analysis.FormatType)
	}
	if !analysis.Metadata.IsLargeDocument {
		t.Fatal("metadata lost")
	}
	if len(analysis.Issues) != 2 || analysis.Issues[0].ID != "i1" || analysis.Issues[1].ID == "" {
		t.Fatalf("issues = %+v", analysis.Issues)
	}
	if !analysis.Issues[1].CustomFormatIssue || analysis.Issues[1].IsFixed {
		t.Fatalf("flags = %+v", analysis.Issues[1])
	}
}

func TestAnalyzeMapsRejections(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		message    string
		validation bool
	}{
		{name: "json message", status: http.StatusUnprocessableEntity, body: `{"message":"unsupported file type"}`, message: "unsupported file type", validation: true},
		{name: "json error", status: http.StatusBadRequest, body: `{"error":"file too large"}`, message: "file too large", validation: true},
		{name: "plain text", status: http.StatusBadGateway, body: "upstream down\n", message: "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "", time.Second).Analyze(context.Background(), review.AnalyzeRequest{
				File: review.File{Name: "a.txt", Data: []byte("x")},
			})
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("error = %v, want ErrRejected", err)
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("error %T is not a StatusError", err)
			}
			if statusErr.StatusCode != tt.status || statusErr.Message != tt.message || statusErr.Validation() != tt.validation {
				t.Fatalf("status error = %+v", statusErr)
			}
		})
	}
}

func TestChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if body.Message != "shorten it" || body.Context.DocumentContent != "Long text." || body.Context.Summary != "ok" {
			t.Fatalf("body = %+v", body)
		}
		_ = json.NewEncoder(w).Encode(review.ChatReply{Message: "Done.", CorrectedText: "Text."})
	}))
	defer server.Close()

	reply, err := NewClient(server.URL, "", 0).Chat(context.Background(), review.ChatRequest{
		Message:         "shorten it",
		DocumentContent: "Long text.",
		Summary:         "ok",
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.CorrectedText != "Text." || reply.Message != "Done." {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestExportCorrected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body exportRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if body.AnalysisID != "an_1" || !reflect.DeepEqual(body.FixedIssueIDs, []string{"i1", "i2"}) {
			t.Fatalf("body = %+v", body)
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="essay-corrected.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	artifact, err := NewClient(server.URL, "", time.Second).ExportCorrected(context.Background(), "an_1", []string{"i1", "i2"})
	if err != nil {
		t.Fatalf("ExportCorrected() error = %v", err)
	}
	if artifact.FileName != "essay-corrected.pdf" || artifact.ContentType != "application/pdf" || string(artifact.Data) != "%PDF-1.7" {
		t.Fatalf("artifact = %+v", artifact)
	}
}
