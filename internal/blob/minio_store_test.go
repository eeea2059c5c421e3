package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 serves the handful of path-style S3 calls MinioStore makes.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	made    bool
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	bucket = strings.TrimSuffix(bucket, "/")

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if bucket != f.bucket || !f.made {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.bucket = bucket
			f.made = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag-`+key+`"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", `"etag-`+key+`"`)
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func setupTestStore(t *testing.T) (*MinioStore, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	store, err := NewMinioStore(context.Background(), Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "redline",
		SecretKey: "redline-secret",
		Bucket:    "redline-documents",
	})
	if err != nil {
		t.Fatalf("NewMinioStore() error = %v", err)
	}
	return store, fake
}

func TestNewMinioStoreCreatesBucket(t *testing.T) {
	store, fake := setupTestStore(t)
	if !fake.made || fake.bucket != "redline-documents" {
		t.Fatalf("bucket not created: %+v", fake)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestNewMinioStoreValidation(t *testing.T) {
	if _, err := NewMinioStore(context.Background(), Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestPutGetRemove(t *testing.T) {
	store, fake := setupTestStore(t)
	ctx := context.Background()
	key := SourceKey("rev_1")

	if err := store.Put(ctx, key, "", []byte("The cat sat on teh mat.")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.types[key] != "application/octet-stream" {
		t.Fatalf("content type = %q", fake.types[key])
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "The cat sat on teh mat." {
		t.Fatalf("Get() = %q", data)
	}

	if err := store.Remove(ctx, key, TemplateKey("rev_1")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after remove error = %v, want ErrNotFound", err)
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{SourceKey("rev_1"), "reviews/rev_1/source"},
		{TemplateKey("rev_1"), "reviews/rev_1/template"},
		{ReviewPrefix("rev_1"), "reviews/rev_1/"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
