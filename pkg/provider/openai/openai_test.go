package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

func newHTTPAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(Config{
		APIKey:   "sk-test",
		BaseURL:  srv.URL,
		Strategy: StrategyHTTP,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestHTTPUpload(t *testing.T) {
	var gotAuth, gotPurpose, gotFile string

	a := newHTTPAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/files" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart form: %v", err)
		}
		gotPurpose = r.FormValue("purpose")
		if f, _, err := r.FormFile("file"); err == nil {
			buf := make([]byte, 16)
			n, _ := f.Read(buf)
			gotFile = string(buf[:n])
			f.Close()
		}
		fmt.Fprint(w, `{"id": "file-abc123", "object": "file"}`)
	}))

	remoteID, err := a.Upload(context.Background(), strings.NewReader("hello world"), 11, "assistants")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if remoteID != "file-abc123" {
		t.Errorf("expected file-abc123, got %s", remoteID)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer auth header, got %q", gotAuth)
	}
	if gotPurpose != "assistants" {
		t.Errorf("expected purpose assistants, got %q", gotPurpose)
	}
	if gotFile != "hello world" {
		t.Errorf("expected file content, got %q", gotFile)
	}
}

func TestSDKUploadSendsSpoolFromDisk(t *testing.T) {
	var gotPurpose, gotFile string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/files" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart form: %v", err)
		}
		gotPurpose = r.FormValue("purpose")
		if f, _, err := r.FormFile("file"); err == nil {
			buf := make([]byte, 32)
			n, _ := f.Read(buf)
			gotFile = string(buf[:n])
			f.Close()
		}
		fmt.Fprint(w, `{"id": "file-sdk1", "object": "file"}`)
	}))
	t.Cleanup(srv.Close)

	a, err := New(Config{
		APIKey:   "sk-test",
		BaseURL:  srv.URL,
		Strategy: StrategySDK,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Hand over an on-disk spool the way the orchestrator does; the SDK
	// path must pick it up by file path rather than buffering it.
	spool, err := os.CreateTemp(t.TempDir(), "spool-*")
	if err != nil {
		t.Fatal(err)
	}
	const payload = "spooled content"
	if _, err := spool.WriteString(payload); err != nil {
		t.Fatal(err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	remoteID, err := a.Upload(context.Background(), spool, int64(len(payload)), "assistants")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if remoteID != "file-sdk1" {
		t.Errorf("expected file-sdk1, got %s", remoteID)
	}
	if gotPurpose != "assistants" {
		t.Errorf("expected purpose assistants, got %q", gotPurpose)
	}
	if gotFile != payload {
		t.Errorf("expected file content %q, got %q", payload, gotFile)
	}
}

func TestUploadRejectsInvalidPurposeLocally(t *testing.T) {
	a := newHTTPAdapter(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("invalid purpose must never reach the provider")
	}))

	_, err := a.Upload(context.Background(), strings.NewReader("x"), 1, "archive")
	if !ferrors.IsCode(err, ferrors.ErrProviderRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestUploadRejectsOversizeLocally(t *testing.T) {
	a := newHTTPAdapter(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("oversize upload must never reach the provider")
	}))

	_, err := a.Upload(context.Background(), strings.NewReader("x"), MaxFileSize+1, "assistants")
	if err == nil || ferrors.IsRetryable(err) {
		t.Fatalf("expected terminal size error, got %v", err)
	}
}

func TestHTTPUploadErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error": {"message": "rate limit"}}`, true},
		{"server error", http.StatusInternalServerError, `{"error": {"message": "boom"}}`, true},
		{"bad request", http.StatusBadRequest, `{"error": {"message": "invalid file"}}`, false},
		{"unauthorized", http.StatusUnauthorized, `{"error": {"message": "bad key"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newHTTPAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			_, err := a.Upload(context.Background(), strings.NewReader("x"), 1, "assistants")
			if err == nil {
				t.Fatal("expected error")
			}
			if ferrors.IsRetryable(err) != tt.retryable {
				t.Fatalf("status %d: expected retryable=%v, got %v (%v)",
					tt.status, tt.retryable, ferrors.IsRetryable(err), err)
			}
		})
	}
}

func TestHTTPDelete(t *testing.T) {
	var gotPath string

	a := newHTTPAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		fmt.Fprint(w, `{"id": "file-abc123", "deleted": true}`)
	}))

	if err := a.Delete(context.Background(), "file-abc123"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotPath != "DELETE /files/file-abc123" {
		t.Errorf("unexpected request %q", gotPath)
	}
}

func TestHTTPDeleteMissingFileIsIdempotent(t *testing.T) {
	a := newHTTPAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"message": "no such file"}}`)
	}))

	if err := a.Delete(context.Background(), "file-gone"); err != nil {
		t.Fatalf("deleting an absent file should succeed: %v", err)
	}
}

func TestHTTPDeleteFailureKeepsUpstreamMessage(t *testing.T) {
	a := newHTTPAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "replica sync failed"}}`)
	}))

	err := a.Delete(context.Background(), "file-abc123")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "replica sync failed") {
		t.Errorf("expected upstream message in error, got %q", err.Error())
	}
}

func TestAdapterLimits(t *testing.T) {
	a := newHTTPAdapter(t, http.NotFoundHandler())

	limits := a.Limits()
	if limits.MaxSizeBytes != MaxFileSize {
		t.Errorf("expected max size %d, got %d", int64(MaxFileSize), limits.MaxSizeBytes)
	}
	if !limits.Supports("fine-tune") || !limits.Supports("batch") {
		t.Error("expected documented purposes to be supported")
	}
	if limits.Supports("archive") {
		t.Error("unexpected purpose supported")
	}
}
