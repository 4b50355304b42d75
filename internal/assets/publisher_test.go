package assets

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	p, err := NewPublisher(Config{
		Endpoint:   "storage.internal:9000",
		PublicBase: "https://cdn.example.com",
		Bucket:     "generated",
		AccessKey:  "ak",
		SecretKey:  "sk",
		Region:     "us-east-1",
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	return p
}

func TestDownloadRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestPublisher(t)
	if _, err := p.download(context.Background(), srv.URL+"/view?filename=x.png"); err == nil {
		t.Fatal("download = nil error, want failure on HTTP 404")
	}
}

func TestDownloadReturnsBody(t *testing.T) {
	payload := []byte("\x89PNG fake image bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	p := newTestPublisher(t)
	data, err := p.download(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("download = %q, want original bytes", data)
	}
}

func TestPublishFailsFastOnDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	// The storage endpoint is unreachable; a download failure must
	// surface before any storage call is attempted.
	p := newTestPublisher(t)
	if _, err := p.Publish(context.Background(), srv.URL); err == nil {
		t.Fatal("Publish = nil error, want download failure")
	}
}

func TestPublicReadPolicy(t *testing.T) {
	raw := publicReadPolicy("my-bucket")

	var policy struct {
		Version   string
		Statement []struct {
			Effect   string
			Action   []string
			Resource []string
		}
	}
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		t.Fatalf("policy is not valid JSON: %v", err)
	}
	if policy.Version != "2012-10-17" {
		t.Errorf("Version = %q", policy.Version)
	}
	if len(policy.Statement) != 1 {
		t.Fatalf("got %d statements, want 1", len(policy.Statement))
	}
	st := policy.Statement[0]
	if st.Effect != "Allow" {
		t.Errorf("Effect = %q", st.Effect)
	}
	if len(st.Action) != 1 || st.Action[0] != "s3:GetObject" {
		t.Errorf("Action = %v", st.Action)
	}
	if len(st.Resource) != 1 || !strings.Contains(st.Resource[0], ":::my-bucket/*") {
		t.Errorf("Resource = %v, want scoped to my-bucket", st.Resource)
	}
}
