package httpkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	resp, err := NewClient().Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if !strings.HasPrefix(gotUA, "Kaiwa/") {
		t.Errorf("User-Agent = %q, want Kaiwa prefix", gotUA)
	}
}

func TestUserAgentNotOverwritten(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom-agent")
	resp, err := NewClient().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if gotUA != "custom-agent" {
		t.Errorf("User-Agent = %q, want the caller's value kept", gotUA)
	}
}

func TestWithoutUserAgent(t *testing.T) {
	c := NewClient(WithoutUserAgent())
	if _, ok := c.Transport.(*userAgentTransport); ok {
		t.Error("client still wraps the User-Agent roundtripper")
	}
}

func TestWithTimeout(t *testing.T) {
	c := NewClient(WithTimeout(5 * time.Second))
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}

	if c := NewClient(WithTimeout(0)); c.Timeout != 0 {
		t.Errorf("Timeout = %v, want disabled", c.Timeout)
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("upstream exploded with details"))
	got := ReadErrorBody(body, 16)
	if got != "upstream explode" {
		t.Errorf("ReadErrorBody = %q", got)
	}

	if got := ReadErrorBody(nil, 16); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q", got)
	}
}
