package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/wrenhsu/kaiwa/internal/httpkit"
)

// DuckDuckGo implements the Provider interface for the DuckDuckGo
// Instant Answer API. No API key required, which makes it the default.
type DuckDuckGo struct {
	baseURL    string
	httpClient *http.Client
}

// NewDuckDuckGo creates a DuckDuckGo provider. baseURL == "" selects the
// public API endpoint.
func NewDuckDuckGo(baseURL string) *DuckDuckGo {
	if baseURL == "" {
		baseURL = "https://api.duckduckgo.com"
	}
	return &DuckDuckGo{
		baseURL:    baseURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

// ddgResponse is the JSON response from the Instant Answer API. Related
// topics stand in for web results; the API exposes no full result list.
type ddgResponse struct {
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Heading       string     `json:"Heading"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

type ddgTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = 10
	}

	params := url.Values{
		"q":      {query},
		"format": {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo: HTTP %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var dr ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("duckduckgo: decode response: %w", err)
	}

	var results []Result
	if dr.AbstractText != "" && dr.AbstractURL != "" {
		results = append(results, Result{
			Title:   dr.Heading,
			URL:     dr.AbstractURL,
			Snippet: dr.AbstractText,
		})
	}
	for _, t := range dr.RelatedTopics {
		if t.FirstURL == "" {
			continue
		}
		results = append(results, Result{Title: t.Text, URL: t.FirstURL})
		if len(results) >= count {
			break
		}
	}
	return results, nil
}
