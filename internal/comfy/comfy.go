// Package comfy drives the ComfyUI render backend: job submission,
// bounded history polling, and the end-to-end generate-and-publish
// pipeline for image assets.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wrenhsu/kaiwa/internal/httpkit"
)

// Polling defaults: 30 attempts, 2 seconds apart.
const (
	DefaultMaxAttempts  = 30
	DefaultPollInterval = 2 * time.Second
)

// ErrTimedOut reports a poll loop that exhausted its attempts without the
// job producing an output.
var ErrTimedOut = errors.New("comfy: generation timed out")

// Stage identifies which pipeline stage an error came from.
type Stage string

// Pipeline stages, in execution order.
const (
	StageSubmit  Stage = "submit"
	StagePoll    Stage = "poll"
	StagePublish Stage = "publish"
)

// StageError wraps a failure with the pipeline stage it occurred in.
// All stage errors are terminal for that generation attempt.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap supports errors.Is/As on the wrapped cause.
func (e *StageError) Unwrap() error { return e.Err }

// Client talks to one ComfyUI instance.
type Client struct {
	baseURL      string
	clientID     string
	workflowPath string
	httpClient   *http.Client
	logger       *slog.Logger

	// MaxAttempts and Interval govern AwaitCompletion. Exposed as fields
	// so tests can run the loop against a stub backend without real delays.
	MaxAttempts int
	Interval    time.Duration
}

// NewClient creates a render client for the ComfyUI instance at baseURL.
func NewClient(baseURL, workflowPath string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     uuid.NewString(),
		workflowPath: workflowPath,
		httpClient:   httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		logger:       logger.With("component", "comfy"),
		MaxAttempts:  DefaultMaxAttempts,
		Interval:     DefaultPollInterval,
	}
}

// ClientID returns the identity this client submits jobs under. The
// progress listener subscribes with the same ID to see its jobs.
func (c *Client) ClientID() string { return c.clientID }

// submitRequest is the POST /prompt payload.
type submitRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id,omitempty"`
}

// submitResponse is the POST /prompt reply.
type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

// Submit loads the workflow template, substitutes the prompt and fresh
// sampler seeds, and posts the job. Returns the backend-assigned job ID.
// Any failure here is terminal for the generation attempt.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	wf, err := LoadWorkflow(c.workflowPath)
	if err != nil {
		return "", err
	}
	seedA, seedB := newSeeds()
	wf.apply(prompt, seedA, seedB)

	body, err := json.Marshal(submitRequest{Prompt: wf, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("comfy: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("comfy: submit returned HTTP %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("comfy: decode submit response: %w", err)
	}
	if sr.PromptID == "" {
		return "", fmt.Errorf("comfy: submit response carried no prompt_id")
	}

	c.logger.Debug("job submitted", "job", sr.PromptID, "seed_a", seedA, "seed_b", seedB)
	return sr.PromptID, nil
}

// historyImage is one output image reference in a history entry.
type historyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// historyEntry is one job's record in the GET /history/{id} reply.
type historyEntry struct {
	Outputs map[string]struct {
		Images []historyImage `json:"images"`
	} `json:"outputs"`
}

// PollOnce queries the job history once. ready is true when the job has
// produced an output image; sourceURL then points at the rendered file on
// the backend. A transport or HTTP error is terminal for the attempt loop.
func (c *Client) PollOnce(ctx context.Context, jobID string) (sourceURL string, ready bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+jobID, nil)
	if err != nil {
		return "", false, fmt.Errorf("comfy: build history request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("comfy: history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("comfy: history returned HTTP %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return "", false, fmt.Errorf("comfy: decode history response: %w", err)
	}

	entry, ok := history[jobID]
	if !ok {
		return "", false, nil // still queued or executing
	}

	// Node output order in the JSON object is not meaningful; sort the
	// node IDs so "first image" is deterministic.
	nodes := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	for _, id := range nodes {
		for _, img := range entry.Outputs[id].Images {
			if img.Filename == "" {
				continue
			}
			params := url.Values{
				"filename":  {img.Filename},
				"subfolder": {img.Subfolder},
				"type":      {"output"},
			}
			return c.baseURL + "/view?" + params.Encode(), true, nil
		}
	}
	return "", false, nil
}

// AwaitCompletion polls the job until it produces an output, an attempt
// fails, or MaxAttempts polls have come up empty (ErrTimedOut). The
// interval wait honors ctx so an upstream cancellation never blocks for
// a full tick.
func (c *Client) AwaitCompletion(ctx context.Context, jobID string) (string, error) {
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(c.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		sourceURL, ready, err := c.PollOnce(ctx, jobID)
		if err != nil {
			return "", err
		}
		if ready {
			c.logger.Debug("job completed", "job", jobID, "attempts", attempt)
			return sourceURL, nil
		}
	}
	return "", ErrTimedOut
}
