package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrenhsu/kaiwa/internal/httpkit"
	"github.com/wrenhsu/kaiwa/internal/session"
	"github.com/wrenhsu/kaiwa/internal/tools"
)

// DefaultMaxToolRounds bounds the tool-invocation loop per reply.
const DefaultMaxToolRounds = 8

// OpenAIOrchestrator drives any OpenAI-compatible chat-completions
// endpoint with a bounded tool loop over the registry.
type OpenAIOrchestrator struct {
	baseURL    string
	apiKey     string
	model      string
	maxRounds  int
	registry   *tools.Registry
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIOrchestrator creates an orchestrator for the endpoint at
// baseURL (e.g. "https://api.openai.com/v1"). maxRounds <= 0 selects
// DefaultMaxToolRounds.
func NewOpenAIOrchestrator(baseURL, apiKey, model string, maxRounds int, registry *tools.Registry, logger *slog.Logger) *OpenAIOrchestrator {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	return &OpenAIOrchestrator{
		baseURL:   baseURL,
		apiKey:    apiKey,
		model:     model,
		maxRounds: maxRounds,
		registry:  registry,
		// Tool rounds can chain several model calls; no per-request cap
		// beyond the transport timeouts. Cancellation comes from ctx.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		logger:     logger.With("component", "agent"),
	}
}

// Wire types for the chat-completions API.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON-encoded argument object
	} `json:"function"`
}

type toolDef struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []toolDef     `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Reply runs the tool loop until the model stops requesting tools or the
// round budget is spent. Orchestrator failures are logged and translated
// into FallbackReply so the user never sees a raw internal error.
func (o *OpenAIOrchestrator) Reply(ctx context.Context, history []session.Turn) (string, error) {
	messages := make([]chatMessage, 0, len(history))
	for _, t := range history {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Content})
	}

	defs := o.toolDefs()

	for round := 1; round <= o.maxRounds; round++ {
		resp, err := o.complete(ctx, messages, defs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			o.logger.Error("orchestrator call failed", "round", round, "error", err)
			return FallbackReply, nil
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, *resp)
		for _, tc := range resp.ToolCalls {
			messages = append(messages, chatMessage{
				Role:       "tool",
				Content:    o.executeCall(ctx, tc),
				ToolCallID: tc.ID,
			})
		}
	}

	o.logger.Warn("tool round budget exhausted", "rounds", o.maxRounds)
	return FallbackReply, nil
}

// complete performs one chat-completions call and returns the assistant
// message of the first choice.
func (o *OpenAIOrchestrator) complete(ctx context.Context, messages []chatMessage, defs []toolDef) (*chatMessage, error) {
	body, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: messages,
		Tools:    defs,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent: HTTP %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("agent: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("agent: response carried no choices")
	}

	o.logger.Debug("completion finished",
		"model", o.model,
		"tool_calls", len(cr.Choices[0].Message.ToolCalls),
		"duration", time.Since(start).Truncate(time.Millisecond))
	return &cr.Choices[0].Message, nil
}

// executeCall runs one requested tool and returns its result text.
// Failures become text for the model to recover from.
func (o *OpenAIOrchestrator) executeCall(ctx context.Context, tc toolCall) string {
	args := map[string]any{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("Error: tool arguments are not valid JSON: %v", err)
		}
	}

	result, err := o.registry.Execute(ctx, tc.Function.Name, args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

// toolDefs renders the catalog in the wire format the API expects.
func (o *OpenAIOrchestrator) toolDefs() []toolDef {
	catalog := o.registry.List()
	defs := make([]toolDef, 0, len(catalog))
	for _, t := range catalog {
		defs = append(defs, toolDef{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}
