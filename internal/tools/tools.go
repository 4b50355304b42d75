// Package tools defines the tool catalog available to the agent: weather
// lookup, image generation, web search, web scrape, and the translation
// stubs. Each tool is a pure request/response function; failures come
// back as result text for the model, never as a raised fault that aborts
// the conversation turn.
package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wrenhsu/kaiwa/internal/comfy"
	"github.com/wrenhsu/kaiwa/internal/fetch"
	"github.com/wrenhsu/kaiwa/internal/search"
	"github.com/wrenhsu/kaiwa/internal/weather"
)

// imagePromptSuffix is appended to every generation prompt. The style
// block keeps output quality stable across models and checkpoints.
const imagePromptSuffix = " masterpiece, best quality, ultra-detailed, 8K, RAW photo, " +
	"intricate details, stunning visuals, upper-body, cinematic lighting, soft focus, " +
	"(white background:1.05), realistic, photorealistic, highres, photo, dslr, " +
	"real life, real world location, photo background."

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Deps are the capabilities the built-in tools call into.
type Deps struct {
	Weather  *weather.Client
	Pipeline *comfy.Pipeline
	Search   *search.Manager
	Fetcher  *fetch.Fetcher
	Logger   *slog.Logger
}

// Registry holds the fixed tool catalog exposed to the agent.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	deps   Deps
	logger *slog.Logger
}

// NewRegistry creates the catalog with all built-in tools registered.
func NewRegistry(deps Deps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		deps:   deps,
		logger: logger.With("component", "tools"),
	}
	r.registerBuiltins()
	return r
}

// Register adds a tool to the catalog, keeping registration order stable
// so the model always sees the same listing.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute runs the named tool. Handler errors are translated into result
// text so the model can recover locally ("I couldn't fetch that"); only
// an unknown tool name is surfaced as an error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	r.logger.Debug("tool invoked", "tool", name)
	result, err := t.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return fmt.Sprintf("Error: %v", err), nil
	}
	return result, nil
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "get_weather",
		Description: "Get current weather, today's conditions by time of day, and a 5-day forecast for a city. City name must be in English.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name in English (e.g., Taipei, Tokyo)",
				},
			},
			"required": []string{"city"},
		},
		Handler: r.handleGetWeather,
	})

	r.Register(&Tool{
		Name:        "generate_image",
		Description: "Generate an image from a text prompt and return its public URL. Translate the prompt to English first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "Description of the image to generate, in English",
				},
			},
			"required": []string{"prompt"},
		},
		Handler: r.handleGenerateImage,
	})

	r.Register(&Tool{
		Name:        "web_search",
		Description: "Search the web and return the top results as title/URL lines.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleWebSearch,
	})

	r.Register(&Tool{
		Name:        "web_scrape",
		Description: "Download a web page and return its readable text content.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to scrape",
				},
			},
			"required": []string{"url"},
		},
		Handler: r.handleWebScrape,
	})

	r.registerTranslationStubs()
}

func (r *Registry) handleGetWeather(ctx context.Context, args map[string]any) (string, error) {
	city, _ := args["city"].(string)
	if city == "" {
		return "", fmt.Errorf("get_weather: city is required")
	}

	snap, err := r.deps.Weather.Fetch(ctx, city)
	if err != nil {
		return "", err
	}
	return snap.Summary(), nil
}

func (r *Registry) handleGenerateImage(ctx context.Context, args map[string]any) (string, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return "", fmt.Errorf("generate_image: prompt is required")
	}

	url, err := r.deps.Pipeline.GenerateAndPublish(ctx, prompt+imagePromptSuffix)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (r *Registry) handleWebSearch(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("web_search: query is required")
	}

	results, err := r.deps.Search.Search(ctx, query, search.Options{Count: 10})
	if err != nil {
		return "", err
	}
	return search.FormatResults(results, 10), nil
}

func (r *Registry) handleWebScrape(ctx context.Context, args map[string]any) (string, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return "", fmt.Errorf("web_scrape: url is required")
	}

	result, err := r.deps.Fetcher.Fetch(ctx, url, 0)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// registerTranslationStubs adds the translation tools. They are no-op
// placeholders: the model handles translation itself, but keeping the
// catalog entries stable avoids retraining prompts that reference them.
func (r *Registry) registerTranslationStubs() {
	languages := []string{"english", "chinese", "japanese", "korean"}
	for _, lang := range languages {
		r.Register(&Tool{
			Name:        "translate_to_" + lang,
			Description: fmt.Sprintf("Translate text to %s.", lang),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The text to translate",
					},
				},
				"required": []string{"text"},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				text, _ := args["text"].(string)
				return fmt.Sprintf("Translating to %s: %s", lang, text), nil
			},
		})
	}
}
