// Package agent runs the language-model orchestrator: given the session
// history and the tool catalog, it decides which tools to invoke and
// returns the final reply text. The webhook pipeline consumes it as a
// black box through the [Orchestrator] interface.
package agent

import (
	"context"

	"github.com/wrenhsu/kaiwa/internal/session"
)

// SystemPrompt seeds every new session and anchors the model's behavior.
const SystemPrompt = "You are a helpful assistant that responds in Traditional Chinese (zh-TW) or English. " +
	"Provide informative and helpful responses. If you decide to use the get_weather tool, " +
	"translate the city name to English and enhance the formatting of the weather forecast with weather icons. " +
	"Refer to the conversation history to provide a coherent and natural response."

// FallbackReply is what the user sees when the orchestrator itself fails.
// Internal errors are logged, never forwarded into the chat.
const FallbackReply = "Sorry, I ran into a problem processing your request. Please try again."

// Orchestrator produces the final reply for a conversation history,
// invoking zero or more tools along the way. Implementations translate
// their own failures into user-presentable text rather than returning
// raw internal errors.
type Orchestrator interface {
	Reply(ctx context.Context, history []session.Turn) (string, error)
}
