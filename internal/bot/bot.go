// Package bot implements the message-processing pipeline: session
// maintenance, token budget checks, agent orchestration, and response
// routing for one inbound user message.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wrenhsu/kaiwa/internal/agent"
	"github.com/wrenhsu/kaiwa/internal/reply"
	"github.com/wrenhsu/kaiwa/internal/session"
	"github.com/wrenhsu/kaiwa/internal/tokens"
)

// ClearedReply confirms a session wipe.
const ClearedReply = "Conversation history cleared!"

// clearCommands bypass the agent entirely and only clear the session.
// Matched case-insensitively after trimming.
var clearCommands = map[string]bool{
	"清除":     true,
	"clear":  true,
	"reset":  true,
	"/reset": true,
}

// IsClearCommand reports whether msg is a session-reset command word.
func IsClearCommand(msg string) bool {
	return clearCommands[strings.ToLower(strings.TrimSpace(msg))]
}

// Bot runs the per-message pipeline.
type Bot struct {
	store        session.Store
	guard        *tokens.Guard
	orchestrator agent.Orchestrator
	router       *reply.Router
	logger       *slog.Logger
}

// New wires the pipeline components together.
func New(store session.Store, guard *tokens.Guard, orch agent.Orchestrator, router *reply.Router, logger *slog.Logger) *Bot {
	return &Bot{
		store:        store,
		guard:        guard,
		orchestrator: orch,
		router:       router,
		logger:       logger.With("component", "bot"),
	}
}

// Process handles one inbound message and returns the outbound reply.
//
// Order matters: the assistant turn is persisted before the reply is
// handed back for delivery, so a failed write surfaces as a fallback
// message instead of silently dropping the turn from future context.
func (b *Bot) Process(ctx context.Context, userID, msg string) reply.Message {
	msg = strings.TrimSpace(msg)

	if IsClearCommand(msg) {
		if err := b.store.Clear(ctx, userID); err != nil {
			b.logger.Error("session clear failed", "user", userID, "error", err)
			return reply.Message{Text: agent.FallbackReply}
		}
		return reply.Message{Text: ClearedReply}
	}

	if err := b.guard.EnforceInput(msg); err != nil {
		var tooLarge *tokens.InputTooLargeError
		if errors.As(err, &tooLarge) {
			return reply.Message{Text: fmt.Sprintf(
				"訊息過長 (%d tokens > %d tokens),請縮短後再試。",
				tooLarge.Count, tooLarge.Limit)}
		}
		b.logger.Error("token check failed", "user", userID, "error", err)
		return reply.Message{Text: agent.FallbackReply}
	}

	history, err := b.store.Append(ctx, userID, session.Turn{Role: session.RoleUser, Content: msg})
	if err != nil {
		b.logger.Error("session write failed", "user", userID, "error", err)
		return reply.Message{Text: agent.FallbackReply}
	}

	out, err := b.orchestrator.Reply(ctx, history)
	if err != nil {
		b.logger.Error("orchestrator failed", "user", userID, "error", err)
		return reply.Message{Text: agent.FallbackReply}
	}

	out = b.guard.EnforceOutput(out)

	if _, err := b.store.Append(ctx, userID, session.Turn{Role: session.RoleAssistant, Content: out}); err != nil {
		// The reply would be absent from future context; fail the turn
		// rather than answer with amnesia.
		b.logger.Error("session write failed", "user", userID, "error", err)
		return reply.Message{Text: agent.FallbackReply}
	}

	return b.router.Route(out)
}
