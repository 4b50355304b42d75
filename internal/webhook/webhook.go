// Package webhook receives LINE platform callbacks, verifies their
// signature, and dispatches text messages into the bot pipeline.
package webhook

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	linewebhook "github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/wrenhsu/kaiwa/internal/bot"
	"github.com/wrenhsu/kaiwa/internal/reply"
)

// Replier delivers an outbound reply for a reply token. Satisfied by
// *line.Client; tests substitute a recorder.
type Replier interface {
	ReplyText(replyToken, text string) error
	ReplyImage(replyToken, url, previewURL string) error
}

// Handler is the HTTP endpoint for LINE webhook callbacks.
type Handler struct {
	channelSecret string
	bot           *bot.Bot
	replier       Replier
	logger        *slog.Logger
}

// NewHandler creates the webhook endpoint.
func NewHandler(channelSecret string, b *bot.Bot, replier Replier, logger *slog.Logger) *Handler {
	return &Handler{
		channelSecret: channelSecret,
		bot:           b,
		replier:       replier,
		logger:        logger.With("component", "webhook"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cb, err := linewebhook.ParseRequest(h.channelSecret, r)
	if err != nil {
		if errors.Is(err, linewebhook.ErrInvalidSignature) {
			h.logger.Warn("webhook signature rejected")
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
		h.logger.Error("webhook parse failed", "error", err)
		http.Error(w, "bad request", http.StatusInternalServerError)
		return
	}

	for _, event := range cb.Events {
		h.handleEvent(r, event)
	}
	fmt.Fprint(w, "OK")
}

// handleEvent processes a single callback event. Only text messages from
// identified users are handled; everything else is ignored.
func (h *Handler) handleEvent(r *http.Request, event linewebhook.EventInterface) {
	me, ok := event.(linewebhook.MessageEvent)
	if !ok {
		return
	}
	tm, ok := me.Message.(linewebhook.TextMessageContent)
	if !ok {
		return
	}
	src, ok := me.Source.(linewebhook.UserSource)
	if !ok || src.UserId == "" {
		return
	}

	msg := h.bot.Process(r.Context(), src.UserId, tm.Text)
	if err := h.deliver(me.ReplyToken, msg); err != nil {
		h.logger.Error("reply delivery failed", "user", src.UserId, "error", err)
	}
}

func (h *Handler) deliver(replyToken string, msg reply.Message) error {
	if msg.IsImage() {
		return h.replier.ReplyImage(replyToken, msg.ImageURL, msg.PreviewURL)
	}
	return h.replier.ReplyText(replyToken, msg.Text)
}
