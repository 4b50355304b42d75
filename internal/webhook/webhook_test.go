package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wrenhsu/kaiwa/internal/bot"
	"github.com/wrenhsu/kaiwa/internal/reply"
	"github.com/wrenhsu/kaiwa/internal/session"
	"github.com/wrenhsu/kaiwa/internal/tokens"
)

const testSecret = "test-channel-secret"

// recordingReplier captures delivered replies.
type recordingReplier struct {
	token    string
	text     string
	imageURL string
}

func (r *recordingReplier) ReplyText(replyToken, text string) error {
	r.token, r.text = replyToken, text
	return nil
}

func (r *recordingReplier) ReplyImage(replyToken, url, _ string) error {
	r.token, r.imageURL = replyToken, url
	return nil
}

type scriptedOrchestrator struct{ reply string }

func (s *scriptedOrchestrator) Reply(context.Context, []session.Turn) (string, error) {
	return s.reply, nil
}

func newTestHandler(t *testing.T, store session.Store, orchReply string) (*Handler, *recordingReplier) {
	t.Helper()
	guard, err := tokens.NewGuard(0)
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}
	replier := &recordingReplier{}
	b := bot.New(store, guard, &scriptedOrchestrator{reply: orchReply},
		reply.NewRouter("https://cdn.example.com"), slog.Default())
	return NewHandler(testSecret, b, replier, slog.Default()), replier
}

// textEventBody builds a callback payload with one text message event.
func textEventBody(userID, text string) string {
	return fmt.Sprintf(`{
		"destination": "U0000000000000000000000000000000",
		"events": [{
			"type": "message",
			"mode": "active",
			"timestamp": 1700000000000,
			"webhookEventId": "01HWEBHOOKEVENT0000000000",
			"deliveryContext": {"isRedelivery": false},
			"replyToken": "rtok-1",
			"source": {"type": "user", "userId": %q},
			"message": {"type": "text", "id": "m1", "quoteToken": "qt", "text": %q}
		}]
	}`, userID, text)
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postCallback(h *Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Line-Signature", signature)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRejectsBadSignature(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	h, replier := newTestHandler(t, store, "never sent")

	body := textEventBody("u1", "hello")
	w := postCallback(h, body, "not-a-valid-signature")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if replier.text != "" || replier.imageURL != "" {
		t.Error("reply delivered despite rejected signature")
	}
}

func TestTextMessageFlowsThroughPipeline(t *testing.T) {
	store := session.NewMemoryStore(session.Options{SystemPrompt: "be helpful"})
	h, replier := newTestHandler(t, store, "hi back")

	body := textEventBody("u1", "hello")
	w := postCallback(h, body, sign(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if replier.token != "rtok-1" {
		t.Errorf("reply token = %q", replier.token)
	}
	if replier.text != "hi back" {
		t.Errorf("reply text = %q", replier.text)
	}

	turns, _ := store.Get(context.Background(), "u1")
	if len(turns) != 3 {
		t.Errorf("stored %d turns, want system + user + assistant", len(turns))
	}
}

func TestClearCommandClearsAndConfirms(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	h, replier := newTestHandler(t, store, "never sent")

	ctx := context.Background()
	store.Append(ctx, "u1", session.Turn{Role: session.RoleUser, Content: "earlier"})

	body := textEventBody("u1", "清除")
	postCallback(h, body, sign(body))

	if replier.text != bot.ClearedReply {
		t.Errorf("reply text = %q, want confirmation", replier.text)
	}
	turns, _ := store.Get(ctx, "u1")
	if len(turns) != 0 {
		t.Errorf("session still has %d turns", len(turns))
	}
}

func TestImageReplyDelivery(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	h, replier := newTestHandler(t, store, "https://cdn.example.com/generated/a.png")

	body := textEventBody("u1", "draw a fox")
	postCallback(h, body, sign(body))

	if replier.imageURL != "https://cdn.example.com/generated/a.png" {
		t.Errorf("image URL = %q", replier.imageURL)
	}
	if replier.text != "" {
		t.Errorf("unexpected text reply %q", replier.text)
	}
}

func TestIgnoresNonTextEvents(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	h, replier := newTestHandler(t, store, "never sent")

	body := `{
		"destination": "U0000000000000000000000000000000",
		"events": [{
			"type": "message",
			"mode": "active",
			"timestamp": 1700000000000,
			"webhookEventId": "01HWEBHOOKEVENT0000000001",
			"deliveryContext": {"isRedelivery": false},
			"replyToken": "rtok-2",
			"source": {"type": "user", "userId": "u1"},
			"message": {"type": "sticker", "id": "m2", "packageId": "1", "stickerId": "2"}
		}]
	}`
	w := postCallback(h, body, sign(body))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if replier.text != "" || replier.imageURL != "" {
		t.Error("reply delivered for a non-text event")
	}
}
