package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/wrenhsu/kaiwa/internal/agent"
	"github.com/wrenhsu/kaiwa/internal/reply"
	"github.com/wrenhsu/kaiwa/internal/session"
	"github.com/wrenhsu/kaiwa/internal/tokens"
)

// scriptedOrchestrator returns a fixed reply and records the history it saw.
type scriptedOrchestrator struct {
	reply      string
	err        error
	gotHistory []session.Turn
}

func (s *scriptedOrchestrator) Reply(_ context.Context, history []session.Turn) (string, error) {
	s.gotHistory = history
	return s.reply, s.err
}

// failingStore wraps a store and fails writes on demand.
type failingStore struct {
	session.Store
	failAppendAfter int // fail the Nth and later Append calls; 0 disables
	appends         int
}

func (f *failingStore) Append(ctx context.Context, userID string, turn session.Turn) ([]session.Turn, error) {
	f.appends++
	if f.failAppendAfter > 0 && f.appends >= f.failAppendAfter {
		return nil, errors.New("backend down")
	}
	return f.Store.Append(ctx, userID, turn)
}

func newTestBot(t *testing.T, store session.Store, orch agent.Orchestrator) *Bot {
	t.Helper()
	guard, err := tokens.NewGuard(50)
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}
	return New(store, guard, orch, reply.NewRouter("https://cdn.example.com"), slog.Default())
}

func TestIsClearCommand(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"清除", true},
		{"clear", true},
		{"CLEAR", true},
		{"  Reset  ", true},
		{"/reset", true},
		{"clear everything", false},
		{"hello", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsClearCommand(tt.msg); got != tt.want {
			t.Errorf("IsClearCommand(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestProcessClearBypassesAgent(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	orch := &scriptedOrchestrator{reply: "should never be used"}
	b := newTestBot(t, store, orch)

	ctx := context.Background()
	store.Append(ctx, "u1", session.Turn{Role: session.RoleUser, Content: "earlier"})

	msg := b.Process(ctx, "u1", "clear")
	if msg.Text != ClearedReply {
		t.Errorf("Text = %q, want confirmation", msg.Text)
	}
	if orch.gotHistory != nil {
		t.Error("orchestrator invoked for a clear command")
	}

	turns, _ := store.Get(ctx, "u1")
	if len(turns) != 0 {
		t.Errorf("session still has %d turns after clear", len(turns))
	}
}

func TestProcessNormalTurn(t *testing.T) {
	store := session.NewMemoryStore(session.Options{SystemPrompt: "be helpful"})
	orch := &scriptedOrchestrator{reply: "hi back"}
	b := newTestBot(t, store, orch)

	msg := b.Process(context.Background(), "u1", "hello")
	if msg.IsImage() || msg.Text != "hi back" {
		t.Errorf("msg = %+v", msg)
	}

	// The orchestrator must see the seeded system turn plus the user turn.
	if len(orch.gotHistory) != 2 {
		t.Fatalf("orchestrator saw %d turns, want 2", len(orch.gotHistory))
	}
	if orch.gotHistory[0].Role != session.RoleSystem {
		t.Errorf("first turn role = %q", orch.gotHistory[0].Role)
	}
	if orch.gotHistory[1].Content != "hello" {
		t.Errorf("user turn = %+v", orch.gotHistory[1])
	}

	// Both sides of the exchange are persisted, in order.
	turns, _ := store.Get(context.Background(), "u1")
	if len(turns) != 3 {
		t.Fatalf("stored %d turns, want 3", len(turns))
	}
	if turns[2].Role != session.RoleAssistant || turns[2].Content != "hi back" {
		t.Errorf("assistant turn = %+v", turns[2])
	}
}

func TestProcessOversizedInputShortCircuits(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	orch := &scriptedOrchestrator{reply: "unused"}
	b := newTestBot(t, store, orch) // guard limit 50

	long := strings.Repeat("hello world ", 100)
	msg := b.Process(context.Background(), "u1", long)
	if !strings.Contains(msg.Text, "tokens") {
		t.Errorf("Text = %q, want over-budget notice", msg.Text)
	}
	if orch.gotHistory != nil {
		t.Error("orchestrator invoked for oversized input")
	}

	turns, _ := store.Get(context.Background(), "u1")
	if len(turns) != 0 {
		t.Errorf("oversized input persisted: %d turns", len(turns))
	}
}

func TestProcessOrchestratorErrorFallsBack(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	orch := &scriptedOrchestrator{err: errors.New("model gone")}
	b := newTestBot(t, store, orch)

	msg := b.Process(context.Background(), "u1", "hello")
	if msg.Text != agent.FallbackReply {
		t.Errorf("Text = %q, want fallback", msg.Text)
	}
}

func TestProcessUserWriteFailureFallsBack(t *testing.T) {
	store := &failingStore{Store: session.NewMemoryStore(session.Options{}), failAppendAfter: 1}
	orch := &scriptedOrchestrator{reply: "unused"}
	b := newTestBot(t, store, orch)

	msg := b.Process(context.Background(), "u1", "hello")
	if msg.Text != agent.FallbackReply {
		t.Errorf("Text = %q, want fallback", msg.Text)
	}
	if orch.gotHistory != nil {
		t.Error("orchestrator invoked despite failed session write")
	}
}

func TestProcessAssistantWriteFailureFallsBack(t *testing.T) {
	// The user turn persists; the assistant turn write fails. The reply
	// must not be delivered, or it would vanish from future context.
	store := &failingStore{Store: session.NewMemoryStore(session.Options{}), failAppendAfter: 2}
	orch := &scriptedOrchestrator{reply: "the lost answer"}
	b := newTestBot(t, store, orch)

	msg := b.Process(context.Background(), "u1", "hello")
	if msg.Text != agent.FallbackReply {
		t.Errorf("Text = %q, want fallback instead of the reply", msg.Text)
	}
}

func TestProcessRoutesAssetReply(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	orch := &scriptedOrchestrator{reply: "Done! https://cdn.example.com/generated/a.png"}
	b := newTestBot(t, store, orch)

	msg := b.Process(context.Background(), "u1", "draw a fox")
	if !msg.IsImage() {
		t.Fatalf("msg = %+v, want image", msg)
	}
	if msg.ImageURL != "https://cdn.example.com/generated/a.png" {
		t.Errorf("ImageURL = %q", msg.ImageURL)
	}
}

func TestProcessFlattensMarkdownReply(t *testing.T) {
	store := session.NewMemoryStore(session.Options{})
	orch := &scriptedOrchestrator{reply: "here is **bold** advice"}
	b := newTestBot(t, store, orch)

	msg := b.Process(context.Background(), "u1", "hello")
	if msg.Text != "here is bold advice" {
		t.Errorf("Text = %q, want markdown flattened", msg.Text)
	}

	// The stored assistant turn keeps the original markdown: the model
	// reads its own history back.
	turns, _ := store.Get(context.Background(), "u1")
	if turns[len(turns)-1].Content != "here is **bold** advice" {
		t.Errorf("stored turn = %q", turns[len(turns)-1].Content)
	}
}
