// Package session provides durable, bounded conversation history per user.
//
// A session is an ordered log of turns keyed by the opaque LINE user ID.
// Every write refreshes a fixed retention TTL and trims the log to the
// most recent HistoryLength entries, oldest first. Reads of an expired or
// missing session return an empty log.
package session

import (
	"context"
	"time"
)

// Turn roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultHistoryLength is the default cap on turns kept per user.
const DefaultHistoryLength = 41

// DefaultTTL is the retention window, measured from the last write.
const DefaultTTL = 24 * time.Hour

// Turn is one message in a conversation, tagged with its originating role.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store is the interface session backends implement.
//
// Append is atomic per user: load-or-seed, append, trim, persist with a
// full TTL. Concurrent appends for the same user must not corrupt or drop
// turns. A backend outage on Get degrades to an empty session (the bot
// stays responsive with fresh context); an outage on Append or Clear is
// returned to the caller, because losing the write would silently drop
// the turn from future context.
type Store interface {
	Get(ctx context.Context, userID string) ([]Turn, error)
	Append(ctx context.Context, userID string, turn Turn) ([]Turn, error)
	Clear(ctx context.Context, userID string) error
	Close() error
}

// Options configures a session store.
type Options struct {
	// HistoryLength caps the number of turns kept (default 41).
	HistoryLength int
	// TTL is the retention window refreshed on every write (default 24h).
	TTL time.Duration
	// SystemPrompt seeds new sessions as the first turn when non-empty.
	SystemPrompt string
}

func (o *Options) applyDefaults() {
	if o.HistoryLength <= 0 {
		o.HistoryLength = DefaultHistoryLength
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
}

// seed returns the initial turn sequence for a new session.
func (o *Options) seed() []Turn {
	if o.SystemPrompt == "" {
		return nil
	}
	return []Turn{{Role: RoleSystem, Content: o.SystemPrompt}}
}

// trim caps turns to the last max entries, oldest discarded first.
func trim(turns []Turn, max int) []Turn {
	if max > 0 && len(turns) > max {
		return turns[len(turns)-max:]
	}
	return turns
}

// key builds the storage key for a user's conversation.
func key(userID string) string {
	return "conversation:" + userID
}
