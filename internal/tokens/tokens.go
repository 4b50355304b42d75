// Package tokens measures text in model-token units and enforces the
// per-message budget shared by input and output checks.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultLimit is the token budget applied to both inbound messages and
// outbound replies.
const DefaultLimit = 4096

// encodingName is the tokenization scheme. cl100k_base matches the
// GPT-3.5/GPT-4 family the bot is typically pointed at.
const encodingName = "cl100k_base"

// InputTooLargeError reports an inbound message over the token budget.
// The caller must short-circuit and ask the user to shorten the message
// instead of invoking the agent.
type InputTooLargeError struct {
	Count int
	Limit int
}

// Error implements the error interface.
func (e *InputTooLargeError) Error() string {
	return fmt.Sprintf("input is %d tokens, limit is %d", e.Count, e.Limit)
}

// Guard measures and enforces token budgets with a fixed encoding.
type Guard struct {
	enc   *tiktoken.Tiktoken
	limit int
}

// NewGuard creates a Guard. limit <= 0 selects DefaultLimit.
func NewGuard(limit int) (*Guard, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokens: load encoding %s: %w", encodingName, err)
	}
	return &Guard{enc: enc, limit: limit}, nil
}

// Limit returns the configured token budget.
func (g *Guard) Limit() int { return g.limit }

// Measure returns the token count of text. Deterministic for a given
// encoding; concatenating non-empty text never decreases the count.
func (g *Guard) Measure(text string) int {
	return len(g.enc.Encode(text, nil, nil))
}

// EnforceInput returns an *InputTooLargeError when text exceeds the budget.
func (g *Guard) EnforceInput(text string) error {
	if n := g.Measure(text); n > g.limit {
		return &InputTooLargeError{Count: n, Limit: g.limit}
	}
	return nil
}

// EnforceOutput truncates text to the first limit tokens and reconstitutes
// the string from that prefix. Idempotent: applying it to its own output
// changes nothing.
func (g *Guard) EnforceOutput(text string) string {
	ids := g.enc.Encode(text, nil, nil)
	if len(ids) <= g.limit {
		return text
	}
	return g.enc.Decode(ids[:g.limit])
}
