package session

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. It backs tests and local
// development; nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	opts     Options
}

type memorySession struct {
	turns     []Turn
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(opts Options) *MemoryStore {
	opts.applyDefaults()
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		opts:     opts,
	}
}

// Get returns the live session for userID, or an empty log if none exists.
func (s *MemoryStore) Get(_ context.Context, userID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key(userID)]
	if !ok || time.Now().After(sess.expiresAt) {
		return nil, nil
	}
	return slices.Clone(sess.turns), nil
}

// Append appends a turn, trims to the history cap, and refreshes the TTL.
func (s *MemoryStore) Append(_ context.Context, userID string, turn Turn) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(userID)
	sess, ok := s.sessions[k]
	if !ok || time.Now().After(sess.expiresAt) {
		sess = &memorySession{turns: s.opts.seed()}
		s.sessions[k] = sess
	}
	sess.turns = trim(append(sess.turns, turn), s.opts.HistoryLength)
	sess.expiresAt = time.Now().Add(s.opts.TTL)
	return slices.Clone(sess.turns), nil
}

// Clear deletes the session. Deleting an absent session is not an error.
func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key(userID))
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
