package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newRedisTestStore backs a RedisStore with an in-process server so the
// WATCH/TxPipelined append path runs against real protocol semantics.
func newRedisTestStore(t *testing.T, opts Options) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, opts, slog.Default())
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// newTestStores builds one store per backend under test, all sharing the
// same options, so the contract tests run against each implementation.
func newTestStores(t *testing.T, opts Options) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), opts, slog.Default())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	redisStore, _ := newRedisTestStore(t, opts)

	return map[string]Store{
		"memory": NewMemoryStore(opts),
		"sqlite": sqlite,
		"redis":  redisStore,
	}
}

func TestGetMissingSessionIsEmpty(t *testing.T) {
	for name, store := range newTestStores(t, Options{}) {
		turns, err := store.Get(context.Background(), "nobody")
		if err != nil {
			t.Errorf("%s: Get: %v", name, err)
		}
		if len(turns) != 0 {
			t.Errorf("%s: got %d turns, want 0", name, len(turns))
		}
	}
}

func TestAppendSeedsSystemPrompt(t *testing.T) {
	opts := Options{SystemPrompt: "be helpful"}
	for name, store := range newTestStores(t, opts) {
		turns, err := store.Append(context.Background(), "u1", Turn{Role: RoleUser, Content: "hi"})
		if err != nil {
			t.Fatalf("%s: Append: %v", name, err)
		}
		if len(turns) != 2 {
			t.Fatalf("%s: got %d turns, want 2", name, len(turns))
		}
		if turns[0].Role != RoleSystem || turns[0].Content != "be helpful" {
			t.Errorf("%s: first turn = %+v, want system seed", name, turns[0])
		}
		if turns[1].Role != RoleUser || turns[1].Content != "hi" {
			t.Errorf("%s: second turn = %+v, want user message", name, turns[1])
		}
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	for name, store := range newTestStores(t, Options{}) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			if _, err := store.Append(ctx, "u1", Turn{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i)}); err != nil {
				t.Fatalf("%s: Append %d: %v", name, i, err)
			}
		}

		turns, err := store.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		if len(turns) != 5 {
			t.Fatalf("%s: got %d turns, want 5", name, len(turns))
		}
		for i, turn := range turns {
			want := fmt.Sprintf("msg-%d", i)
			if turn.Content != want {
				t.Errorf("%s: turn %d = %q, want %q", name, i, turn.Content, want)
			}
		}
	}
}

func TestAppendTrimsOldestFirst(t *testing.T) {
	opts := Options{HistoryLength: 3}
	for name, store := range newTestStores(t, opts) {
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			if _, err := store.Append(ctx, "u1", Turn{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i)}); err != nil {
				t.Fatalf("%s: Append %d: %v", name, i, err)
			}
		}

		turns, err := store.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		if len(turns) != 3 {
			t.Fatalf("%s: got %d turns, want 3", name, len(turns))
		}
		for i, want := range []string{"msg-7", "msg-8", "msg-9"} {
			if turns[i].Content != want {
				t.Errorf("%s: turn %d = %q, want %q", name, i, turns[i].Content, want)
			}
		}
	}
}

func TestTrimDropsSeedWhenFull(t *testing.T) {
	// The cap applies to the whole log. Once enough turns accumulate,
	// the seeded system turn ages out like any other.
	opts := Options{HistoryLength: 2, SystemPrompt: "seed"}
	store := NewMemoryStore(opts)
	ctx := context.Background()

	store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "a"})
	turns, err := store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "b"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Content != "a" || turns[1].Content != "b" {
		t.Errorf("got %+v, want [a b]", turns)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	for name, store := range newTestStores(t, Options{}) {
		ctx := context.Background()
		if _, err := store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "hi"}); err != nil {
			t.Fatalf("%s: Append: %v", name, err)
		}

		if err := store.Clear(ctx, "u1"); err != nil {
			t.Errorf("%s: Clear: %v", name, err)
		}
		turns, err := store.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		if len(turns) != 0 {
			t.Errorf("%s: got %d turns after clear, want 0", name, len(turns))
		}

		// Clearing an absent session must not error.
		if err := store.Clear(ctx, "u1"); err != nil {
			t.Errorf("%s: second Clear: %v", name, err)
		}
	}
}

func TestUsersAreIsolated(t *testing.T) {
	for name, store := range newTestStores(t, Options{}) {
		ctx := context.Background()
		store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "from u1"})
		store.Append(ctx, "u2", Turn{Role: RoleUser, Content: "from u2"})

		if err := store.Clear(ctx, "u1"); err != nil {
			t.Fatalf("%s: Clear: %v", name, err)
		}

		turns, err := store.Get(ctx, "u2")
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		if len(turns) != 1 || turns[0].Content != "from u2" {
			t.Errorf("%s: u2 session disturbed by u1 clear: %+v", name, turns)
		}
	}
}

func TestExpiredSessionReadsEmpty(t *testing.T) {
	store := NewMemoryStore(Options{TTL: 10 * time.Millisecond})
	ctx := context.Background()

	store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "hi"})
	time.Sleep(20 * time.Millisecond)

	turns, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("got %d turns after expiry, want 0", len(turns))
	}
}

func TestExpiredSessionReseedsOnAppend(t *testing.T) {
	store := NewMemoryStore(Options{TTL: 10 * time.Millisecond, SystemPrompt: "seed"})
	ctx := context.Background()

	store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "old"})
	time.Sleep(20 * time.Millisecond)

	turns, err := store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "new"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2 (seed + new)", len(turns))
	}
	if turns[0].Content != "seed" || turns[1].Content != "new" {
		t.Errorf("got %+v, want fresh seeded session", turns)
	}
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	for name, store := range newTestStores(t, Options{HistoryLength: 100}) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := store.Append(ctx, "u1", Turn{Role: RoleUser, Content: fmt.Sprintf("msg-%d", i)}); err != nil {
					t.Errorf("%s: Append: %v", name, err)
				}
			}(i)
		}
		wg.Wait()

		turns, err := store.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("%s: Get: %v", name, err)
		}
		if len(turns) != 20 {
			t.Errorf("%s: got %d turns, want 20", name, len(turns))
		}
	}
}

func TestRedisCorruptedRecordDiscardedOnGet(t *testing.T) {
	store, mr := newRedisTestStore(t, Options{})
	if err := mr.Set("conversation:u1", "{not json"); err != nil {
		t.Fatal(err)
	}

	turns, err := store.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("got %d turns from a corrupted record, want 0", len(turns))
	}
}

func TestRedisCorruptedRecordReseededOnAppend(t *testing.T) {
	store, mr := newRedisTestStore(t, Options{SystemPrompt: "seed"})
	if err := mr.Set("conversation:u1", "{not json"); err != nil {
		t.Fatal(err)
	}

	turns, err := store.Append(context.Background(), "u1", Turn{Role: RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2 (seed + user)", len(turns))
	}
	if turns[0].Content != "seed" || turns[1].Content != "hi" {
		t.Errorf("got %+v, want reseeded session", turns)
	}
}

func TestRedisAppendRefreshesTTL(t *testing.T) {
	store, mr := newRedisTestStore(t, Options{TTL: time.Hour})
	ctx := context.Background()

	store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "a"})
	mr.FastForward(30 * time.Minute)
	store.Append(ctx, "u1", Turn{Role: RoleUser, Content: "b"})

	// The second write restarts the clock, so the session survives past
	// the first write's deadline.
	mr.FastForward(45 * time.Minute)
	turns, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("got %d turns, want 2 after TTL refresh", len(turns))
	}

	mr.FastForward(time.Hour)
	turns, _ = store.Get(ctx, "u1")
	if len(turns) != 0 {
		t.Errorf("got %d turns after expiry, want 0", len(turns))
	}
}

func TestTrim(t *testing.T) {
	turns := []Turn{{Content: "a"}, {Content: "b"}, {Content: "c"}}

	got := trim(turns, 2)
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
		t.Errorf("trim(3, 2) = %+v, want last two", got)
	}

	got = trim(turns, 5)
	if len(got) != 3 {
		t.Errorf("trim(3, 5) = %d turns, want 3 unchanged", len(got))
	}
}
