package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"sync"
	"testing"

	"collab-server/core"

	"github.com/oklog/ulid/v2"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("COLLAB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("COLLAB_TEST_DATABASE_URL not set")
	}

	store, err := NewStore(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Each test works on its own resource id so runs never collide.
func freshKey(kind core.ResourceKind) core.ResourceKey {
	return core.ResourceKey{Kind: kind, ID: "test-" + ulid.Make().String()}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	store := setupTestDB(t)
	if err := applyMigrations(context.Background(), store.db); err != nil {
		t.Fatalf("re-applying migrations failed: %v", err)
	}
}

func TestEditLogAppendAndHistory(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	key := freshKey(core.KindPage)

	for i := int64(1); i <= 3; i++ {
		next, err := store.NextVersion(ctx, key)
		if err != nil {
			t.Fatalf("NextVersion failed: %v", err)
		}
		if next != i {
			t.Fatalf("expected next version %d, got %d", i, next)
		}
		if _, err := store.Append(ctx, key, next, "u1", json.RawMessage(`{"insert":"x"}`)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	history, err := store.History(ctx, key, 1, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].Version != 2 || history[1].Version != 3 {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestEditLogRejectsStaleVersion(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	key := freshKey(core.KindDatabase)

	if _, err := store.Append(ctx, key, 1, "u1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := store.Append(ctx, key, 1, "u2", json.RawMessage(`{}`)); !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("expected version conflict, got %v", err)
	}
	if _, err := store.Append(ctx, key, 5, "u2", json.RawMessage(`{}`)); !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("expected version conflict for gap, got %v", err)
	}
}

func TestAppendEditSQLCastsEveryParameter(t *testing.T) {
	params := regexp.MustCompile(`\$[0-9]+(::[a-z]+)?`).FindAllStringSubmatch(appendEditSQL, -1)
	if len(params) == 0 {
		t.Fatal("expected positional parameters in append statement")
	}
	want := map[string]string{"$1": "::text", "$2": "::text", "$3": "::bigint", "$4": "::text", "$5": "::jsonb"}
	for _, match := range params {
		name := match[0][:len(match[0])-len(match[1])]
		if match[1] != want[name] {
			t.Errorf("parameter %s cast as %q, want %q", name, match[1], want[name])
		}
	}
}

func TestEditLogAppendAfterConflict(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	key := freshKey(core.KindPage)

	first, err := store.Append(ctx, key, 1, "u1", json.RawMessage(`{"insert":"a"}`))
	if err != nil {
		t.Fatalf("Append v1 failed: %v", err)
	}
	if first.Version != 1 || first.CreatedAt.IsZero() {
		t.Errorf("unexpected record: %+v", first)
	}
	if _, err := store.Append(ctx, key, 1, "u2", json.RawMessage(`{"insert":"b"}`)); !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("expected version conflict for duplicate v1, got %v", err)
	}
	if _, err := store.Append(ctx, key, 2, "u2", json.RawMessage(`{"insert":"b"}`)); err != nil {
		t.Fatalf("Append v2 failed: %v", err)
	}

	history, err := store.History(ctx, key, 0, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[1].AuthorID != "u2" {
		t.Errorf("unexpected history: %+v", history)
	}
	limited, err := store.History(ctx, key, 0, 1)
	if err != nil || len(limited) != 1 || limited[0].Version != 1 {
		t.Errorf("expected only version 1 with limit, got %+v, %v", limited, err)
	}
}

func TestEditLogConcurrentOneWinner(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	key := freshKey(core.KindTask)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Append(ctx, key, 1, "u1", json.RawMessage(`{}`)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
}

func TestToggleReaction(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	key := freshKey(core.KindPage)

	comment, err := store.AddComment(ctx, core.Comment{WorkspaceID: "w1", Key: key, UserID: "u1", Content: "hi"})
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}

	reaction := core.Reaction{WorkspaceID: "w1", Key: key, UserID: "u1", CommentID: comment.ID, ReactionType: "wow"}
	if _, removed, err := store.ToggleReaction(ctx, reaction); err != nil || removed {
		t.Fatalf("expected add, removed=%v err=%v", removed, err)
	}
	if _, removed, err := store.ToggleReaction(ctx, reaction); err != nil || !removed {
		t.Fatalf("expected removal, removed=%v err=%v", removed, err)
	}
}

func TestDirectoryNotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if _, err := store.PageWorkspace(ctx, "missing-"+ulid.Make().String()); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.MemberRole(ctx, "w-missing", "u-missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
