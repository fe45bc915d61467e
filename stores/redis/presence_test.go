package redis

import (
	"context"
	"testing"
	"time"

	"collab-server/core"

	"github.com/alicebob/miniredis/v2"
)

var page = core.ResourceKey{Kind: core.KindPage, ID: "p1"}

func setupTestRedis(t *testing.T) (*PresenceStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewPresenceStore("redis://"+s.Addr(), 10*time.Minute)
	if err != nil {
		t.Fatalf("failed to create presence store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, s
}

func session(id, user string, seen time.Time) core.Session {
	return core.Session{
		ID:          id,
		User:        core.UserIdentity{ID: user, DisplayName: "User " + user},
		Key:         page,
		WorkspaceID: "w1",
		JoinedAt:    seen,
		LastSeenAt:  seen,
	}
}

func TestNewPresenceStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewPresenceStoreBadURL(t *testing.T) {
	if _, err := NewPresenceStore("not-a-url", time.Minute); err == nil {
		t.Error("expected error for invalid redis url")
	}
}

func TestUpsertAndListActive(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Upsert(ctx, session("s1", "u1", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert(ctx, session("s2", "u2", now)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	entries, err := store.ListActive(ctx, page, 5*time.Minute)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].SessionID != "s2" {
		t.Errorf("expected most recent first, got %s", entries[0].SessionID)
	}
	if entries[1].DisplayName != "User u1" {
		t.Errorf("expected display name to round-trip, got %q", entries[1].DisplayName)
	}
}

func TestListActiveExcludesStale(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Upsert(ctx, session("fresh", "u1", now))
	_ = store.Upsert(ctx, session("stale", "u2", now.Add(-10*time.Minute)))

	entries, err := store.ListActive(ctx, page, 5*time.Minute)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "fresh" {
		t.Errorf("expected only fresh session, got %+v", entries)
	}
}

func TestRemove(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	_ = store.Upsert(ctx, session("s1", "u1", time.Now()))
	if err := store.Remove(ctx, page, "s1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := store.Remove(ctx, page, "s1"); err != nil {
		t.Errorf("second Remove failed: %v", err)
	}

	entries, err := store.ListActive(ctx, page, 5*time.Minute)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestResourceIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	other := core.ResourceKey{Kind: core.KindDatabase, ID: "p1"}

	_ = store.Upsert(ctx, session("s1", "u1", time.Now()))

	entries, err := store.ListActive(ctx, other, 5*time.Minute)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries for other resource, got %d", len(entries))
	}
}

func TestKeysExpireWhenIdle(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	_ = store.Upsert(ctx, session("s1", "u1", time.Now()))
	if !s.Exists("presence:page:p1") {
		t.Fatal("expected presence index key to exist")
	}

	s.FastForward(11 * time.Minute)

	if s.Exists("presence:page:p1") || s.Exists("presence:page:p1:sessions") {
		t.Error("expected presence keys to expire")
	}
}
