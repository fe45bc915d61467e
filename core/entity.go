package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ResourceKind tags the kind of resource a room is bound to.
type ResourceKind string

const (
	KindPage     ResourceKind = "page"
	KindDatabase ResourceKind = "database"
	KindTask     ResourceKind = "task"
)

// ParseResourceKind accepts only the three collaborative resource kinds.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch ResourceKind(s) {
	case KindPage, KindDatabase, KindTask:
		return ResourceKind(s), nil
	default:
		return "", fmt.Errorf("unknown resource type %q", s)
	}
}

// Mode is the access level requested from the access checker.
type Mode int

const (
	ModeView Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "view"
}

type (
	// ResourceKey identifies a room.
	ResourceKey struct {
		Kind ResourceKind
		ID   string
	}

	// Target is what a connection asks to join: a resource inside a workspace.
	Target struct {
		WorkspaceID string
		Key         ResourceKey
	}

	UserIdentity struct {
		ID          string `json:"user_id"`
		DisplayName string `json:"user_name"`
	}

	// Session is the presence row of one live connection.
	Session struct {
		ID          string
		User        UserIdentity
		Key         ResourceKey
		WorkspaceID string
		JoinedAt    time.Time
		LastSeenAt  time.Time
	}

	// PresenceEntry is the client-facing projection of a Session.
	PresenceEntry struct {
		UserID      string    `json:"user_id"`
		DisplayName string    `json:"user_name"`
		SessionID   string    `json:"session_id"`
		LastSeenAt  time.Time `json:"last_seen"`
	}

	EditRecord struct {
		Key       ResourceKey     `json:"-"`
		Version   int64           `json:"version"`
		AuthorID  string          `json:"author_id"`
		Operation json.RawMessage `json:"operation"`
		CreatedAt time.Time       `json:"created_at"`
	}

	Comment struct {
		ID          string          `json:"id"`
		WorkspaceID string          `json:"workspace_id"`
		Key         ResourceKey     `json:"-"`
		UserID      string          `json:"user_id"`
		Content     string          `json:"content"`
		ParentID    string          `json:"parent_comment_id,omitempty"`
		Position    json.RawMessage `json:"position,omitempty"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	Reaction struct {
		ID           string      `json:"id"`
		WorkspaceID  string      `json:"workspace_id"`
		Key          ResourceKey `json:"-"`
		UserID       string      `json:"user_id"`
		CommentID    string      `json:"comment_id,omitempty"`
		ReactionType string      `json:"reaction_type"`
		CreatedAt    time.Time   `json:"created_at"`
	}

	// PresenceStore keeps the active sessions of every resource.
	PresenceStore interface {
		// Upsert records or refreshes a session; LastSeenAt is taken from the session.
		Upsert(ctx context.Context, session Session) error
		// Remove is a no-op for unknown sessions.
		Remove(ctx context.Context, key ResourceKey, sessionID string) error
		// ListActive returns sessions seen within ttl, most recent first.
		ListActive(ctx context.Context, key ResourceKey, ttl time.Duration) ([]PresenceEntry, error)
	}

	// EditLog is the append-only, per-resource versioned operation history.
	EditLog interface {
		// NextVersion returns the highest committed version plus one.
		NextVersion(ctx context.Context, key ResourceKey) (int64, error)
		// Append fails with ErrVersionConflict unless version is exactly the current max plus one.
		Append(ctx context.Context, key ResourceKey, version int64, authorID string, operation json.RawMessage) (EditRecord, error)
		// History returns records with a version greater than sinceVersion in
		// ascending order, at most limit of them when limit is positive.
		History(ctx context.Context, key ResourceKey, sinceVersion int64, limit int) ([]EditRecord, error)
	}

	// Directory is the read-only view of the CRUD store needed by auth and access checks.
	Directory interface {
		User(ctx context.Context, userID string) (UserIdentity, error)
		PageWorkspace(ctx context.Context, pageID string) (string, error)
		DatabaseWorkspace(ctx context.Context, databaseID string) (string, error)
		// TaskWorkspace follows task -> board -> workspace.
		TaskWorkspace(ctx context.Context, taskID string) (string, error)
		// MemberRole returns ErrNotFound when the user is not a member.
		MemberRole(ctx context.Context, workspaceID, userID string) (string, error)
	}

	CommentStore interface {
		AddComment(ctx context.Context, comment Comment) (Comment, error)
		// ToggleReaction adds the reaction, or removes an identical existing one and reports removed=true.
		ToggleReaction(ctx context.Context, reaction Reaction) (stored Reaction, removed bool, err error)
	}

	Authenticator interface {
		Authenticate(ctx context.Context, credential string) (UserIdentity, error)
	}

	AccessChecker interface {
		CanAccess(ctx context.Context, user UserIdentity, target Target, mode Mode) (bool, error)
	}
)

func (k ResourceKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// Entry projects a session for clients.
func (s Session) Entry() PresenceEntry {
	return PresenceEntry{
		UserID:      s.User.ID,
		DisplayName: s.User.DisplayName,
		SessionID:   s.ID,
		LastSeenAt:  s.LastSeenAt,
	}
}
