package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"collab-server/core"
)

func (s *Store) User(ctx context.Context, userID string) (core.UserIdentity, error) {
	var email string
	var fullName sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT email, full_name FROM users WHERE id = ?", userID).Scan(&email, &fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return core.UserIdentity{}, fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return core.UserIdentity{}, fmt.Errorf("lookup user: %w", err)
	}

	name := fullName.String
	if name == "" {
		name = email
	}
	return core.UserIdentity{ID: userID, DisplayName: name}, nil
}

func (s *Store) PageWorkspace(ctx context.Context, pageID string) (string, error) {
	return s.workspaceOf(ctx, "SELECT workspace_id FROM pages WHERE id = ?", "page", pageID)
}

func (s *Store) DatabaseWorkspace(ctx context.Context, databaseID string) (string, error) {
	return s.workspaceOf(ctx, "SELECT workspace_id FROM databases WHERE id = ?", "database", databaseID)
}

func (s *Store) TaskWorkspace(ctx context.Context, taskID string) (string, error) {
	return s.workspaceOf(ctx,
		"SELECT b.workspace_id FROM tasks t JOIN task_boards b ON b.id = t.board_id WHERE t.id = ?",
		"task", taskID)
}

func (s *Store) MemberRole(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT role FROM workspace_members WHERE workspace_id = ? AND user_id = ?",
		workspaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("member %s of %s: %w", userID, workspaceID, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup member: %w", err)
	}
	return role, nil
}

func (s *Store) workspaceOf(ctx context.Context, query, what, id string) (string, error) {
	var workspaceID string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %s: %w", what, id, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", what, err)
	}
	return workspaceID, nil
}
