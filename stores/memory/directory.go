package memory

import (
	"context"
	"fmt"

	"collab-server/core"
)

// AddUser registers an account. Display name falls back to the email.
func (s *Store) AddUser(id, fullName, email string) {
	name := fullName
	if name == "" {
		name = email
	}
	s.mu.Lock()
	s.users[id] = core.UserIdentity{ID: id, DisplayName: name}
	s.mu.Unlock()
}

func (s *Store) AddMember(workspaceID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[workspaceID] == nil {
		s.members[workspaceID] = make(map[string]string)
	}
	s.members[workspaceID][userID] = role
}

func (s *Store) AddPage(pageID, workspaceID string) {
	s.mu.Lock()
	s.pages[pageID] = workspaceID
	s.mu.Unlock()
}

func (s *Store) AddDatabase(databaseID, workspaceID string) {
	s.mu.Lock()
	s.databases[databaseID] = workspaceID
	s.mu.Unlock()
}

func (s *Store) AddTask(taskID, boardID, workspaceID string) {
	s.mu.Lock()
	s.boards[boardID] = workspaceID
	s.tasks[taskID] = boardID
	s.mu.Unlock()
}

func (s *Store) User(ctx context.Context, userID string) (core.UserIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return core.UserIdentity{}, fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	return user, nil
}

func (s *Store) PageWorkspace(ctx context.Context, pageID string) (string, error) {
	return s.lookup(s.pages, "page", pageID)
}

func (s *Store) DatabaseWorkspace(ctx context.Context, databaseID string) (string, error) {
	return s.lookup(s.databases, "database", databaseID)
}

func (s *Store) TaskWorkspace(ctx context.Context, taskID string) (string, error) {
	boardID, err := s.lookup(s.tasks, "task", taskID)
	if err != nil {
		return "", err
	}
	return s.lookup(s.boards, "board", boardID)
}

func (s *Store) MemberRole(ctx context.Context, workspaceID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.members[workspaceID][userID]
	if !ok {
		return "", fmt.Errorf("member %s of %s: %w", userID, workspaceID, core.ErrNotFound)
	}
	return role, nil
}

func (s *Store) lookup(m map[string]string, what, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := m[id]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", what, id, core.ErrNotFound)
	}
	return v, nil
}
