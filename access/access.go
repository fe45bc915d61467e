// Package access decides whether a user may join a resource's room.
package access

import (
	"context"
	"errors"
	"fmt"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// KindChecker answers access questions for one resource kind.
type KindChecker interface {
	CanAccess(ctx context.Context, user core.UserIdentity, workspaceID, resourceID string, mode core.Mode) (bool, error)
}

// Checker dispatches on the resource kind of the target.
type Checker struct {
	kinds map[core.ResourceKind]KindChecker
}

// NewChecker wires the page, database and task checkers against dir.
func NewChecker(dir core.Directory) *Checker {
	return &Checker{kinds: map[core.ResourceKind]KindChecker{
		core.KindPage:     &workspaceChecker{kind: core.KindPage, owner: dir.PageWorkspace, members: dir},
		core.KindDatabase: &workspaceChecker{kind: core.KindDatabase, owner: dir.DatabaseWorkspace, members: dir},
		core.KindTask:     &workspaceChecker{kind: core.KindTask, owner: dir.TaskWorkspace, members: dir},
	}}
}

// Register replaces the checker used for kind.
func (c *Checker) Register(kind core.ResourceKind, checker KindChecker) {
	c.kinds[kind] = checker
}

func (c *Checker) CanAccess(ctx context.Context, user core.UserIdentity, target core.Target, mode core.Mode) (bool, error) {
	checker, ok := c.kinds[target.Key.Kind]
	if !ok {
		return false, nil
	}
	return checker.CanAccess(ctx, user, target.WorkspaceID, target.Key.ID, mode)
}

// workspaceChecker grants access to members of the workspace owning the
// resource. Edit requires a role above viewer.
type workspaceChecker struct {
	kind    core.ResourceKind
	owner   func(ctx context.Context, id string) (string, error)
	members interface {
		MemberRole(ctx context.Context, workspaceID, userID string) (string, error)
	}
}

func (w *workspaceChecker) CanAccess(ctx context.Context, user core.UserIdentity, workspaceID, resourceID string, mode core.Mode) (bool, error) {
	log := logrus.WithFields(logrus.Fields{
		"user_id":      user.ID,
		"workspace_id": workspaceID,
		"resource":     string(w.kind) + ":" + resourceID,
		"mode":         mode.String(),
	})

	owning, err := w.owner(ctx, resourceID)
	if errors.Is(err, core.ErrNotFound) {
		log.Debug("Resource not found")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve %s workspace: %w", w.kind, err)
	}
	if owning != workspaceID {
		log.WithField("owning_workspace", owning).Debug("Resource belongs to another workspace")
		return false, nil
	}

	role, err := w.members.MemberRole(ctx, workspaceID, user.ID)
	if errors.Is(err, core.ErrNotFound) {
		log.Debug("User is not a workspace member")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve membership: %w", err)
	}

	if mode == core.ModeEdit {
		return CanEdit(role), nil
	}
	return true, nil
}

func CanEdit(role string) bool {
	switch role {
	case RoleEditor, RoleAdmin, RoleOwner:
		return true
	default:
		return false
	}
}
