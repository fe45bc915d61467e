package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"collab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

func (s *Store) AddComment(ctx context.Context, comment core.Comment) (core.Comment, error) {
	if comment.Content == "" {
		return core.Comment{}, fmt.Errorf("comment content is required")
	}
	comment.ID = ulid.Make().String()

	var position []byte
	if len(comment.Position) > 0 {
		position = []byte(comment.Position)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO collab_comments (id, workspace_id, resource_type, resource_id, user_id, content, parent_comment_id, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, comment.ID, comment.WorkspaceID, string(comment.Key.Kind), comment.Key.ID, comment.UserID,
		comment.Content, nullable(comment.ParentID), position).Scan(&comment.CreatedAt)
	if err != nil {
		logrus.WithError(err).WithField("resource", comment.Key.String()).Error("Failed to create comment")
		return core.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	comment.CreatedAt = comment.CreatedAt.UTC()
	return comment, nil
}

func (s *Store) ToggleReaction(ctx context.Context, reaction core.Reaction) (core.Reaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Reaction{}, false, fmt.Errorf("begin reaction: %w", err)
	}
	defer tx.Rollback()

	existing := reaction
	err = tx.QueryRowContext(ctx, `
		DELETE FROM collab_reactions
		WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3 AND comment_id = $4 AND reaction_type = $5
		RETURNING id, created_at
	`, reaction.UserID, string(reaction.Key.Kind), reaction.Key.ID, reaction.CommentID, reaction.ReactionType,
	).Scan(&existing.ID, &existing.CreatedAt)

	switch {
	case err == nil:
		existing.CreatedAt = existing.CreatedAt.UTC()
		return existing, true, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return core.Reaction{}, false, fmt.Errorf("delete reaction: %w", err)
	}

	reaction.ID = ulid.Make().String()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO collab_reactions (id, workspace_id, resource_type, resource_id, user_id, comment_id, reaction_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, reaction.ID, reaction.WorkspaceID, string(reaction.Key.Kind), reaction.Key.ID, reaction.UserID,
		reaction.CommentID, reaction.ReactionType).Scan(&reaction.CreatedAt)
	if err != nil {
		return core.Reaction{}, false, fmt.Errorf("insert reaction: %w", err)
	}
	reaction.CreatedAt = reaction.CreatedAt.UTC()
	return reaction, false, tx.Commit()
}
