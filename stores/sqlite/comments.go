package sqlite

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
	comment.CreatedAt = fromMillis(millis(s.now()))

	log := logrus.WithFields(logrus.Fields{
		"comment_id": comment.ID,
		"resource":   comment.Key.String(),
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO collab_comments (id, workspace_id, resource_type, resource_id, user_id, content, parent_comment_id, position, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		comment.ID, comment.WorkspaceID, string(comment.Key.Kind), comment.Key.ID, comment.UserID,
		comment.Content, nullable(comment.ParentID), []byte(comment.Position), millis(comment.CreatedAt))
	if err != nil {
		log.WithError(err).Error("Failed to create comment")
		return core.Comment{}, fmt.Errorf("insert comment: %w", err)
	}

	log.Info("Comment created successfully")
	return comment, nil
}

func (s *Store) ToggleReaction(ctx context.Context, reaction core.Reaction) (core.Reaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Reaction{}, false, fmt.Errorf("begin reaction: %w", err)
	}
	defer tx.Rollback()

	var (
		existing  = reaction
		createdAt int64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, created_at FROM collab_reactions WHERE user_id = ? AND resource_type = ? AND resource_id = ? AND comment_id = ? AND reaction_type = ?",
		reaction.UserID, string(reaction.Key.Kind), reaction.Key.ID, reaction.CommentID, reaction.ReactionType,
	).Scan(&existing.ID, &createdAt)

	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, "DELETE FROM collab_reactions WHERE id = ?", existing.ID); err != nil {
			return core.Reaction{}, false, fmt.Errorf("delete reaction: %w", err)
		}
		existing.CreatedAt = fromMillis(createdAt)
		return existing, true, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return core.Reaction{}, false, fmt.Errorf("lookup reaction: %w", err)
	}

	reaction.ID = ulid.Make().String()
	reaction.CreatedAt = fromMillis(millis(s.now()))
	_, err = tx.ExecContext(ctx,
		"INSERT INTO collab_reactions (id, workspace_id, resource_type, resource_id, user_id, comment_id, reaction_type, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		reaction.ID, reaction.WorkspaceID, string(reaction.Key.Kind), reaction.Key.ID, reaction.UserID,
		reaction.CommentID, reaction.ReactionType, millis(reaction.CreatedAt))
	if err != nil {
		return core.Reaction{}, false, fmt.Errorf("insert reaction: %w", err)
	}
	return reaction, false, tx.Commit()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
