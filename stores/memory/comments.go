package memory

import (
	"context"
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
	comment.CreatedAt = s.now().UTC()

	s.mu.Lock()
	s.comments = append(s.comments, comment)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"comment_id": comment.ID,
		"resource":   comment.Key.String(),
	}).Info("Comment created successfully")
	return comment, nil
}

func (s *Store) ToggleReaction(ctx context.Context, reaction core.Reaction) (core.Reaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.reactions {
		if existing.UserID == reaction.UserID &&
			existing.Key == reaction.Key &&
			existing.CommentID == reaction.CommentID &&
			existing.ReactionType == reaction.ReactionType {
			s.reactions = append(s.reactions[:i], s.reactions[i+1:]...)
			return existing, true, nil
		}
	}

	reaction.ID = ulid.Make().String()
	reaction.CreatedAt = s.now().UTC()
	s.reactions = append(s.reactions, reaction)
	return reaction, false, nil
}
