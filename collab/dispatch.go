package collab

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

func (b *Broker) dispatch(ctx context.Context, s *Session, data []byte) error {
	msg, err := parseInbound(data)
	if err != nil {
		return err
	}
	s.log.WithField("type", msg.Type).Debug("Dispatching message")

	if eventType, ok := ephemeral[msg.Type]; ok {
		b.rooms.Broadcast(s.info.Key, b.event(eventType, s, msg.relayed()), s.info.ID)
		return nil
	}

	switch msg.Type {
	case MsgSaveContent:
		return b.saveContent(ctx, s, msg)
	case MsgCommentAdd:
		return b.addComment(ctx, s, msg)
	case MsgReactionAdd:
		return b.toggleReaction(ctx, s, msg)
	case MsgHistoryRequest:
		return b.history(ctx, s, msg)
	case MsgPing:
		s.Deliver(encode(EventPong, nil, b.now()))
		return nil
	default:
		return &clientError{code: CodeUnknownMessageType, message: "Unknown message type", err: core.ErrUnknownMessageType}
	}
}

// saveContent commits the operation under the resource's writer lock and
// confirms the version to the whole room, sender included.
func (b *Broker) saveContent(ctx context.Context, s *Session, msg inbound) error {
	if !s.canEdit {
		return &clientError{code: CodeReadOnly, message: "You have read-only access to this resource", err: core.ErrAccessDenied}
	}

	field := "operation"
	if !msg.present(field) {
		field = "content"
	}
	if !msg.present(field) {
		return malformed("Field operation is required")
	}
	operation := msg.Fields[field]

	unlock := b.writers.Lock(s.info.Key)
	record, err := b.appendWithRetry(ctx, s, operation)
	unlock()
	if err != nil {
		if !errors.Is(err, core.ErrVersionConflict) {
			s.log.WithError(err).Error("Failed to save content")
		}
		return err
	}

	b.rooms.Broadcast(s.info.Key, b.event(EventContentSaved, s, map[string]any{
		"version":   record.Version,
		"operation": record.Operation,
	}), "")
	return nil
}

func (b *Broker) appendWithRetry(ctx context.Context, s *Session, operation json.RawMessage) (core.EditRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.SaveAttempts; attempt++ {
		version, err := b.edits.NextVersion(ctx, s.info.Key)
		if err != nil {
			return core.EditRecord{}, err
		}
		record, err := b.edits.Append(ctx, s.info.Key, version, s.info.User.ID, operation)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) {
			return core.EditRecord{}, err
		}
		s.log.WithFields(logrus.Fields{"version": version, "attempt": attempt}).Warn("Version conflict, retrying")
		lastErr = err
	}
	return core.EditRecord{}, lastErr
}

func (b *Broker) addComment(ctx context.Context, s *Session, msg inbound) error {
	content, err := msg.stringField("content")
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return malformed("Field content is required")
	}
	parentID, err := msg.stringField("parent_comment_id")
	if err != nil {
		return err
	}

	comment := core.Comment{
		WorkspaceID: s.info.WorkspaceID,
		Key:         s.info.Key,
		UserID:      s.info.User.ID,
		Content:     content,
		ParentID:    parentID,
	}
	if msg.present("position") {
		comment.Position = msg.Fields["position"]
	}

	stored, err := b.comments.AddComment(ctx, comment)
	if err != nil {
		s.log.WithError(err).Error("Failed to add comment")
		return err
	}
	b.rooms.Broadcast(s.info.Key, b.event(EventCommentAdded, s, map[string]any{"comment": stored}), "")
	return nil
}

func (b *Broker) toggleReaction(ctx context.Context, s *Session, msg inbound) error {
	reactionType, err := msg.stringField("reaction_type")
	if err != nil {
		return err
	}
	if !reactionTypes[reactionType] {
		return malformed("Unsupported reaction type %q", reactionType)
	}
	commentID, err := msg.stringField("comment_id")
	if err != nil {
		return err
	}

	stored, removed, err := b.comments.ToggleReaction(ctx, core.Reaction{
		WorkspaceID:  s.info.WorkspaceID,
		Key:          s.info.Key,
		UserID:       s.info.User.ID,
		CommentID:    commentID,
		ReactionType: reactionType,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to toggle reaction")
		return err
	}
	b.rooms.Broadcast(s.info.Key, b.event(EventReactionAdded, s, map[string]any{
		"reaction": stored,
		"removed":  removed,
	}), "")
	return nil
}

// history replies to the sender only with edits after since_version, at most
// HistoryLimit per reply. has_more tells the client to ask again from the
// last version it received.
func (b *Broker) history(ctx context.Context, s *Session, msg inbound) error {
	var since int64
	if msg.present("since_version") {
		if err := json.Unmarshal(msg.Fields["since_version"], &since); err != nil || since < 0 {
			return malformed("Field since_version must be a non-negative integer")
		}
	}

	edits, err := b.edits.History(ctx, s.info.Key, since, b.cfg.HistoryLimit+1)
	if err != nil {
		s.log.WithError(err).Error("Failed to read history")
		return err
	}
	hasMore := len(edits) > b.cfg.HistoryLimit
	if hasMore {
		edits = edits[:b.cfg.HistoryLimit]
	}
	s.Deliver(encode(EventHistory, map[string]any{
		"since_version": since,
		"edits":         edits,
		"has_more":      hasMore,
	}, b.now()))
	return nil
}
