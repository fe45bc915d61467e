package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collab-server/core"
)

// Client message types.
const (
	MsgCursorMove      = "cursor_move"
	MsgCursorPosition  = "cursor_position"
	MsgSelectionChange = "selection_change"
	MsgTypingStart     = "typing_start"
	MsgTypingStop      = "typing_stop"
	MsgContentChange   = "content_change"
	MsgSaveContent     = "save_content"
	MsgCommentAdd      = "comment_add"
	MsgReactionAdd     = "reaction_add"
	MsgPing            = "ping"
	MsgHistoryRequest  = "history_request"
)

// Server event types.
const (
	EventActiveUsers      = "active_users"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventCursorMoved      = "cursor_moved"
	EventSelectionChanged = "selection_changed"
	EventContentChanged   = "content_changed"
	EventContentSaved     = "content_saved"
	EventCommentAdded     = "comment_added"
	EventReactionAdded    = "reaction_added"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventPong             = "pong"
	EventHistory          = "history"
	EventError            = "error"
)

// Error codes carried by error events.
const (
	CodeMalformedMessage   = "malformed_message"
	CodeUnknownMessageType = "unknown_message_type"
	CodeVersionConflict    = "version_conflict"
	CodeStorageUnavailable = "storage_unavailable"
	CodeReadOnly           = "read_only"
)

// ephemeral maps relayed client messages to the event others receive.
var ephemeral = map[string]string{
	MsgCursorMove:      EventCursorMoved,
	MsgCursorPosition:  EventCursorMoved,
	MsgSelectionChange: EventSelectionChanged,
	MsgTypingStart:     EventTypingStart,
	MsgTypingStop:      EventTypingStop,
	MsgContentChange:   EventContentChanged,
}

var reactionTypes = map[string]bool{
	"like": true, "love": true, "laugh": true, "wow": true, "sad": true, "angry": true,
}

// reserved fields are always set by the server.
var reserved = []string{"type", "timestamp", "user_id", "user_name", "session_id"}

type inbound struct {
	Type   string
	Fields map[string]json.RawMessage
}

func parseInbound(data []byte) (inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return inbound{}, malformed("Invalid JSON")
	}

	var msgType string
	raw, ok := fields["type"]
	if !ok || json.Unmarshal(raw, &msgType) != nil || msgType == "" {
		return inbound{}, malformed("Message type is required")
	}
	delete(fields, "type")
	return inbound{Type: msgType, Fields: fields}, nil
}

// present reports whether name is set to something other than null.
func (m inbound) present(name string) bool {
	raw, ok := m.Fields[name]
	return ok && string(raw) != "null"
}

func (m inbound) stringField(name string) (string, error) {
	if !m.present(name) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(m.Fields[name], &s); err != nil {
		return "", malformed("Field %s must be a string", name)
	}
	return s, nil
}

// relayed copies the client's fields so peers see them unchanged.
func (m inbound) relayed() map[string]any {
	payload := make(map[string]any, len(m.Fields))
	for k, v := range m.Fields {
		payload[k] = v
	}
	for _, k := range reserved {
		delete(payload, k)
	}
	return payload
}

// encode builds the server envelope: the payload plus type and timestamp.
func encode(eventType string, payload map[string]any, now time.Time) []byte {
	msg := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = eventType
	msg["timestamp"] = now.UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(msg)
	if err != nil {
		// Client fields were validated by parseInbound.
		data, _ = json.Marshal(map[string]any{
			"type":      EventError,
			"code":      CodeMalformedMessage,
			"message":   "Unable to encode event",
			"timestamp": msg["timestamp"],
		})
	}
	return data
}

// clientError is a per-message failure reported back to the sender.
type clientError struct {
	code    string
	message string
	err     error
}

func (e *clientError) Error() string { return e.message }
func (e *clientError) Unwrap() error { return e.err }

func malformed(format string, args ...any) error {
	return &clientError{code: CodeMalformedMessage, message: fmt.Sprintf(format, args...), err: core.ErrMalformedMessage}
}

// errorPayload converts a dispatch error into the error event body.
func errorPayload(err error) map[string]any {
	var ce *clientError
	switch {
	case errors.As(err, &ce):
		return map[string]any{"code": ce.code, "message": ce.message}
	case errors.Is(err, core.ErrVersionConflict):
		return map[string]any{"code": CodeVersionConflict, "message": "Version conflict, please retry"}
	default:
		return map[string]any{"code": CodeStorageUnavailable, "message": "Storage unavailable"}
	}
}
