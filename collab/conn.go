package collab

import "context"

// Close codes sent when the broker ends a connection.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseUnauthenticated = 4401
	CloseForbidden       = 4403
)

// Conn is the transport under a session. ReadMessage must return once
// ctx is done. WriteMessage is only called from one goroutine at a time.
// Close may be called concurrently with both.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}
