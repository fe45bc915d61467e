package collab

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle position of a session. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// flushTimeout bounds how long a closing session waits for queued
// messages to reach the socket.
const flushTimeout = 5 * time.Second

// Session is one live connection bound to a single resource.
type Session struct {
	info    core.Session
	canEdit bool
	conn    Conn
	log     *logrus.Entry

	state atomic.Int32

	// send is the outbound queue drained by writeLoop.
	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool
	done       chan struct{}

	cancel      context.CancelFunc
	closeMu     sync.Mutex
	closeCode   int
	closeReason string
}

func newSession(info core.Session, conn Conn, queueSize int, canEdit bool) *Session {
	s := &Session{
		info:    info,
		canEdit: canEdit,
		conn:    conn,
		send:    make(chan []byte, queueSize),
		done:    make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"session_id":   info.ID,
			"user_id":      info.User.ID,
			"resource":     info.Key.String(),
			"workspace_id": info.WorkspaceID,
		}),
	}
	s.state.Store(int32(StateAuthenticated))
	return s
}

func (s *Session) SessionID() string { return s.info.ID }

func (s *Session) State() State { return State(s.state.Load()) }

// advance moves to next if it is later than the current state.
func (s *Session) advance(next State) {
	for {
		cur := s.state.Load()
		if State(cur) >= next {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Deliver queues msg without blocking. A full queue marks the session
// as a slow consumer and closes it.
func (s *Session) Deliver(msg []byte) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		s.log.Warn("Send queue full, closing slow consumer")
		s.abort(ClosePolicyViolation, "slow consumer")
		return false
	}
}

// abort records the first close reason and stops the read loop.
func (s *Session) abort(code int, reason string) {
	s.closeMu.Lock()
	if s.closeCode == 0 {
		s.closeCode, s.closeReason = code, reason
	}
	s.closeMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) closeStatus() (int, string) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closeCode, s.closeReason
}

func (s *Session) writeLoop() {
	defer close(s.done)
	for msg := range s.send {
		if err := s.conn.WriteMessage(msg); err != nil {
			s.log.WithError(err).Debug("Write failed")
			s.abort(CloseNormal, "")
			// Keep draining until the queue is closed.
			for range s.send {
			}
			return
		}
	}
}

// shutdown closes the queue, flushes what is pending and closes the
// transport. Slow consumers are closed without flushing.
func (s *Session) shutdown() {
	s.sendMu.Lock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.send)
	}
	s.sendMu.Unlock()

	code, reason := s.closeStatus()
	if code == 0 {
		code = CloseNormal
	}
	if code != ClosePolicyViolation {
		select {
		case <-s.done:
		case <-time.After(flushTimeout):
			s.log.Warn("Timed out flushing send queue")
		}
	}
	if err := s.conn.Close(code, reason); err != nil {
		s.log.WithError(err).Debug("Close failed")
	}
	<-s.done
	s.advance(StateClosed)
}
