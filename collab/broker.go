// Package collab implements the real-time collaboration broker: rooms of
// live sessions bound to a page, database or task, presence, and the
// versioned edit log fan-out.
package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"collab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type Config struct {
	PresenceTTL   time.Duration
	SendQueueSize int
	SaveAttempts  int
	HistoryLimit  int
}

func (c Config) withDefaults() Config {
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 5 * time.Minute
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.SaveAttempts <= 0 {
		c.SaveAttempts = 3
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
	return c
}

// Deps are the collaborators a Broker calls out to.
type Deps struct {
	Auth     core.Authenticator
	Access   core.AccessChecker
	Presence core.PresenceStore
	EditLog  core.EditLog
	Comments core.CommentStore
	Rooms    *Registry
}

type Broker struct {
	cfg      Config
	auth     core.Authenticator
	access   core.AccessChecker
	presence core.PresenceStore
	edits    core.EditLog
	comments core.CommentStore
	rooms    *Registry
	writers  keyedMutex
	sessions sync.WaitGroup
	now      func() time.Time
}

// JoinRequest is what a connection asks for when it is opened.
type JoinRequest struct {
	Credential string
	Target     core.Target
}

func NewBroker(cfg Config, deps Deps) *Broker {
	rooms := deps.Rooms
	if rooms == nil {
		rooms = NewRegistry()
	}
	return &Broker{
		cfg:      cfg.withDefaults(),
		auth:     deps.Auth,
		access:   deps.Access,
		presence: deps.Presence,
		edits:    deps.EditLog,
		comments: deps.Comments,
		rooms:    rooms,
		writers:  keyedMutex{locks: make(map[core.ResourceKey]*refMutex)},
		now:      time.Now,
	}
}

func (b *Broker) Rooms() *Registry { return b.rooms }

// Serve runs one connection until it closes. Credential and access are
// checked once, before the session joins its room. A rejected handshake
// closes conn and returns the reason; a session that ran returns nil.
func (b *Broker) Serve(ctx context.Context, conn Conn, req JoinRequest) error {
	log := logrus.WithFields(logrus.Fields{
		"resource":     req.Target.Key.String(),
		"workspace_id": req.Target.WorkspaceID,
	})

	user, err := b.auth.Authenticate(ctx, req.Credential)
	if err != nil {
		code, reason := CloseUnauthenticated, "unauthenticated"
		if !errors.Is(err, core.ErrInvalidCredential) {
			code, reason = CloseInternalError, "internal error"
		}
		log.WithError(err).Warn("Rejected unauthenticated connection")
		_ = conn.Close(code, reason)
		return err
	}
	log = log.WithField("user_id", user.ID)

	canView, err := b.access.CanAccess(ctx, user, req.Target, core.ModeView)
	if err == nil && !canView {
		err = core.ErrAccessDenied
	}
	var canEdit bool
	if err == nil {
		canEdit, err = b.access.CanAccess(ctx, user, req.Target, core.ModeEdit)
	}
	if err != nil {
		code, reason := CloseForbidden, "forbidden"
		if !errors.Is(err, core.ErrAccessDenied) {
			code, reason = CloseInternalError, "internal error"
			log.WithError(err).Error("Access check failed")
		} else {
			log.Warn("Rejected connection without access")
		}
		_ = conn.Close(code, reason)
		return err
	}

	now := b.now()
	info := core.Session{
		ID:          ulid.Make().String(),
		User:        user,
		Key:         req.Target.Key,
		WorkspaceID: req.Target.WorkspaceID,
		JoinedAt:    now,
		LastSeenAt:  now,
	}
	b.sessions.Add(1)
	defer b.sessions.Done()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newSession(info, conn, b.cfg.SendQueueSize, canEdit)
	s.cancel = cancel
	go s.writeLoop()

	b.join(sessCtx, s)
	b.receive(sessCtx, s)

	if ctx.Err() != nil {
		s.abort(CloseGoingAway, "server shutting down")
	}
	b.leave(ctx, s)
	s.shutdown()
	return nil
}

// Drain waits for running sessions to finish their cleanup.
func (b *Broker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) join(ctx context.Context, s *Session) {
	b.rooms.Join(s.info.Key, s)
	if err := b.presence.Upsert(ctx, s.info); err != nil {
		s.log.WithError(err).Error("Failed to record presence")
	}
	s.advance(StateJoined)
	s.log.WithField("can_edit", s.canEdit).Info("Session joined")

	b.rooms.Broadcast(s.info.Key, b.event(EventUserJoined, s, nil), s.info.ID)

	users, err := b.presence.ListActive(ctx, s.info.Key, b.cfg.PresenceTTL)
	if err != nil {
		s.log.WithError(err).Error("Failed to list active users")
		users = []core.PresenceEntry{s.info.Entry()}
	}
	s.Deliver(encode(EventActiveUsers, map[string]any{"users": users}, b.now()))
}

// leave runs unconditionally once the receive loop has ended.
func (b *Broker) leave(ctx context.Context, s *Session) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	b.rooms.Leave(s.info.Key, s.info.ID)
	if err := b.presence.Remove(cleanupCtx, s.info.Key, s.info.ID); err != nil {
		s.log.WithError(err).Error("Failed to remove presence")
	}
	b.rooms.Broadcast(s.info.Key, b.event(EventUserLeft, s, nil), s.info.ID)
	s.log.Info("Session left")
}

func (b *Broker) receive(ctx context.Context, s *Session) {
	for {
		data, err := s.conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.WithError(err).Debug("Connection closed by peer")
			}
			return
		}
		s.advance(StateActive)

		s.info.LastSeenAt = b.now()
		if err := b.presence.Upsert(ctx, s.info); err != nil {
			s.log.WithError(err).Warn("Failed to refresh presence")
		}

		if err := b.dispatch(ctx, s, data); err != nil {
			s.log.WithError(err).Debug("Message rejected")
			s.Deliver(encode(EventError, errorPayload(err), b.now()))
		}
	}
}

// event builds a server event attributed to s.
func (b *Broker) event(eventType string, s *Session, payload map[string]any) []byte {
	if payload == nil {
		payload = make(map[string]any, 3)
	}
	payload["user_id"] = s.info.User.ID
	payload["user_name"] = s.info.User.DisplayName
	payload["session_id"] = s.info.ID
	return encode(eventType, payload, b.now())
}

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes edit log writers per resource.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[core.ResourceKey]*refMutex
}

func (k *keyedMutex) Lock(key core.ResourceKey) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		if m.refs--; m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
