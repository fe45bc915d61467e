package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

func (s *Store) Upsert(ctx context.Context, session core.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	room, ok := s.presence[session.Key]
	if !ok {
		room = make(map[string]core.Session)
		s.presence[session.Key] = room
	}
	room[session.ID] = session
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id": session.ID,
		"resource":   session.Key.String(),
	}).Debug("Presence refreshed")
	return nil
}

func (s *Store) Remove(ctx context.Context, key core.ResourceKey, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.presence[key]
	if !ok {
		return nil
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(s.presence, key)
	}
	return nil
}

// ListActive filters out stale sessions without deleting them.
func (s *Store) ListActive(ctx context.Context, key core.ResourceKey, ttl time.Duration) ([]core.PresenceEntry, error) {
	cutoff := s.now().Add(-ttl)

	s.mu.RLock()
	entries := make([]core.PresenceEntry, 0, len(s.presence[key]))
	for _, session := range s.presence[key] {
		if session.LastSeenAt.Before(cutoff) {
			continue
		}
		entries = append(entries, session.Entry())
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSeenAt.Equal(entries[j].LastSeenAt) {
			return entries[i].SessionID < entries[j].SessionID
		}
		return entries[i].LastSeenAt.After(entries[j].LastSeenAt)
	})
	return entries, nil
}
