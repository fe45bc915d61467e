package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

func (s *Store) NextVersion(ctx context.Context, key core.ResourceKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.edits[key])) + 1, nil
}

func (s *Store) Append(ctx context.Context, key core.ResourceKey, version int64, authorID string, operation json.RawMessage) (core.EditRecord, error) {
	log := logrus.WithFields(logrus.Fields{
		"resource": key.String(),
		"version":  version,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	// Versions are dense, so the log length is the current max.
	current := int64(len(s.edits[key]))
	if version != current+1 {
		log.WithField("current", current).Warn("Rejected edit with stale version")
		return core.EditRecord{}, fmt.Errorf("append version %d after %d: %w", version, current, core.ErrVersionConflict)
	}

	record := core.EditRecord{
		Key:       key,
		Version:   version,
		AuthorID:  authorID,
		Operation: append(json.RawMessage(nil), operation...),
		CreatedAt: s.now().UTC(),
	}
	s.edits[key] = append(s.edits[key], record)
	log.Debug("Edit appended")
	return record, nil
}

func (s *Store) History(ctx context.Context, key core.ResourceKey, sinceVersion int64, limit int) ([]core.EditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.edits[key]
	if sinceVersion < 0 {
		sinceVersion = 0
	}
	if sinceVersion >= int64(len(log)) {
		return []core.EditRecord{}, nil
	}
	tail := log[sinceVersion:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	records := make([]core.EditRecord, len(tail))
	copy(records, tail)
	return records, nil
}
