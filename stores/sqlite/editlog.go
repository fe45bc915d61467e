package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

func (s *Store) NextVersion(ctx context.Context, key core.ResourceKey) (int64, error) {
	var current int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM collab_edits WHERE resource_type = ? AND resource_id = ?",
		string(key.Kind), key.ID).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("read max version: %w", err)
	}
	return current + 1, nil
}

func (s *Store) Append(ctx context.Context, key core.ResourceKey, version int64, authorID string, operation json.RawMessage) (core.EditRecord, error) {
	log := logrus.WithFields(logrus.Fields{
		"resource": key.String(),
		"version":  version,
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.EditRecord{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM collab_edits WHERE resource_type = ? AND resource_id = ?",
		string(key.Kind), key.ID).Scan(&current)
	if err != nil {
		return core.EditRecord{}, fmt.Errorf("read max version: %w", err)
	}
	if version != current+1 {
		log.WithField("current", current).Warn("Rejected edit with stale version")
		return core.EditRecord{}, fmt.Errorf("append version %d after %d: %w", version, current, core.ErrVersionConflict)
	}

	record := core.EditRecord{
		Key:       key,
		Version:   version,
		AuthorID:  authorID,
		Operation: operation,
		CreatedAt: fromMillis(millis(s.now())),
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO collab_edits (resource_type, resource_id, version, author_id, operation, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		string(key.Kind), key.ID, version, authorID, []byte(operation), millis(record.CreatedAt))
	if isUniqueViolation(err) {
		return core.EditRecord{}, fmt.Errorf("append version %d: %w", version, core.ErrVersionConflict)
	}
	if err != nil {
		log.WithError(err).Error("Failed to append edit")
		return core.EditRecord{}, fmt.Errorf("insert edit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.EditRecord{}, fmt.Errorf("commit edit: %w", err)
	}

	log.Debug("Edit appended")
	return record, nil
}

func (s *Store) History(ctx context.Context, key core.ResourceKey, sinceVersion int64, limit int) ([]core.EditRecord, error) {
	// A negative LIMIT means no limit in SQLite.
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT version, author_id, operation, created_at FROM collab_edits WHERE resource_type = ? AND resource_id = ? AND version > ? ORDER BY version ASC LIMIT ?",
		string(key.Kind), key.ID, sinceVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close history rows")
		}
	}()

	records := []core.EditRecord{}
	for rows.Next() {
		var (
			record    core.EditRecord
			operation []byte
			createdAt int64
		)
		if err := rows.Scan(&record.Version, &record.AuthorID, &operation, &createdAt); err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		record.Key = key
		record.Operation = json.RawMessage(operation)
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	return records, rows.Err()
}
