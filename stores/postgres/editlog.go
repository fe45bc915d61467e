package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"collab-server/core"

	"github.com/sirupsen/logrus"
)

func (s *Store) NextVersion(ctx context.Context, key core.ResourceKey) (int64, error) {
	var current int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM collab_edits WHERE resource_type = $1 AND resource_id = $2`,
		string(key.Kind), key.ID).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("read max version: %w", err)
	}
	return current + 1, nil
}

// Every parameter carries a cast. INSERT ... SELECT does not type them from
// the target columns, and $3 - 1 alone deduces integer.
const appendEditSQL = `
	INSERT INTO collab_edits (resource_type, resource_id, version, author_id, operation)
	SELECT $1::text, $2::text, $3::bigint, $4::text, $5::jsonb
	WHERE (
		SELECT COALESCE(MAX(version), 0) FROM collab_edits
		WHERE resource_type = $1::text AND resource_id = $2::text
	) = $3::bigint - 1
	RETURNING created_at
`

// Append inserts only when version directly follows the stored maximum.
// Zero affected rows or a primary key collision both mean another writer
// got there first.
func (s *Store) Append(ctx context.Context, key core.ResourceKey, version int64, authorID string, operation json.RawMessage) (core.EditRecord, error) {
	log := logrus.WithFields(logrus.Fields{
		"resource": key.String(),
		"version":  version,
	})

	record := core.EditRecord{Key: key, Version: version, AuthorID: authorID, Operation: operation}
	err := s.db.QueryRowContext(ctx, appendEditSQL,
		string(key.Kind), key.ID, version, authorID, []byte(operation)).Scan(&record.CreatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		log.Warn("Rejected edit with stale version")
		return core.EditRecord{}, fmt.Errorf("append version %d: %w", version, core.ErrVersionConflict)
	case err != nil:
		log.WithError(err).Error("Failed to append edit")
		return core.EditRecord{}, fmt.Errorf("insert edit: %w", err)
	}

	record.CreatedAt = record.CreatedAt.UTC()
	log.Debug("Edit appended")
	return record, nil
}

func (s *Store) History(ctx context.Context, key core.ResourceKey, sinceVersion int64, limit int) ([]core.EditRecord, error) {
	// LIMIT NULL means no limit.
	var rowLimit sql.NullInt64
	if limit > 0 {
		rowLimit = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, author_id, operation, created_at
		FROM collab_edits
		WHERE resource_type = $1 AND resource_id = $2 AND version > $3
		ORDER BY version ASC
		LIMIT $4
	`, string(key.Kind), key.ID, sinceVersion, rowLimit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := []core.EditRecord{}
	for rows.Next() {
		var (
			record    core.EditRecord
			operation []byte
		)
		if err := rows.Scan(&record.Version, &record.AuthorID, &operation, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		record.Key = key
		record.Operation = json.RawMessage(operation)
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, record)
	}
	return records, rows.Err()
}
