package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Store persists the edit log and comments, and reads the workspace
// directory tables owned by the CRUD service.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS collab_edits (
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		author_id TEXT NOT NULL,
		operation BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (resource_type, resource_id, version)
	);`,
	`CREATE TABLE IF NOT EXISTS collab_comments (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		parent_comment_id TEXT,
		position BLOB,
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS collab_reactions (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		comment_id TEXT NOT NULL DEFAULT '',
		reaction_type TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (user_id, resource_type, resource_id, comment_id, reaction_type)
	);`,
	// Directory tables belong to the CRUD service; created here so a
	// standalone deployment has something to read.
	`CREATE TABLE IF NOT EXISTS users (id TEXT PRIMARY KEY, email TEXT NOT NULL, full_name TEXT);`,
	`CREATE TABLE IF NOT EXISTS workspace_members (
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'editor',
		PRIMARY KEY (workspace_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS pages (id TEXT PRIMARY KEY, workspace_id TEXT NOT NULL);`,
	`CREATE TABLE IF NOT EXISTS databases (id TEXT PRIMARY KEY, workspace_id TEXT NOT NULL);`,
	`CREATE TABLE IF NOT EXISTS task_boards (id TEXT PRIMARY KEY, workspace_id TEXT NOT NULL);`,
	`CREATE TABLE IF NOT EXISTS tasks (id TEXT PRIMARY KEY, board_id TEXT NOT NULL);`,
}

func NewStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"driver":         driverName,
		"dataSourceName": dataSourceName,
	}).Debug("SQLite store ready")
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
