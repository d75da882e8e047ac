// Package storage is the sqlite persistence layer: users, message bases,
// and door sessions. Door state and history are opaque serialized blobs;
// no schema assumptions beyond serializability.
package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrHandleTaken         = errors.New("handle already taken")
	ErrBaseNotFound        = errors.New("message base not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrDoorSessionNotFound = errors.New("door session not found")
)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory returns a fresh in-memory database for tests.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		handle TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_login_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS message_bases (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		base_id TEXT NOT NULL REFERENCES message_bases(id),
		author_id TEXT NOT NULL REFERENCES users(id),
		author_handle TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_messages_base_created ON messages(base_id, created_at);

	CREATE TABLE IF NOT EXISTS door_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		door_id TEXT NOT NULL,
		state TEXT NOT NULL,
		history TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, door_id)
	);

	INSERT OR IGNORE INTO message_bases (id, name, description) VALUES
		('general', 'General', 'Anything goes'),
		('tech', 'Tech', 'Hardware, software, modems'),
		('trade', 'Trading Post', 'Buy, sell, swap');
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
