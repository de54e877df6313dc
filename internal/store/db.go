// Package store persists the development hub's conversations, messages, read
// state and operator presence in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Memory is the path that selects a throwaway in-memory hub database.
const Memory = ":memory:"

// DB is the hub's SQLite handle.
type DB struct {
	*sql.DB
}

// Open connects to the hub database at path, or to a private in-memory
// database when path is Memory. File databases run in WAL mode with a busy
// timeout so concurrent handlers queue instead of failing.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if path == Memory {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if path == Memory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return &DB{db}, nil
}
