package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a sql.DB connection to the weft SQLite database.
type DB struct {
	*sql.DB
	Path string

	listeners       []func(docID string)
	deleteListeners []func(docID string)
}

// DefaultDBPath returns the default database path: ~/.weft/weft.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".weft", "weft.db"), nil
}

// DefaultQueuePath returns the default queue snapshot path: ~/.weft/queue.json
func DefaultQueuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".weft", "queue.json"), nil
}

// DefaultWatchStatePath returns the default vault watcher state path:
// ~/.weft/vault.json
func DefaultWatchStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".weft", "vault.json"), nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each pooled connection to :memory: is a separate database; pin to one.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: ":memory:"}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// OnChange registers a callback fired after a document is created or updated.
// Callbacks run synchronously on PutDocument's goroutine; keep them cheap
// (the pipeline's callback just enqueues).
func (db *DB) OnChange(fn func(docID string)) {
	db.listeners = append(db.listeners, fn)
}

func (db *DB) notifyChange(docID string) {
	for _, fn := range db.listeners {
		fn(docID)
	}
}

// OnDelete registers a callback fired after a document is deleted. Same
// contract as OnChange: synchronous, keep it cheap.
func (db *DB) OnDelete(fn func(docID string)) {
	db.deleteListeners = append(db.deleteListeners, fn)
}

func (db *DB) notifyDelete(docID string) {
	for _, fn := range db.deleteListeners {
		fn(docID)
	}
}
