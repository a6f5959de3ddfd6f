package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "documents: canonical personal records",
		SQL: `
CREATE TABLE documents (
    id             TEXT PRIMARY KEY,
    kind           TEXT NOT NULL CHECK (kind IN ('event', 'transaction', 'task', 'note', 'chat')),

    starts_at      INTEGER NOT NULL,
    ends_at        INTEGER,

    content        TEXT NOT NULL DEFAULT '',
    location       TEXT NOT NULL DEFAULT '',
    latitude       REAL,
    longitude      REAL,
    participants   TEXT NOT NULL DEFAULT '[]',
    amount         REAL NOT NULL DEFAULT 0,
    merchant       TEXT NOT NULL DEFAULT '',
    account_ref    TEXT NOT NULL DEFAULT '',
    external_id    TEXT NOT NULL DEFAULT '',
    tags           TEXT NOT NULL DEFAULT '[]',

    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX idx_documents_kind      ON documents(kind);
CREATE INDEX idx_documents_starts_at ON documents(starts_at);
`,
	},
	{
		Version:     2,
		Description: "links: applied relationships with justification",
		SQL: `
CREATE TABLE links (
    id             INTEGER PRIMARY KEY,
    source_id      TEXT NOT NULL,
    target_id      TEXT NOT NULL,
    rule           TEXT NOT NULL,
    fingerprint    TEXT NOT NULL,
    confidence     REAL NOT NULL,
    justification  TEXT NOT NULL,
    created_at     INTEGER NOT NULL,

    UNIQUE (source_id, target_id, fingerprint),
    FOREIGN KEY (source_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX idx_links_source ON links(source_id);
CREATE INDEX idx_links_target ON links(target_id);
`,
	},
	{
		Version:     3,
		Description: "suggestions: queued links pending review",
		SQL: `
CREATE TABLE suggestions (
    id             TEXT PRIMARY KEY,
    source_id      TEXT NOT NULL,
    target_id      TEXT NOT NULL,
    rule           TEXT NOT NULL,
    fingerprint    TEXT NOT NULL,
    confidence     REAL NOT NULL,
    justification  TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected', 'applied')),
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);

CREATE INDEX idx_suggestions_status ON suggestions(status);
CREATE INDEX idx_suggestions_source ON suggestions(source_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
