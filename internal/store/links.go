package store

import (
	"fmt"
	"time"
)

// Link is an applied relationship from one document to another, carrying the
// rule that proposed it, its dedup fingerprint, and a human-readable
// justification.
type Link struct {
	ID            int64     `json:"-"`
	SourceID      string    `json:"source_id"`
	TargetID      string    `json:"target_id"`
	Rule          string    `json:"rule"`
	Fingerprint   string    `json:"fingerprint"`
	Confidence    float64   `json:"confidence"`
	Justification string    `json:"justification"`
	CreatedAt     time.Time `json:"created_at"`
}

// AppendLink records a link idempotently: the (source, target, fingerprint)
// unique constraint makes concurrent applications of the same link a single
// row, with no duplicate justification text. Returns true when a new link
// was written, false when it already existed.
func (db *DB) AppendLink(l *Link) (bool, error) {
	result, err := db.Exec(`
		INSERT INTO links (source_id, target_id, rule, fingerprint, confidence, justification, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, target_id, fingerprint) DO NOTHING
	`, l.SourceID, l.TargetID, l.Rule, l.Fingerprint, l.Confidence,
		l.Justification, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("append link %s -> %s: %w", l.SourceID, l.TargetID, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// LinksFrom returns the outgoing-link set of a document.
func (db *DB) LinksFrom(sourceID string) ([]Link, error) {
	rows, err := db.Query(`
		SELECT id, source_id, target_id, rule, fingerprint, confidence, justification, created_at
		FROM links WHERE source_id = ? ORDER BY created_at ASC
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("links from %s: %w", sourceID, err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.Rule,
			&l.Fingerprint, &l.Confidence, &l.Justification, &createdAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.CreatedAt = time.UnixMilli(createdAt)
		links = append(links, l)
	}
	return links, rows.Err()
}

// LinkFingerprints returns the set of fingerprints already applied for a
// source document. The calibrator checks this before emitting, preventing
// link growth across repeated runs.
func (db *DB) LinkFingerprints(sourceID string) (map[string]bool, error) {
	rows, err := db.Query("SELECT fingerprint FROM links WHERE source_id = ?", sourceID)
	if err != nil {
		return nil, fmt.Errorf("link fingerprints %s: %w", sourceID, err)
	}
	defer rows.Close()

	fps := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fps[fp] = true
	}
	return fps, rows.Err()
}

// CountLinks returns the total applied link count.
func (db *DB) CountLinks() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM links").Scan(&n)
	return n, err
}
