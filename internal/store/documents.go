package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Document kinds.
const (
	KindEvent       = "event"
	KindTransaction = "transaction"
	KindTask        = "task"
	KindNote        = "note"
	KindChat        = "chat"
)

// Document is a unit of personal data eligible for linking: a calendar
// event, a financial transaction, a task, a note, or a chat-derived record.
// ID is immutable once assigned; everything else may be updated.
type Document struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	Content      string   `json:"content,omitempty"`
	Location     string   `json:"location,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Amount       float64  `json:"amount,omitempty"`
	Merchant     string   `json:"merchant,omitempty"`
	AccountRef   string   `json:"account_ref,omitempty"`
	ExternalID   string   `json:"external_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	// Links is the document's outgoing-link set, populated on read.
	Links []Link `json:"links,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	Kind         string
	UpdatedAfter time.Time
	Limit        int
}

// PutDocument inserts or updates a document and fires change listeners.
// The outgoing-link set is owned by the links table and is not written here.
func (db *DB) PutDocument(doc *Document) error {
	if doc.ID == "" {
		return fmt.Errorf("put document: empty id")
	}
	now := time.Now()
	doc.UpdatedAt = now

	participants, err := json.Marshal(emptyIfNil(doc.Participants))
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	tags, err := json.Marshal(emptyIfNil(doc.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	var endsAt *int64
	if doc.EndsAt != nil {
		ms := doc.EndsAt.UnixMilli()
		endsAt = &ms
	}

	_, err = db.Exec(`
		INSERT INTO documents
			(id, kind, starts_at, ends_at, content, location, latitude, longitude,
			 participants, amount, merchant, account_ref, external_id, tags,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			content = excluded.content,
			location = excluded.location,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			participants = excluded.participants,
			amount = excluded.amount,
			merchant = excluded.merchant,
			account_ref = excluded.account_ref,
			external_id = excluded.external_id,
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Kind, doc.StartsAt.UnixMilli(), endsAt, doc.Content,
		doc.Location, doc.Latitude, doc.Longitude, string(participants),
		doc.Amount, doc.Merchant, doc.AccountRef, doc.ExternalID, string(tags),
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}

	db.notifyChange(doc.ID)
	return nil
}

// GetDocument returns a document with its outgoing links, or ErrNotFound.
func (db *DB) GetDocument(id string) (*Document, error) {
	row := db.QueryRow(`
		SELECT id, kind, starts_at, ends_at, content, location, latitude, longitude,
		       participants, amount, merchant, account_ref, external_id, tags,
		       created_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}

	links, err := db.LinksFrom(id)
	if err != nil {
		return nil, err
	}
	doc.Links = links
	return doc, nil
}

// ListDocuments returns documents matching the filter, ordered by starts_at.
// Outgoing links are not populated; use GetDocument for the full record.
func (db *DB) ListDocuments(filter DocumentFilter) ([]Document, error) {
	q := `
		SELECT id, kind, starts_at, ends_at, content, location, latitude, longitude,
		       participants, amount, merchant, account_ref, external_id, tags,
		       created_at, updated_at
		FROM documents WHERE 1=1`
	args := []any{}

	if filter.Kind != "" {
		q += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if !filter.UpdatedAfter.IsZero() {
		q += " AND updated_at > ?"
		args = append(args, filter.UpdatedAfter.UnixMilli())
	}
	q += " ORDER BY starts_at ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and fires delete listeners. Outgoing
// links cascade via the source_id FK; links targeting the document and open
// (pending or approved) suggestions referencing it are purged explicitly,
// since neither carries a target-side constraint. Rejected suggestions stay:
// their fingerprints keep suppressing re-suggestion.
func (db *DB) DeleteDocument(id string) error {
	result, err := db.Exec("DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	if _, err := db.Exec("DELETE FROM links WHERE target_id = ?", id); err != nil {
		return fmt.Errorf("purge links to %s: %w", id, err)
	}
	if _, err := db.Exec(`
		DELETE FROM suggestions
		WHERE (source_id = ? OR target_id = ?) AND status IN ('pending', 'approved')
	`, id, id); err != nil {
		return fmt.Errorf("purge suggestions for %s: %w", id, err)
	}

	db.notifyDelete(id)
	return nil
}

// CountDocuments returns the total document count.
func (db *DB) CountDocuments() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc                Document
		startsAt           int64
		endsAt             *int64
		participants, tags string
		createdAt, updated int64
	)
	err := row.Scan(&doc.ID, &doc.Kind, &startsAt, &endsAt, &doc.Content,
		&doc.Location, &doc.Latitude, &doc.Longitude, &participants,
		&doc.Amount, &doc.Merchant, &doc.AccountRef, &doc.ExternalID, &tags,
		&createdAt, &updated)
	if err != nil {
		return nil, err
	}

	doc.StartsAt = time.UnixMilli(startsAt)
	if endsAt != nil {
		t := time.UnixMilli(*endsAt)
		doc.EndsAt = &t
	}
	doc.CreatedAt = time.UnixMilli(createdAt)
	doc.UpdatedAt = time.UnixMilli(updated)

	if err := json.Unmarshal([]byte(participants), &doc.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return &doc, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
