package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Suggestion statuses.
const (
	SuggestionPending  = "pending"
	SuggestionApproved = "approved"
	SuggestionRejected = "rejected"
	SuggestionApplied  = "applied"
)

// ErrInvalidTransition is returned when a suggestion status change is not
// legal from its current state. Terminal states (rejected, applied) are
// immutable.
var ErrInvalidTransition = errors.New("invalid suggestion transition")

// Suggestion is a queued candidate link awaiting human review.
// Fingerprint holds the dedup fingerprints of every merged candidate,
// comma-separated, so a rejection suppresses all of them.
type Suggestion struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	TargetID      string    `json:"target_id"`
	Rule          string    `json:"rule"`
	Fingerprint   string    `json:"fingerprint"`
	Confidence    float64   `json:"confidence"`
	Justification string    `json:"justification"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Fingerprints returns the individual candidate fingerprints.
func (s *Suggestion) Fingerprints() []string {
	return strings.Split(s.Fingerprint, ",")
}

// RecordSuggestion persists a new pending suggestion. If an open (pending or
// approved) suggestion already exists for the same source, target, and
// fingerprint, it is left alone and its id returned.
func (db *DB) RecordSuggestion(s *Suggestion) (string, error) {
	var existing string
	err := db.QueryRow(`
		SELECT id FROM suggestions
		WHERE source_id = ? AND target_id = ? AND fingerprint = ?
		  AND status IN ('pending', 'approved')
	`, s.SourceID, s.TargetID, s.Fingerprint).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("check existing suggestion: %w", err)
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO suggestions
			(id, source_id, target_id, rule, fingerprint, confidence, justification, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
	`, s.ID, s.SourceID, s.TargetID, s.Rule, s.Fingerprint, s.Confidence,
		s.Justification, now, now)
	if err != nil {
		return "", fmt.Errorf("record suggestion: %w", err)
	}
	return s.ID, nil
}

// GetSuggestion returns a suggestion by id, or ErrNotFound.
func (db *DB) GetSuggestion(id string) (*Suggestion, error) {
	var s Suggestion
	var createdAt, updatedAt int64
	err := db.QueryRow(`
		SELECT id, source_id, target_id, rule, fingerprint, confidence, justification, status, created_at, updated_at
		FROM suggestions WHERE id = ?
	`, id).Scan(&s.ID, &s.SourceID, &s.TargetID, &s.Rule, &s.Fingerprint,
		&s.Confidence, &s.Justification, &s.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("suggestion %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion %s: %w", id, err)
	}
	s.CreatedAt = time.UnixMilli(createdAt)
	s.UpdatedAt = time.UnixMilli(updatedAt)
	return &s, nil
}

// ListSuggestions returns suggestions, optionally filtered by status,
// newest first.
func (db *DB) ListSuggestions(status string, limit int) ([]Suggestion, error) {
	q := `
		SELECT id, source_id, target_id, rule, fingerprint, confidence, justification, status, created_at, updated_at
		FROM suggestions`
	args := []any{}
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, status)
	}
	q += " ORDER BY created_at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var s Suggestion
		var createdAt, updatedAt int64
		if err := rows.Scan(&s.ID, &s.SourceID, &s.TargetID, &s.Rule,
			&s.Fingerprint, &s.Confidence, &s.Justification, &s.Status,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		s.CreatedAt = time.UnixMilli(createdAt)
		s.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ApproveSuggestion moves a suggestion from pending to approved.
func (db *DB) ApproveSuggestion(id string) error {
	return db.transition(id, SuggestionPending, SuggestionApproved)
}

// RejectSuggestion moves a suggestion from pending to rejected (terminal).
// Its fingerprints are excluded from future re-suggestion.
func (db *DB) RejectSuggestion(id string) error {
	return db.transition(id, SuggestionPending, SuggestionRejected)
}

// MarkSuggestionApplied moves a suggestion from approved to applied
// (terminal), after the link has been written.
func (db *DB) MarkSuggestionApplied(id string) error {
	return db.transition(id, SuggestionApproved, SuggestionApplied)
}

func (db *DB) transition(id, from, to string) error {
	result, err := db.Exec(`
		UPDATE suggestions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, time.Now().UnixMilli(), id, from)
	if err != nil {
		return fmt.Errorf("suggestion %s -> %s: %w", id, to, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Distinguish missing from a bad transition for the caller.
		if _, err := db.GetSuggestion(id); err != nil {
			return err
		}
		return fmt.Errorf("suggestion %s -> %s: %w", id, to, ErrInvalidTransition)
	}
	return nil
}

// RejectedFingerprints returns every fingerprint belonging to a rejected
// suggestion for the given source document. The calibrator suppresses these
// so a rejected link is never re-suggested.
func (db *DB) RejectedFingerprints(sourceID string) (map[string]bool, error) {
	rows, err := db.Query(`
		SELECT fingerprint FROM suggestions
		WHERE source_id = ? AND status = 'rejected'
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("rejected fingerprints %s: %w", sourceID, err)
	}
	defer rows.Close()

	fps := make(map[string]bool)
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		for _, fp := range strings.Split(joined, ",") {
			if fp != "" {
				fps[fp] = true
			}
		}
	}
	return fps, rows.Err()
}

// CountSuggestions returns counts by status.
func (db *DB) CountSuggestions() (map[string]int, error) {
	rows, err := db.Query("SELECT status, COUNT(*) FROM suggestions GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count suggestions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
