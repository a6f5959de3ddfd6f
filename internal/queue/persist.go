package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrCorrupt is returned by Load when neither the snapshot nor its backup
// could be parsed. The caller rebuilds queue state from the document store
// instead of running with a corrupt file.
var ErrCorrupt = errors.New("queue snapshot corrupt")

type snapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Items   []Item    `json:"items"`
}

// persistLocked writes the snapshot with an atomic replace: marshal to a
// temp file, keep the previous snapshot as .bak, then rename into place.
// A crash mid-write leaves either the old file or the new one, never a
// torn mix. Write failures are recorded and surfaced via Stats; the
// in-memory queue stays authoritative until the next transition retries.
func (q *Queue) persistLocked() {
	if q.path == "" {
		return
	}
	if err := q.writeSnapshot(); err != nil {
		q.persistErr = err
		q.log.Error("persist queue snapshot", zap.Error(err))
		return
	}
	q.persistErr = nil
}

func (q *Queue) writeSnapshot() error {
	snap := snapshot{SavedAt: q.now(), Items: make([]Item, 0, len(q.items))}
	for _, item := range q.items {
		snap.Items = append(snap.Items, *item)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}

	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}

	if _, err := os.Stat(q.path); err == nil {
		if err := os.Rename(q.path, q.path+".bak"); err != nil {
			return fmt.Errorf("rotate backup: %w", err)
		}
	}
	if err := os.Rename(tmp, q.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load restores queue state from the snapshot file, falling back to the
// .bak copy when the primary is unreadable. Items that were processing at
// save time are reset to queued; the process that claimed them is gone.
// Returns ErrCorrupt when both copies exist but neither parses.
func (q *Queue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.path == "" {
		return nil
	}

	snap, err := readSnapshot(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // first run
		}
		q.log.Warn("queue snapshot unreadable, trying backup", zap.Error(err))
		snap, err = readSnapshot(q.path + ".bak")
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: no backup available", ErrCorrupt)
			}
			return fmt.Errorf("%w: backup also unreadable: %v", ErrCorrupt, err)
		}
	}

	now := q.now()
	q.items = make(map[string]*Item, len(snap.Items))
	for i := range snap.Items {
		item := snap.Items[i]
		if item.Status == StatusProcessing {
			item.Status = StatusQueued
			item.UpdatedAt = now
		}
		q.items[item.DocID] = &item
	}
	return nil
}

func readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// Rebuild replaces queue state with fresh queued items for the given
// document ids. Used when Load reports corruption: canonical document state
// wins over an unusable snapshot.
func (q *Queue) Rebuild(docIDs []string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.items = make(map[string]*Item, len(docIDs))
	for _, id := range docIDs {
		q.items[id] = &Item{
			DocID:      id,
			Status:     StatusQueued,
			EnqueuedAt: now,
			UpdatedAt:  now,
		}
	}
	q.persistLocked()
}
