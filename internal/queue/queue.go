// Package queue implements the durable, prioritized work queue of documents
// awaiting link processing. It owns retry with backoff, stuck-item recovery,
// and crash-safe persistence of queue state.
package queue

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/config"
)

// Item statuses.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Item is one document's place in the queue. Status is owned exclusively by
// the queue; no other component mutates it.
type Item struct {
	DocID         string    `json:"doc_id"`
	Status        Status    `json:"status"`
	Priority      int       `json:"priority"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	Terminal      bool      `json:"terminal,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
}

// Queue is a concurrency-safe enhancement queue. Every status transition is
// persisted to the snapshot file before the mutating call returns.
type Queue struct {
	mu    sync.Mutex
	items map[string]*Item

	path string
	cfg  *config.QueueConfig
	log  *zap.Logger

	// now is swappable for tests.
	now func() time.Time

	persistErr error
}

// New creates a Queue persisting to path. Call Load to restore prior state.
func New(path string, cfg *config.QueueConfig, log *zap.Logger) *Queue {
	return &Queue{
		items: make(map[string]*Item),
		path:  path,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Enqueue adds a document to the queue. A document already queued or
// processing is left alone; completed or transiently-failed documents are
// re-enqueued with a fresh attempt budget. Terminally failed documents stay
// failed until an operator re-enqueues them explicitly via Requeue.
func (q *Queue) Enqueue(docID string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	item, ok := q.items[docID]
	if ok {
		switch item.Status {
		case StatusQueued, StatusProcessing:
			if priority > item.Priority {
				item.Priority = priority
				item.UpdatedAt = now
				q.persistLocked()
			}
			return
		case StatusFailed:
			if item.Terminal {
				return
			}
		}
	}

	q.items[docID] = &Item{
		DocID:      docID,
		Status:     StatusQueued,
		Priority:   priority,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	q.persistLocked()
}

// Requeue resets any item, including a terminally failed one, back to
// queued with a fresh attempt budget. Operator intervention path.
func (q *Queue) Requeue(docID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.items[docID] = &Item{
		DocID:      docID,
		Status:     StatusQueued,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	q.persistLocked()
}

// Next claims up to n eligible items, marking them processing. Eligible
// items are queued, or transiently failed with their backoff delay elapsed.
// Higher priority dequeues first; ties go to the oldest enqueue.
func (q *Queue) Next(n int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var eligible []*Item
	for _, item := range q.items {
		switch item.Status {
		case StatusQueued:
			if item.NextAttemptAt.IsZero() || !now.Before(item.NextAttemptAt) {
				eligible = append(eligible, item)
			}
		case StatusFailed:
			if !item.Terminal && !now.Before(item.NextAttemptAt) {
				eligible = append(eligible, item)
			}
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if !eligible[i].EnqueuedAt.Equal(eligible[j].EnqueuedAt) {
			return eligible[i].EnqueuedAt.Before(eligible[j].EnqueuedAt)
		}
		return eligible[i].DocID < eligible[j].DocID
	})

	if len(eligible) > n {
		eligible = eligible[:n]
	}

	ids := make([]string, 0, len(eligible))
	for _, item := range eligible {
		item.Status = StatusProcessing
		item.UpdatedAt = now
		ids = append(ids, item.DocID)
	}
	if len(ids) > 0 {
		q.persistLocked()
	}
	return ids
}

// Complete marks a processing item done.
func (q *Queue) Complete(docID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[docID]
	if !ok || item.Status != StatusProcessing {
		return
	}
	item.Status = StatusCompleted
	item.LastError = ""
	item.UpdatedAt = q.now()
	q.persistLocked()
}

// Fail records a processing failure. Permanent failures (missing document,
// invalid identifier) become terminal immediately; transient ones retry
// with exponential backoff until the retry limit, then become terminal.
func (q *Queue) Fail(docID string, errMsg string, permanent bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[docID]
	if !ok || item.Status != StatusProcessing {
		return
	}

	now := q.now()
	item.Status = StatusFailed
	item.Attempts++
	item.LastError = errMsg
	item.UpdatedAt = now

	if permanent || item.Attempts >= q.cfg.RetryLimit {
		item.Terminal = true
		q.log.Warn("queue item terminally failed",
			zap.String("doc", docID),
			zap.Int("attempts", item.Attempts),
			zap.Bool("permanent", permanent),
			zap.String("error", errMsg))
	} else {
		item.NextAttemptAt = now.Add(q.backoff(item.Attempts))
	}
	q.persistLocked()
}

// backoff returns the delay before attempt+1: base doubled per prior
// attempt, capped.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BackoffBase()
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.BackoffCap() {
			return q.cfg.BackoffCap()
		}
	}
	if limit := q.cfg.BackoffCap(); d > limit {
		d = limit
	}
	return d
}

// SweepStale resets items stuck in processing past the staleness timeout
// (orphaned by a crash mid-run) back to queued. The reset bumps UpdatedAt
// under the same lock that observed the staleness, so an item is reset at
// most once per staleness period even with concurrent sweeps. Returns the
// number of items reset.
func (q *Queue) SweepStale() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	cutoff := now.Add(-q.cfg.StalenessTimeout())
	reset := 0
	for _, item := range q.items {
		if item.Status == StatusProcessing && item.UpdatedAt.Before(cutoff) {
			item.Status = StatusQueued
			item.UpdatedAt = now
			item.NextAttemptAt = time.Time{}
			reset++
			q.log.Warn("reset orphaned queue item", zap.String("doc", item.DocID))
		}
	}
	if reset > 0 {
		q.persistLocked()
	}
	return reset
}

// Stats summarizes queue health for operators.
type Stats struct {
	Counts          map[Status]int `json:"counts"`
	Terminal        int            `json:"terminal_failed"`
	Stuck           int            `json:"stuck_processing"`
	OldestQueuedAge time.Duration  `json:"oldest_queued_age"`
	PersistError    string         `json:"persist_error,omitempty"`
}

// Stats returns counts by status, the oldest queued age, the stuck-item
// count, and any persistent snapshot-write failure.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	cutoff := now.Add(-q.cfg.StalenessTimeout())
	s := Stats{Counts: make(map[Status]int)}

	var oldest time.Time
	for _, item := range q.items {
		s.Counts[item.Status]++
		if item.Terminal {
			s.Terminal++
		}
		if item.Status == StatusProcessing && item.UpdatedAt.Before(cutoff) {
			s.Stuck++
		}
		if item.Status == StatusQueued && (oldest.IsZero() || item.EnqueuedAt.Before(oldest)) {
			oldest = item.EnqueuedAt
		}
	}
	if !oldest.IsZero() {
		s.OldestQueuedAge = now.Sub(oldest)
	}
	if q.persistErr != nil {
		s.PersistError = q.persistErr.Error()
	}
	return s
}

// Items returns a snapshot of all items, for inspection.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}
