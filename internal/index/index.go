// Package index maintains in-memory entity and time indices over the
// document corpus. It answers "which documents share entity X" and "which
// documents fall within a window of time T" without scanning the corpus.
package index

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/store"
)

// EntityType classifies a normalized entity value.
type EntityType string

const (
	Person     EntityType = "person"
	Org        EntityType = "org"
	Location   EntityType = "location"
	Tag        EntityType = "tag"
	Identifier EntityType = "identifier"
	Account    EntityType = "account"
)

// Entity is a normalized reference value used for matching.
type Entity struct {
	Type  EntityType
	Value string
}

type timelineEntry struct {
	at time.Time
	id string
}

// Position is a document's geographic coordinate, when known.
type Position struct {
	ID  string
	Lat float64
	Lon float64
}

// Index is the principal shared mutable structure of the pipeline. Updates
// are serialized per call; reads proceed concurrently under the read lock.
type Index struct {
	mu       sync.RWMutex
	entities map[Entity]map[string]bool
	byDoc    map[string][]Entity // reverse map for O(per-doc) removal
	timeline []timelineEntry     // sorted by at, then id
	docs     map[string]store.Document

	log *zap.Logger
}

// New creates an empty Index.
func New(log *zap.Logger) *Index {
	return &Index{
		entities: make(map[Entity]map[string]bool),
		byDoc:    make(map[string][]Entity),
		docs:     make(map[string]store.Document),
		log:      log,
	}
}

// Put indexes a document, replacing any previous contribution from the same
// id. Extraction errors on a single field are logged and skipped; one
// malformed field never aborts indexing of the whole document.
func (ix *Index) Put(doc *store.Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(doc.ID)

	entities := extractEntities(doc, ix.log)
	for _, e := range entities {
		set, ok := ix.entities[e]
		if !ok {
			set = make(map[string]bool)
			ix.entities[e] = set
		}
		set[doc.ID] = true
	}
	ix.byDoc[doc.ID] = entities

	ix.insertTimelineLocked(timelineEntry{at: doc.StartsAt, id: doc.ID})

	snapshot := *doc
	ix.docs[doc.ID] = snapshot
}

// Remove drops all index entries attributed to the document. Cost is
// proportional to the number of entities previously indexed for it.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Index) removeLocked(id string) {
	entities, ok := ix.byDoc[id]
	if !ok {
		return
	}
	for _, e := range entities {
		if set := ix.entities[e]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.entities, e)
			}
		}
	}
	delete(ix.byDoc, id)

	if doc, ok := ix.docs[id]; ok {
		ix.removeTimelineLocked(doc.StartsAt, id)
		delete(ix.docs, id)
	}
}

func (ix *Index) insertTimelineLocked(e timelineEntry) {
	i := sort.Search(len(ix.timeline), func(i int) bool {
		return !ix.timeline[i].at.Before(e.at)
	})
	ix.timeline = append(ix.timeline, timelineEntry{})
	copy(ix.timeline[i+1:], ix.timeline[i:])
	ix.timeline[i] = e
}

func (ix *Index) removeTimelineLocked(at time.Time, id string) {
	i := sort.Search(len(ix.timeline), func(i int) bool {
		return !ix.timeline[i].at.Before(at)
	})
	for ; i < len(ix.timeline) && ix.timeline[i].at.Equal(at); i++ {
		if ix.timeline[i].id == id {
			ix.timeline = append(ix.timeline[:i], ix.timeline[i+1:]...)
			return
		}
	}
}

// FindByEntity returns the ids of documents sharing the normalized form of
// value, restricted to the given entity types.
func (ix *Index) FindByEntity(value string, types ...EntityType) []string {
	norm, err := Normalize(value)
	if err != nil || norm == "" {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, t := range types {
		for id := range ix.entities[Entity{Type: t, Value: norm}] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

// FindInWindow returns ids of documents whose start falls within
// [t-before, t+after], by binary search over the time-ordered sequence.
func (ix *Index) FindInWindow(t time.Time, before, after time.Duration) []string {
	lo := t.Add(-before)
	hi := t.Add(after)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	start := sort.Search(len(ix.timeline), func(i int) bool {
		return !ix.timeline[i].at.Before(lo)
	})

	var out []string
	for i := start; i < len(ix.timeline) && !ix.timeline[i].at.After(hi); i++ {
		out = append(out, ix.timeline[i].id)
	}
	return out
}

// Entities returns all distinct entity values of the given types. Rules use
// this for fuzzy scans over the (small) distinct-value space.
func (ix *Index) Entities(types ...EntityType) []Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	want := make(map[EntityType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	var out []Entity
	for e := range ix.entities {
		if want[e.Type] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Document returns the indexed snapshot of a document, if present.
func (ix *Index) Document(id string) (store.Document, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	doc, ok := ix.docs[id]
	return doc, ok
}

// EntityCount returns how many documents reference the normalized value
// under the given type. The account rule uses this to detect ambiguous
// accounts shared across many documents.
func (ix *Index) EntityCount(value string, t EntityType) int {
	norm, err := Normalize(value)
	if err != nil || norm == "" {
		return 0
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entities[Entity{Type: t, Value: norm}])
}

// Coordinates lists the ids and positions of documents carrying geographic
// coordinates. The location rule scans this (small) subset for proximity.
func (ix *Index) Coordinates() []Position {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []Position
	for id, doc := range ix.docs {
		if doc.Latitude != nil && doc.Longitude != nil {
			out = append(out, Position{ID: id, Lat: *doc.Latitude, Lon: *doc.Longitude})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byDoc)
}

// Refresh rebuilds the whole index from scratch. Used only for explicit
// recovery or first run; normal updates go through Put/Remove.
func (ix *Index) Refresh(docs []store.Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entities = make(map[Entity]map[string]bool)
	ix.byDoc = make(map[string][]Entity)
	ix.timeline = ix.timeline[:0]
	ix.docs = make(map[string]store.Document, len(docs))

	sorted := make([]store.Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartsAt.Before(sorted[j].StartsAt)
	})

	for i := range sorted {
		doc := sorted[i]
		entities := extractEntities(&doc, ix.log)
		for _, e := range entities {
			set, ok := ix.entities[e]
			if !ok {
				set = make(map[string]bool)
				ix.entities[e] = set
			}
			set[doc.ID] = true
		}
		ix.byDoc[doc.ID] = entities
		ix.timeline = append(ix.timeline, timelineEntry{at: doc.StartsAt, id: doc.ID})
		ix.docs[doc.ID] = doc
	}
}
