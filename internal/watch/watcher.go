// Package watch feeds the pipeline from a vault: directories of JSON
// document files. File changes land in the document store, whose change
// notification enqueues the document for linking.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/store"
)

const debounceDelay = 400 * time.Millisecond

// Watcher watches vault directories and upserts changed documents. The
// path-to-id map persists across runs so files removed while weft was not
// running still get their documents deleted.
type Watcher struct {
	roots      []string
	extensions []string
	statePath  string
	db         *store.DB
	log        *zap.Logger

	fsw      *fsnotify.Watcher
	mu       sync.Mutex
	timers   map[string]*time.Timer
	ids      map[string]string // file path -> document id
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Watcher over the given roots. extensions filters which
// files are loaded (empty matches nothing useful; callers pass [".json"]).
// statePath holds the persisted path-to-id map; empty disables persistence.
func New(roots, extensions []string, statePath string, db *store.DB, log *zap.Logger) *Watcher {
	return &Watcher{
		roots:      roots,
		extensions: extensions,
		statePath:  statePath,
		db:         db,
		log:        log,
		timers:     make(map[string]*time.Timer),
		ids:        make(map[string]string),
		done:       make(chan struct{}),
	}
}

// Start performs an initial scan of every root, reconciles against the
// previous run's state, then watches for changes until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	prior := w.loadState()
	for _, root := range w.roots {
		if err := w.addRoot(root); err != nil {
			fsw.Close()
			return err
		}
	}
	w.reconcile(prior)

	go w.run(ctx)
	return nil
}

// reconcile catches deletions the watcher missed: any path loaded on a
// previous run whose file is gone from disk gets its document deleted.
// Paths still present keep their mapping so a later remove event resolves
// to the right id even if the current scan failed to parse the file.
func (w *Watcher) reconcile(prior map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, id := range prior {
		if _, ok := w.ids[path]; ok {
			continue
		}
		if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
			w.ids[path] = id
			continue
		}
		if err := w.db.DeleteDocument(id); err != nil && !errors.Is(err, store.ErrNotFound) {
			w.log.Warn("remove vanished vault document",
				zap.String("doc", id), zap.String("path", path), zap.Error(err))
			continue
		}
		w.log.Info("vault document removed while not watching",
			zap.String("doc", id), zap.String("path", path))
	}
	w.saveStateLocked()
}

// loadState reads the persisted path-to-id map from a previous run.
// Missing or unreadable state means a first run: reconcile has nothing to
// check against.
func (w *Watcher) loadState() map[string]string {
	if w.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(w.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("read watcher state", zap.String("path", w.statePath), zap.Error(err))
		}
		return nil
	}
	var state map[string]string
	if err := json.Unmarshal(data, &state); err != nil {
		w.log.Warn("parse watcher state", zap.String("path", w.statePath), zap.Error(err))
		return nil
	}
	return state
}

// saveStateLocked writes w.ids to the state file. Caller holds w.mu.
func (w *Watcher) saveStateLocked() {
	if w.statePath == "" {
		return
	}
	data, err := json.MarshalIndent(w.ids, "", "  ")
	if err != nil {
		w.log.Warn("encode watcher state", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(w.statePath), 0o755); err != nil {
		w.log.Warn("create watcher state dir", zap.String("path", w.statePath), zap.Error(err))
		return
	}
	tmp := w.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		w.log.Warn("write watcher state", zap.String("path", tmp), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, w.statePath); err != nil {
		w.log.Warn("replace watcher state", zap.String("path", w.statePath), zap.Error(err))
	}
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
}

func (w *Watcher) addRoot(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		if w.matches(path) {
			w.load(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.log.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.log.Warn("watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
			return
		}
	}

	if !w.matches(ev.Name) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		w.debounceLoad(ev.Name)
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.removeByPath(ev.Name)
	}
}

func (w *Watcher) matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// debounceLoad coalesces rapid write bursts (editors save in several
// events) into one load per file.
func (w *Watcher) debounceLoad(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.load(path)
	})
}

func (w *Watcher) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn("read vault file", zap.String("path", path), zap.Error(err))
		return
	}

	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		w.log.Warn("parse vault file", zap.String("path", path), zap.Error(err))
		return
	}
	if doc.ID == "" || doc.Kind == "" {
		w.log.Warn("vault file missing id or kind", zap.String("path", path))
		return
	}

	if err := w.db.PutDocument(&doc); err != nil {
		w.log.Warn("store vault document", zap.String("path", path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.ids[path] = doc.ID
	w.saveStateLocked()
	w.mu.Unlock()

	w.log.Debug("vault document loaded", zap.String("path", path), zap.String("doc", doc.ID))
}

func (w *Watcher) removeByPath(path string) {
	w.mu.Lock()
	id, ok := w.ids[path]
	if ok {
		delete(w.ids, path)
		w.saveStateLocked()
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	if err := w.db.DeleteDocument(id); err != nil {
		w.log.Warn("remove vault document", zap.String("doc", id), zap.Error(err))
		return
	}
	w.log.Info("vault document removed", zap.String("doc", id))
}
