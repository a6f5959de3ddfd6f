package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/store"
)

func testWatcher(t *testing.T, root string) (*Watcher, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	statePath := filepath.Join(t.TempDir(), "vault.json")
	w := New([]string{root}, []string{".json"}, statePath, db, zap.NewNop())
	return w, db
}

func writeDoc(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// waitFor polls until check passes or the deadline expires. fsnotify
// delivery plus debounce makes exact timing unknowable.
func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestInitialScanLoadsExistingFiles(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, filepath.Join(root, "evt-1.json"),
		`{"id": "evt-1", "kind": "event", "starts_at": "2026-03-01T14:00:00Z"}`)
	writeDoc(t, filepath.Join(root, "notes.txt"), "not a document")

	w, db := testWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if _, err := db.GetDocument("evt-1"); err != nil {
		t.Errorf("initial scan missed evt-1: %v", err)
	}
	if n, _ := db.CountDocuments(); n != 1 {
		t.Errorf("documents = %d, want 1 (txt ignored)", n)
	}
}

func TestDetectsNewFile(t *testing.T) {
	root := t.TempDir()
	w, db := testWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeDoc(t, filepath.Join(root, "note-1.json"),
		`{"id": "note-1", "kind": "note", "starts_at": "2026-03-01T09:00:00Z"}`)

	waitFor(t, func() bool {
		_, err := db.GetDocument("note-1")
		return err == nil
	})
}

func TestRemovalDeletesDocument(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "evt-1.json")
	writeDoc(t, path, `{"id": "evt-1", "kind": "event", "starts_at": "2026-03-01T14:00:00Z"}`)

	w, db := testWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if _, err := db.GetDocument("evt-1"); err != nil {
		t.Fatalf("not loaded: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		n, _ := db.CountDocuments()
		return n == 0
	})
}

func TestReconcilesDeletionsAcrossRuns(t *testing.T) {
	root := t.TempDir()
	statePath := filepath.Join(t.TempDir(), "vault.json")
	path := filepath.Join(root, "evt-1.json")
	writeDoc(t, path, `{"id": "evt-1", "kind": "event", "starts_at": "2026-03-01T14:00:00Z"}`)

	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	first := New([]string{root}, []string{".json"}, statePath, db, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first.Stop()

	// Delete the file while no watcher is running, then start a fresh one
	// against the same state.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	second := New([]string{root}, []string{".json"}, statePath, db, zap.NewNop())
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer second.Stop()

	if n, _ := db.CountDocuments(); n != 0 {
		t.Errorf("documents = %d, want 0 after reconciliation", n)
	}
}

func TestMalformedFileSkipped(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, filepath.Join(root, "bad.json"), "{not json")
	writeDoc(t, filepath.Join(root, "no-id.json"), `{"kind": "note"}`)
	writeDoc(t, filepath.Join(root, "good.json"),
		`{"id": "ok", "kind": "note", "starts_at": "2026-03-01T09:00:00Z"}`)

	w, db := testWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if n, _ := db.CountDocuments(); n != 1 {
		t.Errorf("documents = %d, want only the good one", n)
	}
}
