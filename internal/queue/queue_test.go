package queue

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/config"
)

func testQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()
	cfg := config.Default().Queue
	q := New("", &cfg, zap.NewNop())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, &now
}

func persistentQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.json")
	cfg := config.Default().Queue
	return New(path, &cfg, zap.NewNop()), path
}

func TestEnqueueNext(t *testing.T) {
	q, _ := testQueue(t)
	q.Enqueue("a", 0)
	q.Enqueue("b", 0)

	got := q.Next(10)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Next = %v", got)
	}
	// Claimed items are not handed out twice.
	if again := q.Next(10); len(again) != 0 {
		t.Errorf("second Next = %v, want empty", again)
	}
}

func TestPriorityOrdering(t *testing.T) {
	q, now := testQueue(t)
	q.Enqueue("bulk", -1)
	*now = now.Add(time.Second)
	q.Enqueue("normal", 0)
	*now = now.Add(time.Second)
	q.Enqueue("urgent", 5)

	got := q.Next(10)
	want := []string{"urgent", "normal", "bulk"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	q, now := testQueue(t)
	q.Enqueue("first", 0)
	*now = now.Add(time.Second)
	q.Enqueue("second", 0)

	got := q.Next(1)
	if !reflect.DeepEqual(got, []string{"first"}) {
		t.Errorf("Next = %v, want oldest first", got)
	}
}

func TestEnqueueWhileQueuedBumpsPriorityOnly(t *testing.T) {
	q, _ := testQueue(t)
	q.Enqueue("a", 0)
	q.Enqueue("a", 3)

	items := q.Items()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Priority != 3 {
		t.Errorf("priority = %d, want bumped to 3", items[0].Priority)
	}

	// Lower priority never demotes.
	q.Enqueue("a", -1)
	if got := q.Items()[0].Priority; got != 3 {
		t.Errorf("priority = %d after lower re-enqueue, want 3", got)
	}
}

func TestEnqueueWhileProcessingIsNoop(t *testing.T) {
	q, _ := testQueue(t)
	q.Enqueue("a", 0)
	q.Next(1)

	q.Enqueue("a", 0)
	items := q.Items()
	if items[0].Status != StatusProcessing {
		t.Errorf("status = %s, want still processing", items[0].Status)
	}
}

func TestCompleteThenReenqueue(t *testing.T) {
	q, _ := testQueue(t)
	q.Enqueue("a", 0)
	q.Next(1)
	q.Complete("a")

	if got := q.Items()[0].Status; got != StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}

	// A completed document can go around again.
	q.Enqueue("a", 0)
	if got := q.Next(1); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Next after re-enqueue = %v", got)
	}
}

func TestTransientFailureBacksOff(t *testing.T) {
	q, now := testQueue(t)
	q.Enqueue("a", 0)
	q.Next(1)
	q.Fail("a", "connection refused", false)

	item := q.Items()[0]
	if item.Status != StatusFailed || item.Terminal {
		t.Fatalf("item = %+v, want transient failed", item)
	}
	if item.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", item.Attempts)
	}

	// Not eligible before the backoff elapses.
	if got := q.Next(1); len(got) != 0 {
		t.Errorf("Next before backoff = %v", got)
	}

	*now = now.Add(31 * time.Second) // base backoff is 30s
	if got := q.Next(1); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Next after backoff = %v", got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	q, _ := testQueue(t)

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{5, 480 * time.Second},
		{20, 1800 * time.Second}, // cap
	}
	for _, c := range cases {
		if got := q.backoff(c.attempts); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestPermanentFailureIsTerminal(t *testing.T) {
	q, now := testQueue(t)
	q.Enqueue("a", 0)
	q.Next(1)
	q.Fail("a", "document missing", true)

	item := q.Items()[0]
	if !item.Terminal {
		t.Fatalf("item = %+v, want terminal", item)
	}

	// Never eligible again, no matter how long we wait.
	*now = now.Add(24 * time.Hour)
	if got := q.Next(1); len(got) != 0 {
		t.Errorf("terminal item dequeued: %v", got)
	}

	// Plain Enqueue does not resurrect it.
	q.Enqueue("a", 0)
	if got := q.Items()[0]; !got.Terminal {
		t.Error("Enqueue resurrected a terminal item")
	}

	// Requeue, the operator path, does.
	q.Requeue("a")
	if got := q.Next(1); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Next after Requeue = %v", got)
	}
}

func TestRetryLimitBecomesTerminal(t *testing.T) {
	q, now := testQueue(t)
	q.Enqueue("a", 0)

	for i := 0; i < 5; i++ { // retry limit is 5
		*now = now.Add(time.Hour)
		got := q.Next(1)
		if len(got) != 1 {
			t.Fatalf("attempt %d: Next = %v", i+1, got)
		}
		q.Fail("a", "flaky", false)
	}

	item := q.Items()[0]
	if !item.Terminal {
		t.Errorf("item after %d attempts = %+v, want terminal", item.Attempts, item)
	}
}

func TestSweepStale(t *testing.T) {
	q, now := testQueue(t)
	q.Enqueue("stuck", 0)
	q.Enqueue("fresh", 0)
	q.Next(2)

	// Only items past the staleness timeout reset.
	if n := q.SweepStale(); n != 0 {
		t.Errorf("early sweep reset %d", n)
	}

	*now = now.Add(11 * time.Minute) // staleness timeout is 10min
	if n := q.SweepStale(); n != 2 {
		t.Errorf("sweep reset %d, want 2", n)
	}

	// The reset bumped UpdatedAt: an immediate second sweep finds nothing.
	if n := q.SweepStale(); n != 0 {
		t.Errorf("second sweep reset %d, want 0", n)
	}

	got := q.Next(10)
	if len(got) != 2 {
		t.Errorf("swept items not requeued: %v", got)
	}
}

func TestStats(t *testing.T) {
	q, now := testQueue(t)
	q.Enqueue("a", 0)
	*now = now.Add(time.Minute)
	q.Enqueue("b", 0)
	q.Next(1) // claims a
	q.Fail("a", "gone", true)

	s := q.Stats()
	if s.Counts[StatusQueued] != 1 || s.Counts[StatusFailed] != 1 {
		t.Errorf("counts = %v", s.Counts)
	}
	if s.Terminal != 1 {
		t.Errorf("terminal = %d, want 1", s.Terminal)
	}
	if s.OldestQueuedAge != 0 {
		// b enqueued at now, age 0
		t.Errorf("oldest queued age = %v", s.OldestQueuedAge)
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	q, path := persistentQueue(t)
	q.Enqueue("a", 2)
	q.Enqueue("b", 0)
	q.Next(1) // a goes processing
	q.Enqueue("c", 0)
	q.Next(1) // b or c
	q.Fail("b", "flaky", false)

	cfg := config.Default().Queue
	restored := New(path, &cfg, zap.NewNop())
	if err := restored.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	items := restored.Items()
	if len(items) != 3 {
		t.Fatalf("restored %d items, want 3", len(items))
	}
	for _, item := range items {
		// Processing items reset to queued: their claimant is gone.
		if item.Status == StatusProcessing {
			t.Errorf("item %s restored as processing", item.DocID)
		}
	}
}

func TestLoadMissingFileIsFirstRun(t *testing.T) {
	q, _ := persistentQueue(t)
	if err := q.Load(); err != nil {
		t.Fatalf("Load on fresh path: %v", err)
	}
	if len(q.Items()) != 0 {
		t.Error("fresh queue not empty")
	}
}

func TestLoadFallsBackToBackup(t *testing.T) {
	q, path := persistentQueue(t)
	q.Enqueue("a", 0)
	q.Enqueue("b", 0) // rotates the first snapshot to .bak

	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default().Queue
	restored := New(path, &cfg, zap.NewNop())
	if err := restored.Load(); err != nil {
		t.Fatalf("Load with backup available: %v", err)
	}
	// The .bak holds the state before the last transition: just "a".
	items := restored.Items()
	if len(items) != 1 || items[0].DocID != "a" {
		t.Errorf("restored from backup = %v", items)
	}
}

func TestLoadCorruptBothCopies(t *testing.T) {
	q, path := persistentQueue(t)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+".bak", []byte("also not json"), 0644); err != nil {
		t.Fatal(err)
	}

	err := q.Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestRebuild(t *testing.T) {
	q, path := persistentQueue(t)
	q.Rebuild([]string{"x", "y", "z"})

	items := q.Items()
	if len(items) != 3 {
		t.Fatalf("rebuilt %d items, want 3", len(items))
	}
	for _, item := range items {
		if item.Status != StatusQueued {
			t.Errorf("item %s status = %s", item.DocID, item.Status)
		}
	}

	// Rebuild persisted a fresh snapshot.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
}

func TestPersistErrorSurfacesInStats(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default().Queue
	// The snapshot's parent "directory" is a regular file, so every write fails.
	q := New(filepath.Join(blocker, "queue.json"), &cfg, zap.NewNop())
	q.Enqueue("a", 0)

	s := q.Stats()
	if s.PersistError == "" {
		t.Error("persist error not surfaced in stats")
	}
	// The in-memory queue stays authoritative.
	if got := q.Next(1); len(got) != 1 {
		t.Errorf("Next = %v", got)
	}
}
