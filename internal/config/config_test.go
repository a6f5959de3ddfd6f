package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Linking.AutoApplyThreshold != 0.85 || cfg.Linking.ReviewThreshold != 0.5 {
		t.Errorf("thresholds = %v / %v", cfg.Linking.AutoApplyThreshold, cfg.Linking.ReviewThreshold)
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.RetryLimit != 5 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.Enrichment.Enabled() {
		t.Error("enrichment enabled by default")
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 38338 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.yaml")
	content := `
debug: true
server:
  port: 9000
linking:
  auto_apply_threshold: 0.9
queue:
  workers: 8
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Debug || cfg.Server.Port != 9000 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Linking.AutoApplyThreshold != 0.9 {
		t.Errorf("auto_apply_threshold = %v", cfg.Linking.AutoApplyThreshold)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("workers = %d", cfg.Queue.Workers)
	}
	// Untouched settings keep their defaults.
	if cfg.Queue.RetryLimit != 5 {
		t.Errorf("retry_limit = %d, want default 5", cfg.Queue.RetryLimit)
	}
}

func TestLoadRejectsInvalidThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.yaml")
	content := `
linking:
  review_threshold: 0.95
  auto_apply_threshold: 0.85
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("inverted thresholds accepted")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.yaml")
	if err := os.WriteFile(path, []byte("queue: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestTimeWindowByKind(t *testing.T) {
	l := Default().Linking

	cases := []struct {
		kind string
		want time.Duration
	}{
		{"event", 2 * time.Hour},
		{"transaction", 24 * time.Hour},
		{"task", 12 * time.Hour},
		{"chat", 4 * time.Hour},
		{"unknown-kind", 12 * time.Hour}, // falls back to the note window
	}
	for _, c := range cases {
		if got := l.TimeWindow(c.kind); got != c.want {
			t.Errorf("TimeWindow(%q) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	q := Default().Queue
	if q.BackoffBase() != 30*time.Second {
		t.Errorf("BackoffBase = %v", q.BackoffBase())
	}
	if q.BackoffCap() != 30*time.Minute {
		t.Errorf("BackoffCap = %v", q.BackoffCap())
	}
	if q.StalenessTimeout() != 10*time.Minute {
		t.Errorf("StalenessTimeout = %v", q.StalenessTimeout())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("expandPath = %q", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expandPath = %q", got)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	if got := cfg.ListenAddr(); got != "127.0.0.1:38338" {
		t.Errorf("ListenAddr = %q", got)
	}
}
