// Package config provides configuration loading and defaults for weft.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all weft configuration. Components receive the sections they
// need by pointer at construction; there is no ambient global state.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Watch      WatchConfig      `yaml:"watch"`
	Linking    LinkingConfig    `yaml:"linking"`
	Queue      QueueConfig      `yaml:"queue"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database, the queue snapshot, and the
// vault watcher state.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	QueueFilePath  string `yaml:"queue_file_path"`
	WatchStatePath string `yaml:"watch_state_path"`
}

// WatchConfig holds vault watcher settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
}

// LinkingConfig holds rule and calibration settings.
type LinkingConfig struct {
	// TimeWindowMinutes maps document kind to the time-rule window.
	TimeWindowMinutes map[string]int `yaml:"time_window_minutes"`
	// TimeWeight scales time-rule confidence; proximity alone should not
	// clear the auto-apply threshold.
	TimeWeight float64 `yaml:"time_weight"`

	// EntitySimilarity is the fuzzy-match threshold for person/org names.
	EntitySimilarity float64 `yaml:"entity_similarity"`
	EntityWeight     float64 `yaml:"entity_weight"`

	// LocationRadiusKM bounds geographic proximity matches.
	LocationRadiusKM float64 `yaml:"location_radius_km"`

	CategoryWeight float64 `yaml:"category_weight"`

	// AccountConfidence is the fixed account-rule confidence, scaled down
	// when the account is shared by more than AccountAmbiguityLimit documents.
	AccountConfidence     float64 `yaml:"account_confidence"`
	AccountAmbiguityLimit int     `yaml:"account_ambiguity_limit"`

	// AutoApplyThreshold and ReviewThreshold split calibrated links into
	// auto-apply / queue-for-review / discard.
	AutoApplyThreshold float64 `yaml:"auto_apply_threshold"`
	ReviewThreshold    float64 `yaml:"review_threshold"`

	MaxLinksPerDocument  int `yaml:"max_links_per_document"`
	MaxCandidatesPerRule int `yaml:"max_candidates_per_rule"`

	RuleTimeoutSeconds int `yaml:"rule_timeout_seconds"`
}

// QueueConfig holds enhancement-queue settings.
type QueueConfig struct {
	Workers                 int `yaml:"workers"`
	BatchSize               int `yaml:"batch_size"`
	RetryLimit              int `yaml:"retry_limit"`
	BackoffBaseSeconds      int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds       int `yaml:"backoff_cap_seconds"`
	StalenessTimeoutSeconds int `yaml:"staleness_timeout_seconds"`
	SweepIntervalSeconds    int `yaml:"sweep_interval_seconds"`
	DrainIntervalSeconds    int `yaml:"drain_interval_seconds"`
}

// EnrichmentConfig holds the optional enrichment collaborator settings.
type EnrichmentConfig struct {
	Provider       string  `yaml:"provider"` // "anthropic", "ollama", "" (disabled)
	Model          string  `yaml:"model"`
	AnthropicKey   string  `yaml:"anthropic_key"`
	OllamaURL      string  `yaml:"ollama_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	// Confidence assigned to enrichment-proposed links; queue territory by
	// default so a model suggestion never auto-applies on its own.
	Confidence float64 `yaml:"confidence"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38338,
		},
		Storage: StorageConfig{
			DatabasePath:   "", // resolved at runtime via store.DefaultDBPath()
			QueueFilePath:  "",
			WatchStatePath: "",
		},
		Watch: WatchConfig{
			Extensions: []string{".json"},
		},
		Linking: LinkingConfig{
			TimeWindowMinutes: map[string]int{
				"event":       120,
				"transaction": 1440,
				"task":        720,
				"note":        720,
				"chat":        240,
			},
			TimeWeight:            0.7,
			EntitySimilarity:      0.82,
			EntityWeight:          0.75,
			LocationRadiusKM:      1.0,
			CategoryWeight:        0.7,
			AccountConfidence:     0.9,
			AccountAmbiguityLimit: 20,
			AutoApplyThreshold:    0.85,
			ReviewThreshold:       0.5,
			MaxLinksPerDocument:   12,
			MaxCandidatesPerRule:  10,
			RuleTimeoutSeconds:    10,
		},
		Queue: QueueConfig{
			Workers:                 4,
			BatchSize:               25,
			RetryLimit:              5,
			BackoffBaseSeconds:      30,
			BackoffCapSeconds:       1800,
			StalenessTimeoutSeconds: 600,
			SweepIntervalSeconds:    60,
			DrainIntervalSeconds:    15,
		},
		Enrichment: EnrichmentConfig{
			Provider:       "",
			TimeoutSeconds: 60,
			Confidence:     0.6,
		},
	}
}

// Load reads the YAML config at path, expands ~ in paths, and overlays it on
// the defaults. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return &cfg, nil
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath)
	cfg.Storage.QueueFilePath = expandPath(cfg.Storage.QueueFilePath)
	cfg.Storage.WatchStatePath = expandPath(cfg.Storage.WatchStatePath)
	for i, d := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(d)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Linking.ReviewThreshold > c.Linking.AutoApplyThreshold {
		return fmt.Errorf("review_threshold %.2f exceeds auto_apply_threshold %.2f",
			c.Linking.ReviewThreshold, c.Linking.AutoApplyThreshold)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be >= 1, got %d", c.Queue.Workers)
	}
	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("queue batch_size must be >= 1, got %d", c.Queue.BatchSize)
	}
	return nil
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// TimeWindow returns the time-rule window for a document kind, falling back
// to the note window when the kind has no entry.
func (l *LinkingConfig) TimeWindow(kind string) time.Duration {
	if m, ok := l.TimeWindowMinutes[kind]; ok && m > 0 {
		return time.Duration(m) * time.Minute
	}
	return time.Duration(l.TimeWindowMinutes["note"]) * time.Minute
}

// RuleTimeout returns the per-rule evaluation timeout.
func (l *LinkingConfig) RuleTimeout() time.Duration {
	return time.Duration(l.RuleTimeoutSeconds) * time.Second
}

// BackoffBase returns the retry backoff base delay.
func (q *QueueConfig) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseSeconds) * time.Second
}

// BackoffCap returns the maximum retry delay.
func (q *QueueConfig) BackoffCap() time.Duration {
	return time.Duration(q.BackoffCapSeconds) * time.Second
}

// StalenessTimeout returns how long an item may sit in processing before it
// is considered orphaned.
func (q *QueueConfig) StalenessTimeout() time.Duration {
	return time.Duration(q.StalenessTimeoutSeconds) * time.Second
}

// Timeout returns the enrichment call timeout.
func (e *EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Enabled reports whether an enrichment provider is configured.
func (e *EnrichmentConfig) Enabled() bool {
	return e.Provider != ""
}
