// Package enrich provides the optional external enrichment collaborator:
// an LLM-backed service that proposes tags and related documents. The
// pipeline treats it as best-effort; failure or timeout never blocks
// rule-based linking.
package enrich

import (
	"context"
	"fmt"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/store"
)

// Relation is an enrichment-proposed link to another document.
type Relation struct {
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
}

// Result is what enrichment may contribute for one document. All fields are
// optional.
type Result struct {
	Tags     []string   `json:"tags,omitempty"`
	Related  []Relation `json:"related,omitempty"`
	Summary  string     `json:"summary,omitempty"`
	Provider string     `json:"-"`
}

// Client is the interface for enrichment providers. Implementations must
// honor ctx cancellation; the caller wraps every call in a timeout.
type Client interface {
	Enrich(ctx context.Context, doc *store.Document) (*Result, error)
}

// NewClient creates an enrichment client from config. Returns (nil, nil)
// when no provider is configured; enrichment is entirely optional.
func NewClient(cfg config.EnrichmentConfig) (Client, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider: %q", cfg.Provider)
	}
}
