package enrich

import (
	"strings"
	"testing"
	"time"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/store"
)

func TestNewClientDisabled(t *testing.T) {
	c, err := NewClient(config.EnrichmentConfig{Provider: ""})
	if err != nil {
		t.Fatalf("disabled provider: %v", err)
	}
	if c != nil {
		t.Error("disabled provider returned a client")
	}
}

func TestNewClientAnthropicRequiresKey(t *testing.T) {
	if _, err := NewClient(config.EnrichmentConfig{Provider: "anthropic"}); err == nil {
		t.Error("anthropic without key accepted")
	}
	c, err := NewClient(config.EnrichmentConfig{Provider: "anthropic", AnthropicKey: "sk-test"})
	if err != nil || c == nil {
		t.Errorf("anthropic with key: client %v, err %v", c, err)
	}
}

func TestNewClientOllamaDefaults(t *testing.T) {
	c, err := NewClient(config.EnrichmentConfig{Provider: "ollama"})
	if err != nil || c == nil {
		t.Fatalf("ollama with defaults: client %v, err %v", c, err)
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	if _, err := NewClient(config.EnrichmentConfig{Provider: "gpt9"}); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestParseResultPlain(t *testing.T) {
	res, err := parseResult(`{"tags": ["travel"], "summary": "a trip"}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tags) != 1 || res.Tags[0] != "travel" || res.Summary != "a trip" {
		t.Errorf("res = %+v", res)
	}
}

func TestParseResultFenced(t *testing.T) {
	content := "```json\n{\"related\": [{\"target_id\": \"doc-1\", \"reason\": \"same trip\"}]}\n```"
	res, err := parseResult(content)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Related) != 1 || res.Related[0].TargetID != "doc-1" {
		t.Errorf("res = %+v", res)
	}
}

func TestParseResultWithWrapperText(t *testing.T) {
	res, err := parseResult(`Here is the result: {"tags": ["work"]} hope that helps`)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tags) != 1 || res.Tags[0] != "work" {
		t.Errorf("res = %+v", res)
	}
}

func TestParseResultNoJSON(t *testing.T) {
	if _, err := parseResult("I cannot help with that."); err == nil {
		t.Error("prose without JSON accepted")
	}
}

func TestEnrichmentPromptIncludesFields(t *testing.T) {
	doc := &store.Document{
		ID:           "txn-1",
		Kind:         "transaction",
		StartsAt:     time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
		Merchant:     "Whole Foods",
		Amount:       42.17,
		Participants: []string{"Alice Chen"},
		Tags:         []string{"grocery"},
	}
	prompt := EnrichmentPrompt(doc)

	for _, want := range []string{"txn-1", "transaction", "Whole Foods", "42.17", "Alice Chen", "grocery"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestEnrichmentPromptTruncatesContent(t *testing.T) {
	doc := &store.Document{
		ID:       "note-1",
		Kind:     "note",
		StartsAt: time.Now(),
		Content:  strings.Repeat("x", 10000),
	}
	prompt := EnrichmentPrompt(doc)
	if len(prompt) > 6000 {
		t.Errorf("prompt length = %d, content not truncated", len(prompt))
	}
}
