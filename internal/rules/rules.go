// Package rules implements the matching rules that propose candidate links
// between documents. Each rule examines one document against the entity
// index and emits zero or more scored candidates; rules are independent and
// safe to run concurrently.
package rules

import (
	"sort"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/store"
)

// Rule names.
const (
	RuleTime       = "time"
	RuleEntity     = "entity"
	RuleLocation   = "location"
	RuleCategory   = "category"
	RuleIdentifier = "identifier"
	RuleAccount    = "account"
	RuleEnrichment = "enrichment"
)

// CandidateLink is a raw relationship proposal from one rule. Immutable once
// created; the calibrator consumes it.
type CandidateLink struct {
	SourceID      string
	TargetID      string
	Rule          string
	Confidence    float64 // raw, in [0,1]
	Justification string
	Evidence      string // rule-specific evidence key
}

// Fingerprint returns the dedup key for this candidate: rule name plus
// evidence. A (source, target) pair already linked under the same
// fingerprint is never re-emitted.
func (c CandidateLink) Fingerprint() string {
	return c.Rule + ":" + c.Evidence
}

// Rule evaluates one document against the index. A rule that finds no
// signal returns an empty slice, never a zero-confidence placeholder.
type Rule interface {
	Name() string
	Evaluate(doc *store.Document, ix *index.Index) ([]CandidateLink, error)
}

// ForConfig builds the closed set of rules from configuration.
func ForConfig(cfg *config.LinkingConfig) []Rule {
	return []Rule{
		&TimeRule{cfg: cfg},
		&EntityRule{cfg: cfg},
		&LocationRule{cfg: cfg},
		&CategoryRule{cfg: cfg},
		&IdentifierRule{cfg: cfg},
		&AccountRule{cfg: cfg},
	}
}

// capCandidates bounds a rule's output to the n highest raw scores,
// breaking ties by target id for determinism.
func capCandidates(candidates []CandidateLink, n int) []CandidateLink {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].TargetID < candidates[j].TargetID
	})
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}
