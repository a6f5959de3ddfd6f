package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/store"
)

// EntityRule links documents sharing person or organization names, exact or
// above a fuzzy-similarity threshold. Confidence is the average match
// similarity, boosted by the number of distinct shared entities.
type EntityRule struct {
	cfg *config.LinkingConfig
}

func (r *EntityRule) Name() string { return RuleEntity }

type entityMatch struct {
	simSum float64
	values []string
	seen   map[string]bool
}

func (r *EntityRule) Evaluate(doc *store.Document, ix *index.Index) ([]CandidateLink, error) {
	names := make([]string, 0, len(doc.Participants)+1)
	names = append(names, doc.Participants...)
	if doc.Merchant != "" {
		names = append(names, doc.Merchant)
	}
	if len(names) == 0 {
		return nil, nil
	}

	matches := make(map[string]*entityMatch) // target id -> accumulated matches
	record := func(targetID, value string, sim float64) {
		if targetID == doc.ID {
			return
		}
		m, ok := matches[targetID]
		if !ok {
			m = &entityMatch{seen: make(map[string]bool)}
			matches[targetID] = m
		}
		if m.seen[value] {
			return
		}
		m.seen[value] = true
		m.simSum += sim
		m.values = append(m.values, value)
	}

	// Fuzzy scan runs over the distinct entity values, not the corpus.
	known := ix.Entities(index.Person, index.Org)

	for _, name := range names {
		norm, err := index.Normalize(name)
		if err != nil || norm == "" {
			continue
		}

		for _, id := range ix.FindByEntity(norm, index.Person, index.Org) {
			record(id, norm, 1.0)
		}

		for _, e := range known {
			if e.Value == norm {
				continue // exact already counted
			}
			sim := similarity(norm, e.Value)
			if sim < r.cfg.EntitySimilarity {
				continue
			}
			for _, id := range ix.FindByEntity(e.Value, e.Type) {
				record(id, e.Value, sim)
			}
		}
	}

	var out []CandidateLink
	for targetID, m := range matches {
		n := len(m.values)
		avg := m.simSum / float64(n)
		boost := 1 + 0.3*float64(n-1)
		conf := r.cfg.EntityWeight * avg * boost
		if conf > 1 {
			conf = 1
		}

		sort.Strings(m.values)
		noun := "participant"
		if n > 1 {
			noun = fmt.Sprintf("%d participants", n)
		}
		out = append(out, CandidateLink{
			SourceID:      doc.ID,
			TargetID:      targetID,
			Rule:          RuleEntity,
			Confidence:    conf,
			Justification: fmt.Sprintf("shares %s: %s", noun, strings.Join(m.values, ", ")),
			Evidence:      "shared " + strings.Join(m.values, "+"),
		})
	}
	return capCandidates(out, r.cfg.MaxCandidatesPerRule), nil
}

// similarity is a normalized Levenshtein ratio in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein(a, b)
	max := len([]rune(a))
	if l := len([]rune(b)); l > max {
		max = l
	}
	return 1 - float64(dist)/float64(max)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
