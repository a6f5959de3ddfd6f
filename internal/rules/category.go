package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/store"
)

// CategoryRule links documents sharing tags from the controlled vocabulary.
// Confidence is the overlap fraction relative to the smaller tag set.
type CategoryRule struct {
	cfg *config.LinkingConfig
}

func (r *CategoryRule) Name() string { return RuleCategory }

func (r *CategoryRule) Evaluate(doc *store.Document, ix *index.Index) ([]CandidateLink, error) {
	tags := normalizeSet(doc.Tags)
	if len(tags) == 0 {
		return nil, nil
	}

	targets := make(map[string]bool)
	for tag := range tags {
		for _, id := range ix.FindByEntity(tag, index.Tag) {
			if id != doc.ID {
				targets[id] = true
			}
		}
	}

	var out []CandidateLink
	for id := range targets {
		other, ok := ix.Document(id)
		if !ok {
			continue
		}
		otherTags := normalizeSet(other.Tags)
		if len(otherTags) == 0 {
			continue
		}

		var shared []string
		for tag := range tags {
			if otherTags[tag] {
				shared = append(shared, tag)
			}
		}
		if len(shared) == 0 {
			continue
		}

		smaller := len(tags)
		if len(otherTags) < smaller {
			smaller = len(otherTags)
		}
		conf := r.cfg.CategoryWeight * float64(len(shared)) / float64(smaller)

		sort.Strings(shared)
		out = append(out, CandidateLink{
			SourceID:      doc.ID,
			TargetID:      id,
			Rule:          RuleCategory,
			Confidence:    conf,
			Justification: fmt.Sprintf("shares tags: %s", strings.Join(shared, ", ")),
			Evidence:      "tags " + strings.Join(shared, "+"),
		})
	}
	return capCandidates(out, r.cfg.MaxCandidatesPerRule), nil
}

func normalizeSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		norm, err := index.Normalize(v)
		if err != nil || norm == "" {
			continue
		}
		set[norm] = true
	}
	return set
}
