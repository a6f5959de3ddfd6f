package rules

import (
	"fmt"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/store"
)

// AccountRule links documents sharing a financial-account reference.
// Confidence is fixed and high, scaled down when the account itself is
// ambiguous, shared across more documents than the configured limit, as
// every transaction on a main checking account would be.
type AccountRule struct {
	cfg *config.LinkingConfig
}

func (r *AccountRule) Name() string { return RuleAccount }

func (r *AccountRule) Evaluate(doc *store.Document, ix *index.Index) ([]CandidateLink, error) {
	if doc.AccountRef == "" {
		return nil, nil
	}

	conf := r.cfg.AccountConfidence
	if shared := ix.EntityCount(doc.AccountRef, index.Account); shared > r.cfg.AccountAmbiguityLimit && r.cfg.AccountAmbiguityLimit > 0 {
		conf *= float64(r.cfg.AccountAmbiguityLimit) / float64(shared)
	}

	norm, _ := index.Normalize(doc.AccountRef)
	var out []CandidateLink
	for _, id := range ix.FindByEntity(doc.AccountRef, index.Account) {
		if id == doc.ID {
			continue
		}
		out = append(out, CandidateLink{
			SourceID:      doc.ID,
			TargetID:      id,
			Rule:          RuleAccount,
			Confidence:    conf,
			Justification: fmt.Sprintf("shares account reference %q", doc.AccountRef),
			Evidence:      "account " + norm,
		})
	}
	return capCandidates(out, r.cfg.MaxCandidatesPerRule), nil
}
