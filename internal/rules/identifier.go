package rules

import (
	"fmt"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/store"
)

// IdentifierRule links documents sharing an external system identifier
// (recurring-event id, transaction reference). Identifier equality is
// ground truth, so confidence is fixed at the maximum.
type IdentifierRule struct {
	cfg *config.LinkingConfig
}

func (r *IdentifierRule) Name() string { return RuleIdentifier }

func (r *IdentifierRule) Evaluate(doc *store.Document, ix *index.Index) ([]CandidateLink, error) {
	if doc.ExternalID == "" {
		return nil, nil
	}

	var out []CandidateLink
	for _, id := range ix.FindByEntity(doc.ExternalID, index.Identifier) {
		if id == doc.ID {
			continue
		}
		norm, _ := index.Normalize(doc.ExternalID)
		out = append(out, CandidateLink{
			SourceID:      doc.ID,
			TargetID:      id,
			Rule:          RuleIdentifier,
			Confidence:    1.0,
			Justification: fmt.Sprintf("shares external identifier %q", doc.ExternalID),
			Evidence:      "extid " + norm,
		})
	}
	// A hub identifier (a recurring series shared by hundreds of instances)
	// must not flood the calibrator.
	return capCandidates(out, r.cfg.MaxCandidatesPerRule), nil
}
