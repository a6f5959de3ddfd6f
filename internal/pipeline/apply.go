package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/store"
)

// ApproveSuggestion approves a pending suggestion and applies it: one link
// per merged candidate fingerprint, then the applied transition. Applying
// is idempotent, so a retry after a partial failure converges.
func (o *Orchestrator) ApproveSuggestion(id string) error {
	s, err := o.db.GetSuggestion(id)
	if err != nil {
		return err
	}

	// An approved-but-not-applied suggestion (earlier crash between
	// transitions) skips straight to application.
	if s.Status == store.SuggestionPending {
		if err := o.db.ApproveSuggestion(id); err != nil {
			return err
		}
	} else if s.Status != store.SuggestionApproved {
		return fmt.Errorf("suggestion %s is %s: %w", id, s.Status, store.ErrInvalidTransition)
	}

	for _, fp := range s.Fingerprints() {
		rule := s.Rule
		if i := strings.Index(fp, ":"); i > 0 {
			rule = fp[:i]
		}
		if _, err := o.db.AppendLink(&store.Link{
			SourceID:      s.SourceID,
			TargetID:      s.TargetID,
			Rule:          rule,
			Fingerprint:   fp,
			Confidence:    s.Confidence,
			Justification: s.Justification,
		}); err != nil {
			return fmt.Errorf("apply suggestion %s: %w", id, err)
		}
	}

	if err := o.db.MarkSuggestionApplied(id); err != nil {
		return err
	}
	o.log.Info("suggestion applied",
		zap.String("suggestion", id),
		zap.String("source", s.SourceID),
		zap.String("target", s.TargetID))
	return nil
}

// RejectSuggestion rejects a pending suggestion. Terminal: its fingerprints
// are excluded from re-suggestion from then on.
func (o *Orchestrator) RejectSuggestion(id string) error {
	if err := o.db.RejectSuggestion(id); err != nil {
		return err
	}
	o.log.Info("suggestion rejected", zap.String("suggestion", id))
	return nil
}
