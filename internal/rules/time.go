package rules

import (
	"fmt"
	"time"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/store"
)

// TimeRule links documents whose timestamps fall within a window that
// depends on the source document's kind: tight for calendar events, looser
// for same-day transactions. Confidence falls linearly with the gap.
type TimeRule struct {
	cfg *config.LinkingConfig
}

func (r *TimeRule) Name() string { return RuleTime }

func (r *TimeRule) Evaluate(doc *store.Document, ix *index.Index) ([]CandidateLink, error) {
	window := r.cfg.TimeWindow(doc.Kind)
	if window <= 0 {
		return nil, nil
	}

	var out []CandidateLink
	for _, id := range ix.FindInWindow(doc.StartsAt, window, window) {
		if id == doc.ID {
			continue
		}
		other, ok := ix.Document(id)
		if !ok {
			continue
		}

		gap := doc.StartsAt.Sub(other.StartsAt)
		if gap < 0 {
			gap = -gap
		}
		conf := r.cfg.TimeWeight * (1 - float64(gap)/float64(window))
		if conf <= 0 {
			continue
		}

		out = append(out, CandidateLink{
			SourceID:      doc.ID,
			TargetID:      id,
			Rule:          RuleTime,
			Confidence:    conf,
			Justification: fmt.Sprintf("occurred %s apart", formatGap(gap)),
			Evidence:      "within " + formatGap(gap),
		})
	}
	return capCandidates(out, r.cfg.MaxCandidatesPerRule), nil
}

// formatGap renders a duration the way a person would say it: "5min",
// "2h15min", "3d".
func formatGap(d time.Duration) string {
	if d < time.Minute {
		return "0min"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dmin", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dmin", h, m)
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
