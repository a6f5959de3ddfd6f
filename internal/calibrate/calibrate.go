// Package calibrate turns the union of all rules' candidate links for one
// source document into a disposition per target: auto-apply, queue for
// review, or discard.
package calibrate

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/rules"
)

// Disposition is the calibrator's decision for one (source, target) pair.
type Disposition int

const (
	Discard Disposition = iota
	Queue
	AutoApply
)

func (d Disposition) String() string {
	switch d {
	case AutoApply:
		return "auto-apply"
	case Queue:
		return "queue"
	default:
		return "discard"
	}
}

// ScoredLink is a calibrated, deduplicated relationship proposal: the merged
// candidates for one target plus a combined confidence and a disposition.
type ScoredLink struct {
	SourceID      string
	TargetID      string
	Confidence    float64
	Disposition   Disposition
	Rule          string // highest-scoring contributing rule
	Justification string
	Fingerprint   string // comma-joined candidate fingerprints
	Candidates    []rules.CandidateLink
}

// Calibrator applies combination, thresholding, the per-source link cap,
// and fingerprint dedup.
type Calibrator struct {
	cfg *config.LinkingConfig
	log *zap.Logger
}

// New creates a Calibrator.
func New(cfg *config.LinkingConfig, log *zap.Logger) *Calibrator {
	return &Calibrator{cfg: cfg, log: log}
}

// Calibrate merges candidates by target and classifies each group.
// applied and rejected are fingerprint sets: candidates matching either are
// suppressed before combination, so repeated runs over an unchanged corpus
// emit nothing and rejected suggestions never come back.
//
// Combination is a probabilistic OR: 1 − ∏(1 − scoreᵢ). Agreement across
// independent rules boosts confidence beyond any single score; a lone
// strong signal is not penalized, only not boosted. The result is monotonic
// non-decreasing in every input score.
func (c *Calibrator) Calibrate(sourceID string, candidates []rules.CandidateLink, applied, rejected map[string]bool) []ScoredLink {
	groups := make(map[string][]rules.CandidateLink)
	for _, cand := range candidates {
		if cand.TargetID == sourceID || cand.TargetID == "" {
			continue
		}
		fp := cand.Fingerprint()
		if applied[fp] {
			c.log.Debug("suppressing already-applied candidate",
				zap.String("source", sourceID),
				zap.String("target", cand.TargetID),
				zap.String("fingerprint", fp))
			continue
		}
		if rejected[fp] {
			c.log.Debug("suppressing rejected candidate",
				zap.String("source", sourceID),
				zap.String("target", cand.TargetID),
				zap.String("fingerprint", fp))
			continue
		}
		groups[cand.TargetID] = append(groups[cand.TargetID], cand)
	}

	scored := make([]ScoredLink, 0, len(groups))
	for targetID, group := range groups {
		scored = append(scored, c.combine(sourceID, targetID, group))
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Confidence != scored[j].Confidence {
			return scored[i].Confidence > scored[j].Confidence
		}
		return scored[i].TargetID < scored[j].TargetID
	})

	// Per-source cap: keep the highest-confidence accepted links, discard
	// the rest of this batch rather than applying unlimited links.
	accepted := 0
	for i := range scored {
		s := &scored[i]
		if s.Disposition == Discard {
			continue
		}
		accepted++
		if c.cfg.MaxLinksPerDocument > 0 && accepted > c.cfg.MaxLinksPerDocument {
			s.Disposition = Discard
		}
	}

	for _, s := range scored {
		if s.Disposition == Discard {
			c.log.Info("discarding candidate link",
				zap.String("source", s.SourceID),
				zap.String("target", s.TargetID),
				zap.String("rule", s.Rule),
				zap.Float64("confidence", s.Confidence))
		}
	}
	return scored
}

func (c *Calibrator) combine(sourceID, targetID string, group []rules.CandidateLink) ScoredLink {
	sort.Slice(group, func(i, j int) bool {
		if group[i].Confidence != group[j].Confidence {
			return group[i].Confidence > group[j].Confidence
		}
		return group[i].Rule < group[j].Rule
	})

	miss := 1.0
	fps := make([]string, 0, len(group))
	parts := make([]string, 0, len(group))
	for _, cand := range group {
		miss *= 1 - clamp01(cand.Confidence)
		fps = append(fps, cand.Fingerprint())
		parts = append(parts, cand.Justification)
	}
	conf := clamp01(1 - miss)

	disposition := Discard
	switch {
	case conf >= c.cfg.AutoApplyThreshold:
		disposition = AutoApply
	case conf >= c.cfg.ReviewThreshold:
		disposition = Queue
	}

	return ScoredLink{
		SourceID:      sourceID,
		TargetID:      targetID,
		Confidence:    conf,
		Disposition:   disposition,
		Rule:          group[0].Rule,
		Justification: strings.Join(parts, "; "),
		Fingerprint:   strings.Join(fps, ","),
		Candidates:    group,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
