package calibrate

import (
	"fmt"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/rules"
)

func testCalibrator() *Calibrator {
	cfg := config.Default().Linking
	return New(&cfg, zap.NewNop())
}

func cand(target, rule, evidence string, conf float64) rules.CandidateLink {
	return rules.CandidateLink{
		SourceID:   "src",
		TargetID:   target,
		Rule:       rule,
		Confidence: conf,
		Evidence:   evidence,
	}
}

func TestCombineProbabilisticOR(t *testing.T) {
	c := testCalibrator()
	got := c.Calibrate("src", []rules.CandidateLink{
		cand("t1", "time", "within 5min", 0.6),
		cand("t1", "entity", "shared alice chen", 0.7),
	}, nil, nil)

	if len(got) != 1 {
		t.Fatalf("got %d scored links, want 1", len(got))
	}
	// 1 - (1-0.6)(1-0.7) = 0.88
	if math.Abs(got[0].Confidence-0.88) > 1e-9 {
		t.Errorf("combined confidence = %v, want 0.88", got[0].Confidence)
	}
	if got[0].Disposition != AutoApply {
		t.Errorf("disposition = %v, want auto-apply", got[0].Disposition)
	}
	// Highest-scoring contributor names the link.
	if got[0].Rule != "entity" {
		t.Errorf("rule = %q, want entity", got[0].Rule)
	}
	if got[0].Fingerprint != "entity:shared alice chen,time:within 5min" {
		t.Errorf("fingerprint = %q", got[0].Fingerprint)
	}
}

func TestCombineMonotonic(t *testing.T) {
	c := testCalibrator()
	single := c.Calibrate("src", []rules.CandidateLink{
		cand("t1", "time", "within 5min", 0.6),
	}, nil, nil)
	boosted := c.Calibrate("src", []rules.CandidateLink{
		cand("t1", "time", "within 5min", 0.6),
		cand("t1", "category", "tags grocery", 0.3),
	}, nil, nil)

	if single[0].Confidence != 0.6 {
		t.Errorf("lone signal confidence = %v, want unchanged 0.6", single[0].Confidence)
	}
	if boosted[0].Confidence <= single[0].Confidence {
		t.Errorf("agreement did not boost: %v <= %v", boosted[0].Confidence, single[0].Confidence)
	}
	if boosted[0].Confidence > 1 {
		t.Errorf("confidence exceeds 1: %v", boosted[0].Confidence)
	}
}

func TestDispositionThresholds(t *testing.T) {
	c := testCalibrator()
	cases := []struct {
		conf float64
		want Disposition
	}{
		{0.95, AutoApply},
		{0.85, AutoApply},
		{0.84, Queue},
		{0.5, Queue},
		{0.49, Discard},
		{0.1, Discard},
	}
	for _, tc := range cases {
		got := c.Calibrate("src", []rules.CandidateLink{
			cand("t1", "time", "x", tc.conf),
		}, nil, nil)
		if got[0].Disposition != tc.want {
			t.Errorf("conf %v: disposition = %v, want %v", tc.conf, got[0].Disposition, tc.want)
		}
	}
}

func TestAppliedFingerprintSuppressed(t *testing.T) {
	c := testCalibrator()
	applied := map[string]bool{"time:within 5min": true}

	got := c.Calibrate("src", []rules.CandidateLink{
		cand("t1", "time", "within 5min", 0.9),
	}, applied, nil)
	if len(got) != 0 {
		t.Errorf("applied candidate re-emitted: %v", got)
	}

	// A different fingerprint for the same pair still goes through.
	got = c.Calibrate("src", []rules.CandidateLink{
		cand("t1", "entity", "shared alice chen", 0.9),
	}, applied, nil)
	if len(got) != 1 {
		t.Errorf("novel fingerprint suppressed: %v", got)
	}
}

func TestRejectedFingerprintSuppressed(t *testing.T) {
	c := testCalibrator()
	rejected := map[string]bool{"entity:shared alice chen": true}

	got := c.Calibrate("src", []rules.CandidateLink{
		cand("t1", "entity", "shared alice chen", 0.9),
		cand("t1", "time", "within 5min", 0.6),
	}, nil, rejected)

	if len(got) != 1 {
		t.Fatalf("got %d scored links, want 1", len(got))
	}
	// Rejected candidate removed before combination, not after.
	if math.Abs(got[0].Confidence-0.6) > 1e-9 {
		t.Errorf("confidence = %v, want 0.6 without the rejected signal", got[0].Confidence)
	}
}

func TestSelfLinkDropped(t *testing.T) {
	c := testCalibrator()
	got := c.Calibrate("src", []rules.CandidateLink{
		cand("src", "time", "within 0min", 0.9),
		cand("", "time", "within 0min", 0.9),
	}, nil, nil)
	if len(got) != 0 {
		t.Errorf("self or empty target survived: %v", got)
	}
}

func TestMaxLinksPerDocument(t *testing.T) {
	cfg := config.Default().Linking
	cfg.MaxLinksPerDocument = 3
	c := New(&cfg, zap.NewNop())

	var candidates []rules.CandidateLink
	for i := 0; i < 8; i++ {
		candidates = append(candidates,
			cand(fmt.Sprintf("t%d", i), "time", "x", 0.5+float64(i)*0.05))
	}
	got := c.Calibrate("src", candidates, nil, nil)

	kept := 0
	for _, s := range got {
		if s.Disposition != Discard {
			kept++
		}
	}
	if kept != 3 {
		t.Fatalf("kept %d links, want 3", kept)
	}
	// The three highest confidences survive.
	for i := 0; i < 3; i++ {
		if got[i].Disposition == Discard {
			t.Errorf("high-confidence link %d discarded", i)
		}
	}
}

func TestCalibrateOrdering(t *testing.T) {
	c := testCalibrator()
	got := c.Calibrate("src", []rules.CandidateLink{
		cand("t1", "time", "x", 0.6),
		cand("t2", "time", "y", 0.9),
		cand("t3", "time", "z", 0.7),
	}, nil, nil)

	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Confidence > got[i-1].Confidence {
			t.Errorf("not sorted by confidence at %d", i)
		}
	}
}

func TestJustificationsMerged(t *testing.T) {
	c := testCalibrator()
	a := cand("t1", "time", "within 5min", 0.6)
	a.Justification = "occurred 5min apart"
	b := cand("t1", "entity", "shared alice chen", 0.7)
	b.Justification = "shares participant: alice chen"

	got := c.Calibrate("src", []rules.CandidateLink{a, b}, nil, nil)
	want := "shares participant: alice chen; occurred 5min apart"
	if got[0].Justification != want {
		t.Errorf("justification = %q, want %q", got[0].Justification, want)
	}
}
