package rules

import (
	"fmt"
	"math"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/index"
	"github.com/weftlabs/weft/internal/store"
)

// LocationRule links documents sharing a venue name, or lying within a
// configured radius of each other when both carry coordinates. An exact
// venue match scores 1.0; proximity decays linearly with distance.
type LocationRule struct {
	cfg *config.LinkingConfig
}

func (r *LocationRule) Name() string { return RuleLocation }

func (r *LocationRule) Evaluate(doc *store.Document, ix *index.Index) ([]CandidateLink, error) {
	byTarget := make(map[string]CandidateLink)
	keepBest := func(c CandidateLink) {
		if prev, ok := byTarget[c.TargetID]; !ok || c.Confidence > prev.Confidence {
			byTarget[c.TargetID] = c
		}
	}

	// Venue matches: the document's own location head, and its merchant
	// (a transaction at "Whole Foods" matches an event located there).
	venues := map[string]string{} // normalized -> display form
	if doc.Location != "" {
		display := index.VenueName(doc.Location)
		if norm, err := index.Normalize(display); err == nil && norm != "" {
			venues[norm] = display
		}
	}
	if doc.Merchant != "" {
		if norm, err := index.Normalize(doc.Merchant); err == nil && norm != "" {
			if _, ok := venues[norm]; !ok {
				venues[norm] = doc.Merchant
			}
		}
	}

	for norm, display := range venues {
		for _, id := range ix.FindByEntity(norm, index.Location) {
			if id == doc.ID {
				continue
			}
			keepBest(CandidateLink{
				SourceID:      doc.ID,
				TargetID:      id,
				Rule:          RuleLocation,
				Confidence:    1.0,
				Justification: fmt.Sprintf("both reference venue %q", display),
				Evidence:      "venue " + norm,
			})
		}
	}

	// Proximity matches require coordinates on both sides.
	if doc.Latitude != nil && doc.Longitude != nil && r.cfg.LocationRadiusKM > 0 {
		for _, pos := range ix.Coordinates() {
			if pos.ID == doc.ID {
				continue
			}
			dist := haversineKM(*doc.Latitude, *doc.Longitude, pos.Lat, pos.Lon)
			if dist > r.cfg.LocationRadiusKM {
				continue
			}
			conf := 1 - dist/r.cfg.LocationRadiusKM
			if conf <= 0 {
				continue
			}
			keepBest(CandidateLink{
				SourceID:      doc.ID,
				TargetID:      pos.ID,
				Rule:          RuleLocation,
				Confidence:    conf,
				Justification: fmt.Sprintf("locations %.1fkm apart", dist),
				Evidence:      fmt.Sprintf("within %.1fkm", dist),
			})
		}
	}

	out := make([]CandidateLink, 0, len(byTarget))
	for _, c := range byTarget {
		out = append(out, c)
	}
	return capCandidates(out, r.cfg.MaxCandidatesPerRule), nil
}

const earthRadiusKM = 6371.0

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
