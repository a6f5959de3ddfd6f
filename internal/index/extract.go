package index

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/store"
)

// maxEntityLen caps a single normalized entity value. Anything longer is a
// malformed field, not a matchable entity.
const maxEntityLen = 256

// Normalize produces the canonical matching form of an entity value:
// lower-cased, punctuation stripped, whitespace collapsed.
func Normalize(value string) (string, error) {
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("invalid UTF-8")
	}
	if len(value) > maxEntityLen {
		return "", fmt.Errorf("value too long (%d bytes)", len(value))
	}

	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(value) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// VenueName returns the venue head of a location string: the part before the
// first comma. "Whole Foods, 123 Main St" -> "Whole Foods".
func VenueName(location string) string {
	if i := strings.Index(location, ","); i >= 0 {
		return strings.TrimSpace(location[:i])
	}
	return strings.TrimSpace(location)
}

// extractEntities pulls the matchable entities out of a document. Errors on
// one field are logged and skipped; extraction of the remaining fields
// proceeds.
func extractEntities(doc *store.Document, log *zap.Logger) []Entity {
	seen := make(map[Entity]bool)
	var out []Entity

	add := func(t EntityType, raw string) {
		if strings.TrimSpace(raw) == "" {
			return
		}
		norm, err := Normalize(raw)
		if err != nil {
			log.Warn("skipping malformed field",
				zap.String("doc", doc.ID),
				zap.String("entity_type", string(t)),
				zap.Error(err))
			return
		}
		if norm == "" {
			return
		}
		e := Entity{Type: t, Value: norm}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}

	for _, p := range doc.Participants {
		add(Person, p)
	}

	// Merchant doubles as an organization and a potential venue.
	add(Org, doc.Merchant)
	add(Location, doc.Merchant)

	if doc.Location != "" {
		add(Location, doc.Location)
		add(Location, VenueName(doc.Location))
	}

	for _, tag := range doc.Tags {
		add(Tag, tag)
	}

	add(Identifier, doc.ExternalID)
	add(Account, doc.AccountRef)

	return out
}
