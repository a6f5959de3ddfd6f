package enrich

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weftlabs/weft/internal/store"
)

// EnrichmentPrompt builds the prompt asking the model for tags, related
// documents, and a one-line summary, as a single JSON object.
func EnrichmentPrompt(doc *store.Document) string {
	var b strings.Builder
	b.WriteString("You are an assistant that enriches personal records.\n")
	b.WriteString("Given the document below, respond with ONLY a JSON object of the form:\n")
	b.WriteString(`{"tags": ["..."], "related": [{"target_id": "...", "reason": "..."}], "summary": "..."}` + "\n")
	b.WriteString("Only propose related target_ids you are given in the document's existing links or content. ")
	b.WriteString("Omit fields you have nothing for. No prose, no markdown fences.\n\n")

	b.WriteString(fmt.Sprintf("id: %s\nkind: %s\nwhen: %s\n", doc.ID, doc.Kind, doc.StartsAt.Format("2006-01-02 15:04")))
	if doc.Location != "" {
		b.WriteString("location: " + doc.Location + "\n")
	}
	if len(doc.Participants) > 0 {
		b.WriteString("participants: " + strings.Join(doc.Participants, ", ") + "\n")
	}
	if doc.Merchant != "" {
		b.WriteString(fmt.Sprintf("merchant: %s (amount %.2f)\n", doc.Merchant, doc.Amount))
	}
	if len(doc.Tags) > 0 {
		b.WriteString("tags: " + strings.Join(doc.Tags, ", ") + "\n")
	}
	if doc.Content != "" {
		content := doc.Content
		if len(content) > 4000 {
			content = content[:4000]
		}
		b.WriteString("content:\n" + content + "\n")
	}
	return b.String()
}

// parseResult extracts the JSON object from a model response. The response
// might contain markdown code fences or other wrapper text.
func parseResult(content string) (*Result, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	var res Result
	if err := json.Unmarshal([]byte(content[start:end+1]), &res); err != nil {
		return nil, fmt.Errorf("unmarshal enrichment result: %w", err)
	}
	return &res, nil
}
