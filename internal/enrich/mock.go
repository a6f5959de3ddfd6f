package enrich

import (
	"context"

	"github.com/weftlabs/weft/internal/store"
)

// MockClient is a test double for the enrichment Client interface.
type MockClient struct {
	Result *Result
	Err    error
	Delay  func(ctx context.Context) error // optional, simulates slow calls
	Calls  []string                        // records document ids
}

// Enrich records the call and returns the mock result.
func (m *MockClient) Enrich(ctx context.Context, doc *store.Document) (*Result, error) {
	m.Calls = append(m.Calls, doc.ID)
	if m.Delay != nil {
		if err := m.Delay(ctx); err != nil {
			return nil, err
		}
	}
	return m.Result, m.Err
}
