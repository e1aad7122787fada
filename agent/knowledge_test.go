package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/legislation"
)

// scriptedLegislation serves canned search results and records lookups.
type scriptedLegislation struct {
	acts     *legislation.SearchResult
	sections *legislation.SearchResult
	byID     map[string][]legislation.Section
	getCalls []string
	err      error
}

func (s *scriptedLegislation) SearchLegislation(context.Context, legislation.SearchFilters) (*legislation.SearchResult, error) {
	return s.acts, s.err
}

func (s *scriptedLegislation) SearchSections(context.Context, string) (*legislation.SearchResult, error) {
	return s.sections, s.err
}

func (s *scriptedLegislation) GetSections(_ context.Context, id string) ([]legislation.Section, error) {
	s.getCalls = append(s.getCalls, id)
	return s.byID[id], nil
}

func searchEnvelope(entries ...map[string]any) *legislation.SearchResult {
	res := &legislation.SearchResult{Total: len(entries)}
	for _, e := range entries {
		raw, _ := json.Marshal(e)
		res.Results = append(res.Results, raw)
	}
	return res
}

func newKnowledgePipeline(t *testing.T, leg LegislationAPI) *Pipeline {
	t.Helper()
	// Only the legislation collaborator matters for these tests.
	return &Pipeline{legislation: leg}
}

func TestLegislationWorkerFlagsHistoricalActs(t *testing.T) {
	leg := &scriptedLegislation{
		acts: searchEnvelope(
			map[string]any{"id": "ukpga/1985/68", "title": "Housing Act 1985", "year": 1985},
			map[string]any{"id": "ukpga/1957/56", "title": "Housing Act 1957", "year": 1957},
		),
		sections: searchEnvelope(),
	}
	p := newKnowledgePipeline(t, leg)

	items, err := p.legislationWorker(context.Background(), "secure tenancy")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byAct := map[string]LegalItem{}
	for _, item := range items {
		byAct[item.Act] = item
	}
	require.False(t, byAct["Housing Act 1985"].Historical)
	require.True(t, byAct["Housing Act 1957"].Historical, "pre-1963 acts are flagged historical")
}

func TestLegislationWorkerEnrichesTopThreeActs(t *testing.T) {
	// Five acts with skewed representation: acts A, B, C dominate.
	var entries []map[string]any
	counts := map[string]int{"A": 4, "B": 3, "C": 2, "D": 1, "E": 1}
	for act, n := range counts {
		for i := 0; i < n; i++ {
			entries = append(entries, map[string]any{
				"id":      "ukpga/2000/" + act,
				"act":     fmt.Sprintf("%s Act 2000", act),
				"section": fmt.Sprintf("%d", i+1),
				"year":    2000,
			})
		}
	}
	leg := &scriptedLegislation{
		acts:     searchEnvelope(),
		sections: searchEnvelope(entries...),
		byID: map[string][]legislation.Section{
			"ukpga/2000/A": {{Number: "99", Content: "further provision"}},
			"ukpga/2000/B": {{Number: "99", Content: "further provision"}},
			"ukpga/2000/C": {{Number: "99", Content: "further provision"}},
		},
	}
	p := newKnowledgePipeline(t, leg)

	items, err := p.legislationWorker(context.Background(), "query")
	require.NoError(t, err)
	require.Len(t, leg.getCalls, 3, "only the top three most-represented acts are enriched")
	require.ElementsMatch(t, []string{"ukpga/2000/A", "ukpga/2000/B", "ukpga/2000/C"}, leg.getCalls)

	// The enriched sections were appended without duplicating existing ones.
	enriched := 0
	for _, item := range items {
		if item.Section == "99" {
			enriched++
		}
	}
	require.Equal(t, 3, enriched)
}

func TestLegislationWorkerToleratesOneLegFailing(t *testing.T) {
	leg := &scriptedLegislation{
		acts:     searchEnvelope(map[string]any{"id": "x", "title": "Housing Act 1985", "year": 1985}),
		sections: nil,
	}
	// SearchSections returns nil result with nil error: decode tolerates it.
	p := newKnowledgePipeline(t, leg)
	items, err := p.legislationWorker(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestDecodeLegalItemsTolerant(t *testing.T) {
	res := searchEnvelope(
		map[string]any{"title": "Housing Act 1985", "year": 1985, "unknown_field": true},
		map[string]any{"act": "Housing Act 1985", "number": "8", "content": "landlord condition"},
		map[string]any{"year": 2001}, // no usable name: skipped
	)
	items := decodeLegalItems(res)
	require.Len(t, items, 2)
	require.Equal(t, "Housing Act 1985", items[0].Act)
	require.Equal(t, "8", items[1].Section)
	require.Nil(t, decodeLegalItems(nil))
}

func TestSnippetNeverSplitsMultiByteRunes(t *testing.T) {
	// One ASCII byte then three-byte runes leaves a rune straddling the
	// byte cut.
	long := "a" + strings.Repeat("密", 300)
	got := snippet(long)
	require.True(t, utf8.ValidString(got))
	require.True(t, strings.HasSuffix(got, "…"))
	require.LessOrEqual(t, len(got), 600+len("…"))

	require.Equal(t, "short", snippet("  short  "))
}
