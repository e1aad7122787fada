package verify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/legislation"
)

func foundResult() *legislation.SearchResult {
	return &legislation.SearchResult{Extra: map[string]any{"verified": true}}
}

func emptyResult() *legislation.SearchResult {
	return &legislation.SearchResult{Extra: map[string]any{"verified": false}}
}

func TestExtractStripsConnectives(t *testing.T) {
	cases := map[string]string{
		"The Housing Act 1985 applies.":                      "Housing Act 1985",
		"According to the Housing Act 1985, tenants may...":  "Housing Act 1985",
		"Under the Landlord and Tenant Act 1985, repairs...": "Landlord and Tenant Act 1985",
	}
	for text, want := range cases {
		citations := Extract(text)
		require.Len(t, citations, 1, text)
		require.Equal(t, want, citations[0].Text)
		require.Equal(t, want, citations[0].ActName)
	}
}

func TestExtractSectionAndSubsection(t *testing.T) {
	citations := Extract("The Housing Act 1985, s.8(1) defines the landlord condition.")
	require.Len(t, citations, 1)
	require.Equal(t, KindLegislation, citations[0].Kind)
	require.Equal(t, "Housing Act 1985, s.8(1)", citations[0].Text)
	require.Equal(t, "8(1)", citations[0].Section)
}

func TestExtractCaseLaw(t *testing.T) {
	citations := Extract("As held in R v Smith [2020] EWCA Crim 123, the test is objective.")
	require.Len(t, citations, 1)
	require.Equal(t, KindCaseLaw, citations[0].Kind)
	require.Equal(t, "R v Smith", citations[0].CaseName)
	require.Equal(t, "[2020] EWCA Crim 123", citations[0].NeutralCitation)
}

func TestExtractPolicyDocument(t *testing.T) {
	citations := Extract("See the Allocations Policy, Section 4 for priority banding.")
	require.Len(t, citations, 1)
	require.Equal(t, KindPolicy, citations[0].Kind)
	require.Equal(t, "Allocations Policy, Section 4", citations[0].Text)
	require.Equal(t, "Allocations Policy", citations[0].DocumentName)
}

func TestVerifiedCitation(t *testing.T) {
	// Scenario: a real act and section confirmed by the source.
	v, err := New(func(_ context.Context, query string) (*legislation.SearchResult, error) {
		require.Equal(t, "Housing Act 1985", query)
		return foundResult(), nil
	})
	require.NoError(t, err)

	res, err := v.Verify(context.Background(), "The Housing Act 1985, s.8(1) defines the landlord condition.")
	require.NoError(t, err)
	require.Equal(t, 1, res.Checked)
	require.Equal(t, 1, res.Verified)
	require.Zero(t, res.Removed)
	require.Zero(t, res.Unverified)
	require.Equal(t, "Housing Act 1985, s.8(1)", res.Citations[0].Citation.Text)
	require.Equal(t, StatusVerified, res.Citations[0].Status)
	require.InDelta(t, 1.0, res.Citations[0].Confidence, 1e-9)
	require.Empty(t, res.Issues)
}

func TestFabricatedCitationIsRemoved(t *testing.T) {
	v, err := New(func(context.Context, string) (*legislation.SearchResult, error) {
		return emptyResult(), nil
	})
	require.NoError(t, err)

	res, err := v.Verify(context.Background(), "According to the Housing Act 1985, s.999, all tenants may purchase freeholds.")
	require.NoError(t, err)
	require.Equal(t, 1, res.Checked)
	require.Zero(t, res.Verified)
	require.Equal(t, 1, res.Removed)
	require.Len(t, res.Issues, 1)
	require.Contains(t, res.Issues[0], "Housing Act 1985, s.999")
}

func TestMixedCitations(t *testing.T) {
	text := "The Housing Act 1985, s.8(1) and the Defective Premises Act 1972, s.4 apply, as does R v Smith [2020] EWCA Crim 123."
	v, err := New(func(_ context.Context, query string) (*legislation.SearchResult, error) {
		if strings.Contains(query, "Defective") {
			return emptyResult(), nil
		}
		return foundResult(), nil
	})
	require.NoError(t, err)

	res, err := v.Verify(context.Background(), text)
	require.NoError(t, err)
	require.Equal(t, 3, res.Checked)
	// Case law cannot be verified upstream so it degrades to unverified.
	require.Equal(t, 1, res.Verified)
	require.Equal(t, 1, res.Removed)
	require.Equal(t, 1, res.Unverified)
}

func TestCaseLawVerifiedWhenUpstreamSupportsIt(t *testing.T) {
	v, err := New(func(context.Context, string) (*legislation.SearchResult, error) {
		return foundResult(), nil
	}, WithCaseLawSupport())
	require.NoError(t, err)
	require.True(t, v.SupportsCaseLaw())

	res, err := v.Verify(context.Background(), "As held in R v Smith [2020] EWCA Crim 123, the test is objective.")
	require.NoError(t, err)
	require.Equal(t, 1, res.Verified)
	require.Zero(t, res.Unverified)
}

func TestDeduplicatesLookupsByActName(t *testing.T) {
	lookups := 0
	v, err := New(func(context.Context, string) (*legislation.SearchResult, error) {
		lookups++
		return foundResult(), nil
	})
	require.NoError(t, err)

	text := "The Housing Act 1985, s.8(1) and the Housing Act 1985, s.21 and the housing act 1985, s.80 all apply."
	res, err := v.Verify(context.Background(), text)
	require.NoError(t, err)
	require.GreaterOrEqual(t, res.Checked, 2)
	require.Equal(t, 1, lookups, "one lookup per distinct lowercased act name")
}

func TestUpstreamFailureDegradesToUnverified(t *testing.T) {
	v, err := New(func(context.Context, string) (*legislation.SearchResult, error) {
		return nil, legislation.ErrTimeout
	})
	require.NoError(t, err)

	res, err := v.Verify(context.Background(), "The Housing Act 1985 applies.")
	require.NoError(t, err)
	require.Equal(t, 1, res.Unverified)
	require.Zero(t, res.Removed)
}

func TestSearchSuccessHeuristics(t *testing.T) {
	require.True(t, SearchSuccess(&legislation.SearchResult{Total: 1}))
	require.True(t, SearchSuccess(&legislation.SearchResult{Extra: map[string]any{"found": true}}))
	require.True(t, SearchSuccess(&legislation.SearchResult{Extra: map[string]any{"exists": true}}))
	require.False(t, SearchSuccess(&legislation.SearchResult{Extra: map[string]any{"verified": false}}))
	require.False(t, SearchSuccess(&legislation.SearchResult{}))
	require.False(t, SearchSuccess(nil))
}

func TestAllFoundMeansNoIssues(t *testing.T) {
	v, err := New(func(context.Context, string) (*legislation.SearchResult, error) {
		return &legislation.SearchResult{Total: 3}, nil
	})
	require.NoError(t, err)

	text := "The Housing Act 1985, s.8(1) and the Landlord and Tenant Act 1985, s.11 both apply."
	res, err := v.Verify(context.Background(), text)
	require.NoError(t, err)
	require.Zero(t, res.Removed)
	require.Zero(t, res.Unverified)
	require.Equal(t, res.Checked, res.Verified)
}
