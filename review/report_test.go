package review

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/store"
)

func TestRollupHighPriorityRedDominates(t *testing.T) {
	criteria := []CriterionResult{
		{Name: "a", Priority: "high", Rating: RatingRed},
		{Name: "b", Priority: "medium", Rating: RatingGreen},
		{Name: "c", Priority: "medium", Rating: RatingGreen},
	}
	require.Equal(t, RatingRed, Rollup(criteria))
}

func TestRollupRedAndAmberWithoutHighPriorityRed(t *testing.T) {
	criteria := []CriterionResult{
		{Name: "a", Priority: "high", Rating: RatingGreen},
		{Name: "b", Priority: "medium", Rating: RatingRed},
		{Name: "c", Priority: "medium", Rating: RatingAmber},
	}
	require.Equal(t, RatingAmber, Rollup(criteria))
}

func TestRollupThresholdIsCeilOfThird(t *testing.T) {
	medium := func(ratings ...Rating) []CriterionResult {
		out := make([]CriterionResult, len(ratings))
		for i, r := range ratings {
			out[i] = CriterionResult{Priority: "medium", Rating: r}
		}
		return out
	}

	// N=3: threshold ⌈3/3⌉=1, so two reds exceed it.
	require.Equal(t, RatingRed, Rollup(medium(RatingRed, RatingRed, RatingGreen)))
	// One red does not exceed the threshold but still forces amber.
	require.Equal(t, RatingAmber, Rollup(medium(RatingRed, RatingGreen, RatingGreen)))

	// N=4: threshold ⌈4/3⌉=2, so two reds are amber and three are red.
	require.Equal(t, RatingAmber, Rollup(medium(RatingRed, RatingRed, RatingGreen, RatingGreen)))
	require.Equal(t, RatingRed, Rollup(medium(RatingRed, RatingRed, RatingRed, RatingGreen)))

	// Ambers alone past the threshold force amber, never red.
	require.Equal(t, RatingAmber, Rollup(medium(RatingAmber, RatingAmber, RatingAmber, RatingGreen)))
}

func TestRollupAllGreen(t *testing.T) {
	criteria := []CriterionResult{
		{Priority: "high", Rating: RatingGreen},
		{Priority: "low", Rating: RatingGreen},
	}
	require.Equal(t, RatingGreen, Rollup(criteria))
}

func TestRollupEmptyDefinitionFails(t *testing.T) {
	require.Equal(t, RatingRed, Rollup(nil))
}

func TestAnalyseGapsMissingSections(t *testing.T) {
	sections, err := json.Marshal([]string{"Scope", "Review Cycle", "Complaints"})
	require.NoError(t, err)
	def := &store.PolicyDefinition{RequiredSections: sections}

	gaps := AnalyseGaps(def, "1. SCOPE\nThis policy covers...\n2. Review cycle\nAnnually.", nil)
	require.Len(t, gaps, 1)
	require.Equal(t, GapMissingSection, gaps[0].Kind)
	require.Equal(t, "Complaints", gaps[0].Name)
	require.Equal(t, SeverityCritical, gaps[0].Severity)
}

func TestAnalyseGapsRedCriteria(t *testing.T) {
	def := &store.PolicyDefinition{}
	criteria := []CriterionResult{
		{Name: "fire risk assessments", Priority: "high", Rating: RatingRed, Justification: "no assessment schedule"},
		{Name: "record keeping", Priority: "medium", Rating: RatingRed, Justification: "retention unspecified"},
		{Name: "training", Priority: "low", Rating: RatingAmber},
	}
	gaps := AnalyseGaps(def, "", criteria)
	require.Len(t, gaps, 2)
	require.Equal(t, SeverityCritical, gaps[0].Severity)
	require.Equal(t, SeverityImportant, gaps[1].Severity)
	require.Equal(t, GapFailedCriterion, gaps[0].Kind)
}

func TestRecommendActionsPriorityLadder(t *testing.T) {
	criteria := []CriterionResult{
		{Name: "training", Priority: "medium", Rating: RatingAmber, Recommendations: []string{"add refresher schedule"}},
		{Name: "fire risk", Priority: "high", Rating: RatingRed, Recommendations: []string{"define assessment cadence"}},
		{Name: "records", Priority: "low", Rating: RatingRed, Recommendations: []string{"state retention period"}},
		{Name: "scope", Priority: "high", Rating: RatingGreen, Recommendations: []string{"ignored"}},
	}
	actions := RecommendActions(criteria)
	require.Len(t, actions, 3)
	require.Equal(t, PriorityCritical, actions[0].Priority)
	require.Equal(t, "fire risk", actions[0].Criterion)
	require.Equal(t, PriorityImportant, actions[1].Priority)
	require.Equal(t, PriorityAdvisory, actions[2].Priority)
}
