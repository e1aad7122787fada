package review

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/store"
)

func completedReview(t *testing.T, sess *fakeSession, definitionID uuid.UUID, report Report) *store.PolicyReview {
	t.Helper()
	blob, err := json.Marshal(report)
	require.NoError(t, err)
	review := &store.PolicyReview{
		ID:           store.NewID(),
		DefinitionID: &definitionID,
		State:        store.ReviewComplete,
		Result:       blob,
	}
	sess.reviews[review.ID] = review
	return review
}

func TestComparePairsCriteriaByName(t *testing.T) {
	sess := newFakeSession()
	defID := store.NewID()
	previous := completedReview(t, sess, defID, Report{
		Overall: RatingRed,
		Criteria: []CriterionResult{
			{Name: "Fire Risk", Rating: RatingRed},
			{Name: "Training", Rating: RatingGreen},
			{Name: "Retired Criterion", Rating: RatingAmber},
		},
	})
	current := completedReview(t, sess, defID, Report{
		Overall: RatingAmber,
		Criteria: []CriterionResult{
			{Name: "fire risk", Rating: RatingAmber},
			{Name: "Training", Rating: RatingGreen},
		},
	})
	engine := newTestEngine(t, sess, &fakeHub{}, &fakeModel{})

	cmp, err := engine.Compare(context.Background(), uuid.New(), previous.ID, current.ID)
	require.NoError(t, err)
	require.Equal(t, RatingRed, cmp.PreviousOverall)
	require.Equal(t, RatingAmber, cmp.CurrentOverall)
	require.Len(t, cmp.Criteria, 3)

	byName := make(map[string]CriterionDelta)
	for _, d := range cmp.Criteria {
		byName[d.Name] = d
	}
	// Pairing is case-insensitive by name.
	require.True(t, byName["fire risk"].Changed)
	require.Equal(t, RatingRed, byName["fire risk"].Previous)
	require.False(t, byName["Training"].Changed)
	// A criterion present only in the previous review counts as changed.
	require.True(t, byName["Retired Criterion"].Changed)
	require.Empty(t, byName["Retired Criterion"].Current)
}

func TestCompareRejectsDifferentDefinitions(t *testing.T) {
	sess := newFakeSession()
	previous := completedReview(t, sess, store.NewID(), Report{Overall: RatingGreen})
	current := completedReview(t, sess, store.NewID(), Report{Overall: RatingGreen})
	engine := newTestEngine(t, sess, &fakeHub{}, &fakeModel{})

	_, err := engine.Compare(context.Background(), uuid.New(), previous.ID, current.ID)
	require.Error(t, err)
}

func TestComputeTrends(t *testing.T) {
	sess := newFakeSession()
	defA, defB, defC := store.NewID(), store.NewID(), store.NewID()
	sess.active = []store.PolicyDefinition{{ID: defA}, {ID: defB}, {ID: defC}}

	add := func(definitionID uuid.UUID, overall Rating) {
		blob, err := json.Marshal(Report{Overall: overall})
		require.NoError(t, err)
		sess.completed = append(sess.completed, store.PolicyReview{
			ID:           store.NewID(),
			DefinitionID: &definitionID,
			State:        store.ReviewComplete,
			Result:       blob,
		})
	}
	add(defA, RatingGreen)
	add(defA, RatingAmber)
	add(defB, RatingRed)
	add(defB, RatingGreen)

	engine := newTestEngine(t, sess, &fakeHub{}, &fakeModel{})
	trends, err := engine.ComputeTrends(context.Background(), uuid.New(), time.Now().Add(-30*24*time.Hour), time.Now())
	require.NoError(t, err)

	require.Equal(t, 4, trends.Total)
	require.Equal(t, 2, trends.Green)
	require.Equal(t, 1, trends.Amber)
	require.Equal(t, 1, trends.Red)
	require.InDelta(t, 50.0, trends.GreenPct, 0.001)
	require.InDelta(t, 25.0, trends.RedPct, 0.001)
	// Two of three active definitions were reviewed.
	require.Equal(t, 2, trends.ReviewedDefinitions)
	require.Equal(t, 3, trends.ActiveDefinitions)
	require.InDelta(t, 2.0/3.0, trends.Coverage, 0.001)
}
