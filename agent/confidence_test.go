package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/store"
	"github.com/clearline-ai/clearline/verify"
)

func TestConfidenceRemovedCitationForcesLow(t *testing.T) {
	v := &verify.Result{Checked: 3, Verified: 2, Removed: 1}
	level, reason := scoreConfidence(v, 5)
	require.Equal(t, store.ConfidenceLow, level)
	require.Contains(t, reason, "removed")
}

func TestConfidenceHighRequiresRatioAndSources(t *testing.T) {
	v := &verify.Result{Checked: 5, Verified: 4}
	level, _ := scoreConfidence(v, 3)
	require.Equal(t, store.ConfidenceHigh, level)

	// Same ratio without any retrieved source stays medium.
	level, _ = scoreConfidence(v, 0)
	require.Equal(t, store.ConfidenceMedium, level)

	// Below the 0.8 ratio stays medium.
	v = &verify.Result{Checked: 5, Verified: 3, Unverified: 2}
	level, _ = scoreConfidence(v, 3)
	require.Equal(t, store.ConfidenceMedium, level)
}

func TestConfidenceNoCitationsIsMedium(t *testing.T) {
	level, _ := scoreConfidence(&verify.Result{}, 4)
	require.Equal(t, store.ConfidenceMedium, level)

	level, _ = scoreConfidence(nil, 0)
	require.Equal(t, store.ConfidenceMedium, level)
}

func TestConfidenceExactRatioBoundary(t *testing.T) {
	// 4/5 = 0.8 is high; removed still dominates at any ratio.
	level, _ := scoreConfidence(&verify.Result{Checked: 5, Verified: 4, Unverified: 1}, 1)
	require.Equal(t, store.ConfidenceHigh, level)

	level, _ = scoreConfidence(&verify.Result{Checked: 5, Verified: 4, Removed: 1}, 1)
	require.Equal(t, store.ConfidenceLow, level)
}
