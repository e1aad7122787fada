package agent

import (
	"fmt"

	"github.com/clearline-ai/clearline/store"
	"github.com/clearline-ai/clearline/verify"
)

// highConfidenceRatio is the verified-citation ratio required for a high
// score.
const highConfidenceRatio = 0.8

// scoreConfidence is the deterministic confidence policy: any removed
// citation forces low; a verified ratio of at least 0.8 with at least one
// knowledge source in play scores high; everything else is medium.
func scoreConfidence(v *verify.Result, sourcesUsed int) (store.ConfidenceLevel, string) {
	if v != nil && v.Removed > 0 {
		return store.ConfidenceLow, fmt.Sprintf("%d citation(s) could not be found and were removed", v.Removed)
	}
	if v != nil && v.Checked > 0 && sourcesUsed >= 1 {
		ratio := float64(v.Verified) / float64(v.Checked)
		if ratio >= highConfidenceRatio {
			return store.ConfidenceHigh, fmt.Sprintf("%d of %d citations verified against grounded sources", v.Verified, v.Checked)
		}
	}
	return store.ConfidenceMedium, "answer is plausible but not fully verified"
}
