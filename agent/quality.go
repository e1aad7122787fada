package agent

import (
	"context"
	"strings"

	"goa.design/clue/log"
)

// qualityFindings is the advisory heuristic score of a finished answer.
// Quality review never blocks finalisation; findings are logged.
type qualityFindings struct {
	Completeness    float64
	Clarity         float64
	Professionalism float64
	HasDisclaimer   bool
	Approved        bool
}

// reviewQuality scores the answer heuristically. Auto-approve mode accepts
// every answer regardless of score.
func (p *Pipeline) reviewQuality(ctx context.Context, query, content string, autoApprove bool) qualityFindings {
	f := qualityFindings{
		Completeness:    completenessScore(query, content),
		Clarity:         clarityScore(content),
		Professionalism: professionalismScore(content),
		HasDisclaimer:   strings.Contains(content, "does not constitute legal advice"),
	}
	f.Approved = autoApprove || (f.Completeness >= 0.5 && f.Clarity >= 0.5 && f.Professionalism >= 0.5 && f.HasDisclaimer)
	log.Debugf(ctx, "agent: quality review completeness=%.2f clarity=%.2f professionalism=%.2f disclaimer=%t approved=%t (advisory, never blocking)",
		f.Completeness, f.Clarity, f.Professionalism, f.HasDisclaimer, f.Approved)
	return f
}

func completenessScore(query, content string) float64 {
	if len(content) < 80 {
		return 0.2
	}
	// Crude lexical overlap between query terms and the answer.
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0.5
	}
	lower := strings.ToLower(content)
	hit := 0
	for _, term := range terms {
		if len(term) > 3 && strings.Contains(lower, term) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

func clarityScore(content string) float64 {
	sentences := strings.Count(content, ". ") + strings.Count(content, ".\n") + 1
	words := len(strings.Fields(content))
	if words == 0 {
		return 0
	}
	avg := float64(words) / float64(sentences)
	switch {
	case avg <= 25:
		return 1.0
	case avg <= 40:
		return 0.6
	default:
		return 0.3
	}
}

func professionalismScore(content string) float64 {
	lower := strings.ToLower(content)
	for _, marker := range []string{"i think maybe", "no idea", "lol", "whatever"} {
		if strings.Contains(lower, marker) {
			return 0.2
		}
	}
	return 1.0
}
