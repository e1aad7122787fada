package review

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clearline-ai/clearline/store"
)

type (
	// Rating is the red/amber/green compliance rating.
	Rating string

	// Severity classifies a gap.
	Severity string

	// ActionPriority orders recommended actions.
	ActionPriority string

	// CriterionResult is the evaluated outcome of one compliance criterion.
	CriterionResult struct {
		Name            string   `json:"name"`
		Priority        string   `json:"priority"`
		Rating          Rating   `json:"rating"`
		Justification   string   `json:"justification"`
		Citations       []string `json:"citations,omitempty"`
		Recommendations []string `json:"recommendations,omitempty"`
	}

	// Gap is one identified shortfall: a required section absent from the
	// document or a criterion rated red.
	Gap struct {
		Kind        GapKind  `json:"kind"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Severity    Severity `json:"severity"`
	}

	// GapKind distinguishes the two mechanical gap sources.
	GapKind string

	// Action is one recommended remediation lifted from a non-green
	// criterion.
	Action struct {
		Description string         `json:"description"`
		Priority    ActionPriority `json:"priority"`
		Criterion   string         `json:"criterion"`
	}

	// Identification records the policy-type identification outcome when the
	// caller did not supply a definition.
	Identification struct {
		MatchedURI   string   `json:"matched_uri,omitempty"`
		Confidence   float64  `json:"confidence"`
		Reasoning    string   `json:"reasoning,omitempty"`
		Alternatives []string `json:"alternatives,omitempty"`
	}

	// Report is the assembled review result persisted on the review row.
	Report struct {
		PolicyName     string            `json:"policy_name"`
		DefinitionURI  string            `json:"definition_uri"`
		Overall        Rating            `json:"overall"`
		Identification *Identification   `json:"identification,omitempty"`
		Criteria       []CriterionResult `json:"criteria"`
		Gaps           []Gap             `json:"gaps,omitempty"`
		Actions        []Action          `json:"actions,omitempty"`
		Summary        string            `json:"summary,omitempty"`
	}

	// Failure is the result blob recorded when a review fails.
	Failure struct {
		Code    string `json:"error_code"`
		Message string `json:"message"`
	}
)

const (
	RatingGreen Rating = "green"
	RatingAmber Rating = "amber"
	RatingRed   Rating = "red"

	SeverityCritical  Severity = "critical"
	SeverityImportant Severity = "important"

	GapMissingSection  GapKind = "missing-section"
	GapFailedCriterion GapKind = "failed-criterion"

	PriorityCritical  ActionPriority = "critical"
	PriorityImportant ActionPriority = "important"
	PriorityAdvisory  ActionPriority = "advisory"
)

// Stable error codes recorded on failed reviews.
const (
	CodeTimeout    = "POLICY_REVIEW_TIMEOUT"
	CodeValidation = "VALIDATION_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
)

// PriorityHigh is the criterion priority whose red rating dominates the
// rollup.
const PriorityHigh = "high"

// Rollup derives the overall rating from the per-criterion results. The
// policy is deterministic and model-free: a red high-priority criterion
// forces red; more than ⌈N/3⌉ reds force red; more than ⌈N/3⌉ ambers, or any
// red at all, force amber; an empty definition is treated as failing.
func Rollup(criteria []CriterionResult) Rating {
	n := len(criteria)
	if n == 0 {
		return RatingRed
	}
	var reds, ambers int
	for _, c := range criteria {
		switch c.Rating {
		case RatingRed:
			if c.Priority == PriorityHigh {
				return RatingRed
			}
			reds++
		case RatingAmber:
			ambers++
		}
	}
	threshold := (n + 2) / 3 // ⌈N/3⌉
	switch {
	case reds > threshold:
		return RatingRed
	case ambers > threshold || reds > 0:
		return RatingAmber
	default:
		return RatingGreen
	}
}

// AnalyseGaps mechanically derives the gap list: one entry per required
// section absent from the document (case-insensitive substring match) and
// one per criterion rated red.
func AnalyseGaps(def *store.PolicyDefinition, documentText string, criteria []CriterionResult) []Gap {
	var gaps []Gap
	lower := strings.ToLower(documentText)
	for _, section := range def.RequiredSectionList() {
		if section == "" || strings.Contains(lower, strings.ToLower(section)) {
			continue
		}
		gaps = append(gaps, Gap{
			Kind:        GapMissingSection,
			Name:        section,
			Description: fmt.Sprintf("required section %q was not found in the document", section),
			Severity:    SeverityCritical,
		})
	}
	for _, c := range criteria {
		if c.Rating != RatingRed {
			continue
		}
		severity := SeverityImportant
		if c.Priority == PriorityHigh {
			severity = SeverityCritical
		}
		gaps = append(gaps, Gap{
			Kind:        GapFailedCriterion,
			Name:        c.Name,
			Description: c.Justification,
			Severity:    severity,
		})
	}
	return gaps
}

// RecommendActions lifts the recommendations of every non-green criterion
// into prioritised action items: critical for red high-priority criteria,
// important for other reds, advisory otherwise, sorted most urgent first.
func RecommendActions(criteria []CriterionResult) []Action {
	var actions []Action
	for _, c := range criteria {
		if c.Rating == RatingGreen {
			continue
		}
		priority := PriorityAdvisory
		switch {
		case c.Rating == RatingRed && c.Priority == PriorityHigh:
			priority = PriorityCritical
		case c.Rating == RatingRed:
			priority = PriorityImportant
		}
		for _, rec := range c.Recommendations {
			actions = append(actions, Action{Description: rec, Priority: priority, Criterion: c.Name})
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actionRank(actions[i].Priority) < actionRank(actions[j].Priority)
	})
	return actions
}

func actionRank(p ActionPriority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityImportant:
		return 1
	default:
		return 2
	}
}
