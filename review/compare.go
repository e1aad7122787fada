package review

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/store"
)

type (
	// CriterionDelta pairs one criterion's rating across two reviews.
	// Criteria are paired by name, not by reference, so no graph walk is
	// needed.
	CriterionDelta struct {
		Name     string `json:"name"`
		Previous Rating `json:"previous,omitempty"`
		Current  Rating `json:"current,omitempty"`
		Changed  bool   `json:"changed"`
	}

	// Comparison is the model-free diff of two completed reviews of the
	// same definition.
	Comparison struct {
		PreviousID      uuid.UUID        `json:"previous_id"`
		CurrentID       uuid.UUID        `json:"current_id"`
		PreviousOverall Rating           `json:"previous_overall"`
		CurrentOverall  Rating           `json:"current_overall"`
		Criteria        []CriterionDelta `json:"criteria"`
	}

	// Trends aggregates completed reviews for a tenant over a date range.
	Trends struct {
		From  time.Time `json:"from"`
		To    time.Time `json:"to"`
		Total int       `json:"total"`

		Green int `json:"green"`
		Amber int `json:"amber"`
		Red   int `json:"red"`

		GreenPct float64 `json:"green_pct"`
		AmberPct float64 `json:"amber_pct"`
		RedPct   float64 `json:"red_pct"`

		// Coverage is distinct reviewed definitions over total active
		// required definitions.
		ReviewedDefinitions int     `json:"reviewed_definitions"`
		ActiveDefinitions   int     `json:"active_definitions"`
		Coverage            float64 `json:"coverage"`
	}
)

// Compare diffs two completed reviews of the same definition, pairing
// criteria by name. Purely data; no model call.
func (e *Engine) Compare(ctx context.Context, tenant, previousID, currentID uuid.UUID) (*Comparison, error) {
	sess, err := e.store.Session(ctx, tenant)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	previous, prevReport, err := loadCompletedReport(ctx, sess, previousID)
	if err != nil {
		return nil, err
	}
	current, currReport, err := loadCompletedReport(ctx, sess, currentID)
	if err != nil {
		return nil, err
	}
	if previous.DefinitionID == nil || current.DefinitionID == nil || *previous.DefinitionID != *current.DefinitionID {
		return nil, errs.New(errs.KindValidation, "reviews do not reference the same policy definition")
	}

	cmp := &Comparison{
		PreviousID:      previous.ID,
		CurrentID:       current.ID,
		PreviousOverall: prevReport.Overall,
		CurrentOverall:  currReport.Overall,
	}
	prevByName := make(map[string]CriterionResult, len(prevReport.Criteria))
	for _, c := range prevReport.Criteria {
		prevByName[strings.ToLower(c.Name)] = c
	}
	seen := make(map[string]bool, len(currReport.Criteria))
	for _, c := range currReport.Criteria {
		key := strings.ToLower(c.Name)
		seen[key] = true
		delta := CriterionDelta{Name: c.Name, Current: c.Rating}
		if prev, ok := prevByName[key]; ok {
			delta.Previous = prev.Rating
		}
		delta.Changed = delta.Previous != delta.Current
		cmp.Criteria = append(cmp.Criteria, delta)
	}
	for _, c := range prevReport.Criteria {
		if seen[strings.ToLower(c.Name)] {
			continue
		}
		cmp.Criteria = append(cmp.Criteria, CriterionDelta{Name: c.Name, Previous: c.Rating, Changed: true})
	}
	return cmp, nil
}

// ComputeTrends aggregates the tenant's completed reviews over the date
// range: rating counts, percentages, and required-policy coverage.
func (e *Engine) ComputeTrends(ctx context.Context, tenant uuid.UUID, from, to time.Time) (*Trends, error) {
	sess, err := e.store.Session(ctx, tenant)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	reviews, err := sess.CompletedPolicyReviews(ctx, from, to)
	if err != nil {
		return nil, err
	}
	defs, err := sess.ActivePolicyDefinitions(ctx)
	if err != nil {
		return nil, err
	}

	t := &Trends{From: from, To: to, ActiveDefinitions: len(defs)}
	reviewed := make(map[uuid.UUID]bool)
	for _, review := range reviews {
		var report Report
		if len(review.Result) == 0 || json.Unmarshal(review.Result, &report) != nil {
			continue
		}
		t.Total++
		switch report.Overall {
		case RatingGreen:
			t.Green++
		case RatingAmber:
			t.Amber++
		case RatingRed:
			t.Red++
		}
		if review.DefinitionID != nil {
			reviewed[*review.DefinitionID] = true
		}
	}
	t.ReviewedDefinitions = len(reviewed)
	if t.Total > 0 {
		t.GreenPct = float64(t.Green) / float64(t.Total) * 100
		t.AmberPct = float64(t.Amber) / float64(t.Total) * 100
		t.RedPct = float64(t.Red) / float64(t.Total) * 100
	}
	if len(defs) > 0 {
		t.Coverage = float64(t.ReviewedDefinitions) / float64(len(defs))
	}
	return t, nil
}

func loadCompletedReport(ctx context.Context, sess Session, id uuid.UUID) (*store.PolicyReview, *Report, error) {
	review, err := sess.GetPolicyReview(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if review.State != store.ReviewComplete {
		return nil, nil, errs.Newf(errs.KindValidation, "review %s is %s, not complete", id, review.State)
	}
	var report Report
	if err := json.Unmarshal(review.Result, &report); err != nil {
		return nil, nil, errs.Wrap(errs.KindInternal, "decode review result", err)
	}
	return review, &report, nil
}
