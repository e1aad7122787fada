package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/clearline-ai/clearline/events"
	"github.com/clearline-ai/clearline/legislation"
	"github.com/clearline-ai/clearline/model"
	"github.com/clearline-ai/clearline/retrieval"
	"github.com/clearline-ai/clearline/store"
)

// contextResultLimit is how many guidance chunks and legislation sections
// feed each criterion evaluation.
const contextResultLimit = 5

// evaluateDocumentLen bounds the document text sent with each criterion.
const evaluateDocumentLen = 12000

var criterionSchema = model.MustCompileSchema("criterion-rating", `{
	"type": "object",
	"properties": {
		"rating": {"type": "string", "enum": ["green", "amber", "red"]},
		"justification": {"type": "string"},
		"citations": {"type": "array", "items": {"type": "string"}},
		"recommendations": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["rating", "justification"]
}`)

const evaluatePrompt = `You assess one compliance criterion of a UK social housing policy document.
Judge only the named criterion, grounded in the document text, the tenant guidance and the legislation provided.
Respond with JSON only:
{"rating": "green|amber|red", "justification": "<why>", "citations": ["<legislation or guidance backing the judgement>"], "recommendations": ["<concrete improvement, empty when green>"]}
green = fully satisfied, amber = partially satisfied or unclear, red = not satisfied.`

// evaluateCriteria runs every criterion through retrieval and the main
// model. Evaluations overlap up to the worker bound; results land at their
// criterion's index so output order is stable. Progress events are ordered
// per criterion; ordering between criteria is not guaranteed.
func (e *Engine) evaluateCriteria(ctx context.Context, r *runState, def *store.PolicyDefinition, criteria []store.ComplianceCriterion, documentText string) ([]CriterionResult, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	amendments := e.amendmentContext(ctx, def)
	if len(documentText) > evaluateDocumentLen {
		documentText = documentText[:evaluateDocumentLen]
	}

	results := make([]CriterionResult, len(criteria))
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, criterion := range criteria {
		g.Go(func() error {
			res, err := e.evaluateCriterion(gctx, r.tenant, criterion, documentText, amendments)
			if err != nil {
				return fmt.Errorf("criterion %q: %w", criterion.Name, err)
			}
			results[i] = res

			mu.Lock()
			done++
			soFar := done
			mu.Unlock()
			e.publish(ctx, r, events.NewPolicyReviewCitationProgress(soFar, len(criteria)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluateCriterion gathers context for one criterion and asks the main
// model for a strict-schema rating.
func (e *Engine) evaluateCriterion(ctx context.Context, tenant uuid.UUID, criterion store.ComplianceCriterion, documentText, amendments string) (CriterionResult, error) {
	guidance := e.guidanceContext(ctx, tenant, criterion)
	sections, err := e.legislationContext(ctx, criterion)
	if err != nil {
		return CriterionResult{}, err
	}

	var out struct {
		Rating          string   `json:"rating"`
		Justification   string   `json:"justification"`
		Citations       []string `json:"citations"`
		Recommendations []string `json:"recommendations"`
	}
	req := model.Request{
		Tier:      model.TierStandard,
		System:    evaluatePrompt,
		Messages:  []model.Message{{Role: model.RoleUser, Content: evaluateUserMessage(criterion, documentText, guidance, sections, amendments)}},
		MaxTokens: 1024,
	}
	if err := model.GenerateJSON(ctx, e.model, req, criterionSchema, &out); err != nil {
		return CriterionResult{}, err
	}
	return CriterionResult{
		Name:            criterion.Name,
		Priority:        criterion.Priority,
		Rating:          Rating(out.Rating),
		Justification:   out.Justification,
		Citations:       out.Citations,
		Recommendations: out.Recommendations,
	}, nil
}

// guidanceContext retrieves tenant guidance for the criterion. Retrieval
// trouble degrades to no guidance rather than failing the criterion.
func (e *Engine) guidanceContext(ctx context.Context, tenant uuid.UUID, criterion store.ComplianceCriterion) []retrieval.Result {
	results, err := e.search.Search(ctx, retrieval.Query{
		Tenant: tenant,
		Text:   criterion.Name + ": " + criterion.Description,
		Limit:  contextResultLimit,
	})
	if err != nil {
		log.Errorf(ctx, err, "review: guidance retrieval for %q degraded to empty", criterion.Name)
		return nil
	}
	return results
}

// legislationContext retrieves legislation sections for the criterion.
// Transient and service failures degrade to no sections; a not-found from
// the gateway surfaces, failing the review.
func (e *Engine) legislationContext(ctx context.Context, criterion store.ComplianceCriterion) ([]legislation.Section, error) {
	res, err := e.legislation.SearchSections(ctx, criterion.Description)
	if err != nil {
		if errors.Is(err, legislation.ErrNotFound) {
			return nil, err
		}
		log.Errorf(ctx, err, "review: legislation retrieval for %q degraded to empty", criterion.Name)
		return nil, nil
	}
	var sections []legislation.Section
	for _, raw := range res.Results {
		var s legislation.Section
		if json.Unmarshal(raw, &s) != nil {
			continue
		}
		sections = append(sections, s)
		if len(sections) == contextResultLimit {
			break
		}
	}
	return sections, nil
}

// amendmentContext looks up recent amendments for the definition's
// legislation references once per review. Amendment errors are tolerated;
// the evaluation proceeds without them.
func (e *Engine) amendmentContext(ctx context.Context, def *store.PolicyDefinition) string {
	var refs []string
	if len(def.Legislation) > 0 {
		_ = json.Unmarshal(def.Legislation, &refs)
	}
	var b strings.Builder
	for _, ref := range refs {
		res, err := e.legislation.SearchAmendments(ctx, ref)
		if err != nil {
			log.Debugf(ctx, "review: amendment lookup for %q tolerated failure: %v", ref, err)
			continue
		}
		for _, raw := range res.Results {
			var a legislation.Amendment
			if json.Unmarshal(raw, &a) != nil {
				continue
			}
			fmt.Fprintf(&b, "- %s (%d): %s\n", ref, a.Year, a.Note)
		}
	}
	return b.String()
}

func evaluateUserMessage(criterion store.ComplianceCriterion, documentText string, guidance []retrieval.Result, sections []legislation.Section, amendments string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Criterion\nname: %s\npriority: %s\ntype: %s\ndescription: %s\n",
		criterion.Name, criterion.Priority, criterion.Type, criterion.Description)
	if len(guidance) > 0 {
		b.WriteString("\n## Tenant guidance\n")
		for _, g := range guidance {
			fmt.Fprintf(&b, "- %s: %s\n", g.DocumentName, g.Content)
		}
	}
	if len(sections) > 0 {
		b.WriteString("\n## Legislation\n")
		for _, s := range sections {
			fmt.Fprintf(&b, "- s.%s %s: %s\n", s.Number, s.Title, s.Content)
		}
	}
	if amendments != "" {
		b.WriteString("\n## Recent amendments\n")
		b.WriteString(amendments)
	}
	b.WriteString("\n## Policy document\n")
	b.WriteString(documentText)
	return b.String()
}
