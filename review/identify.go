package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/events"
	"github.com/clearline-ai/clearline/model"
	"github.com/clearline-ai/clearline/store"
)

// identifyExcerptLen is how much of the document the fast model sees during
// type identification.
const identifyExcerptLen = 2000

var typeSchema = model.MustCompileSchema("policy-type", `{
	"type": "object",
	"properties": {
		"matched_uri": {"type": ["string", "null"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning": {"type": "string"},
		"alternatives": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["matched_uri", "confidence"]
}`)

const identifyPrompt = `You identify which policy type an uploaded document is, from a fixed catalogue.
Respond with JSON only:
{"matched_uri": "<catalogue uri or null>", "confidence": 0.0-1.0, "reasoning": "<one sentence>", "alternatives": ["<other plausible uris>"]}
Use null for matched_uri when no catalogue entry fits. Confidence reflects how certain the match is, not document quality.`

// identifyPolicyType asks the fast model to match the document against the
// tenant's active definitions. Confidence below the threshold or an
// unmatchable URI aborts the review with a validation error.
func (e *Engine) identifyPolicyType(ctx context.Context, r *runState, documentText string) (*Identification, *store.PolicyDefinition, error) {
	defs, err := r.sess.ActivePolicyDefinitions(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(defs) == 0 {
		return nil, nil, errs.New(errs.KindValidation, "tenant has no active policy definitions to match against")
	}
	e.publish(ctx, r, events.NewPolicyReviewStatus(string(store.ReviewProcessing), "identifying policy type"))

	var out struct {
		MatchedURI   *string  `json:"matched_uri"`
		Confidence   float64  `json:"confidence"`
		Reasoning    string   `json:"reasoning"`
		Alternatives []string `json:"alternatives"`
	}
	req := model.Request{
		Tier:      model.TierFast,
		System:    identifyPrompt,
		Messages:  []model.Message{{Role: model.RoleUser, Content: identifyUserMessage(defs, documentText)}},
		MaxTokens: 512,
	}
	if err := model.GenerateJSON(ctx, e.model, req, typeSchema, &out); err != nil {
		return nil, nil, err
	}

	identified := &Identification{
		Confidence:   out.Confidence,
		Reasoning:    out.Reasoning,
		Alternatives: out.Alternatives,
	}
	if out.MatchedURI != nil {
		identified.MatchedURI = *out.MatchedURI
	}
	if out.MatchedURI == nil {
		return nil, nil, errs.New(errs.KindValidation, "no policy definition matches the document")
	}
	if out.Confidence < e.minTypeConfidence {
		return nil, nil, errs.Newf(errs.KindValidation,
			"policy type identification confidence %.2f is below the %.2f threshold", out.Confidence, e.minTypeConfidence)
	}
	for i := range defs {
		if strings.EqualFold(defs[i].URI, *out.MatchedURI) {
			return identified, &defs[i], nil
		}
	}
	return nil, nil, errs.Newf(errs.KindValidation, "identified policy type %q is not an active definition", *out.MatchedURI)
}

// identifyUserMessage renders the catalogue and the document head for the
// fast model.
func identifyUserMessage(defs []store.PolicyDefinition, documentText string) string {
	var b strings.Builder
	b.WriteString("## Policy type catalogue\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "- uri: %s\n  name: %s\n", def.URI, def.Name)
		if variants := def.NameVariantList(); len(variants) > 0 {
			fmt.Fprintf(&b, "  also known as: %s\n", strings.Join(variants, ", "))
		}
		if sections := def.RequiredSectionList(); len(sections) > 0 {
			fmt.Fprintf(&b, "  required sections: %s\n", strings.Join(sections, ", "))
		}
	}
	b.WriteString("\n## Document (beginning)\n")
	excerpt := documentText
	if len(excerpt) > identifyExcerptLen {
		excerpt = excerpt[:identifyExcerptLen]
	}
	b.WriteString(excerpt)
	return b.String()
}
