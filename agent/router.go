// Package agent runs the conversation pipeline: route, retrieve, stream,
// verify, score and finalise one assistant answer per user query, emitting
// progress events to the conversation's channel throughout.
package agent

import (
	"context"
	"time"

	"github.com/clearline-ai/clearline/model"
)

// Knowledge source names the router can activate.
const (
	SourceUKLegislation    = "uk-legislation"
	SourceCaseLaw          = "case-law"
	SourceInternalPolicies = "internal-policies"
)

// RouterDecision is the fast-model classification of a user query.
type RouterDecision struct {
	Intent     string   `json:"intent"`
	Sources    []string `json:"sources"`
	Complexity string   `json:"complexity"`
	Reasoning  string   `json:"reasoning"`
}

var routerSchema = model.MustCompileSchema("router", `{
	"type": "object",
	"properties": {
		"intent": {"type": "string"},
		"sources": {
			"type": "array",
			"items": {"type": "string", "enum": ["uk-legislation", "case-law", "internal-policies"]}
		},
		"complexity": {"type": "string", "enum": ["simple", "moderate", "complex"]},
		"reasoning": {"type": "string"}
	},
	"required": ["intent", "sources"]
}`)

const routerPrompt = `You classify questions for a UK social housing compliance assistant.
Given the user's question, respond with JSON only:
{"intent": "<short label>", "sources": [...], "complexity": "simple|moderate|complex", "reasoning": "<one sentence>"}
Available sources: "uk-legislation" (acts and statutory instruments), "case-law" (court decisions), "internal-policies" (the organisation's own policy documents).
Pick every source that could ground the answer; pick none for small talk.`

// route classifies the query on the fast tier with a JSON-constrained call.
func (p *Pipeline) route(ctx context.Context, query string) (RouterDecision, error) {
	var decision RouterDecision
	req := model.Request{
		Tier:      model.TierFast,
		System:    routerPrompt,
		Messages:  []model.Message{{Role: model.RoleUser, Content: query}},
		MaxTokens: 512,
	}
	if err := model.GenerateJSON(ctx, p.model, req, routerSchema, &decision); err != nil {
		return RouterDecision{}, err
	}
	return decision, nil
}

// wantsSource reports whether the router activated the named source.
func (d RouterDecision) wantsSource(name string) bool {
	for _, s := range d.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// stageTimer measures stage durations for agent-complete events.
func stageTimer() func() int64 {
	start := time.Now()
	return func() int64 { return time.Since(start).Milliseconds() }
}
