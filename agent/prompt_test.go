package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/retrieval"
	"github.com/clearline-ai/clearline/store"
)

func TestSystemPromptIncludesPersonaAndSkills(t *testing.T) {
	persona := &store.Persona{Instructions: "Answer as a housing officer would, plainly."}
	decision := RouterDecision{Sources: []string{SourceUKLegislation, SourceInternalPolicies}}
	prompt := buildSystemPrompt(persona, decision, &Knowledge{})

	require.Contains(t, prompt, "housing officer")
	require.Contains(t, prompt, "## Legal research")
	require.Contains(t, prompt, "## Policy interpretation")
	require.NotContains(t, prompt, "## Case law analysis")
}

func TestSystemPromptFormatsKnowledgeContext(t *testing.T) {
	k := &Knowledge{
		Legal: []LegalItem{
			{Act: "Housing Act 1985", Section: "8", Excerpt: "the landlord condition"},
			{Act: "Housing Act 1957", Historical: true},
		},
		Policies: []retrieval.Result{
			{DocumentName: "Allocations Policy", Category: "allocations", Content: "priority banding rules"},
		},
	}
	prompt := buildSystemPrompt(nil, RouterDecision{}, k)

	require.Contains(t, prompt, "Housing Act 1985, s.8: the landlord condition")
	require.Contains(t, prompt, "historical: pre-1963")
	require.Contains(t, prompt, "Allocations Policy (allocations): priority banding rules")
	require.Contains(t, prompt, "## Knowledge context")
}

func TestSystemPromptOmitsEmptyKnowledge(t *testing.T) {
	prompt := buildSystemPrompt(nil, RouterDecision{}, &Knowledge{})
	require.NotContains(t, prompt, "## Knowledge context")
}

func TestTrimHistoryDropsDuplicateTrailingQuery(t *testing.T) {
	history := []store.Message{
		{Role: store.RoleUser, Content: "first question"},
		{Role: store.RoleAssistant, Content: "first answer"},
		{Role: store.RoleUser, Content: "current question"},
	}
	trimmed := trimHistory(history, "current question")
	require.Len(t, trimmed, 2)
	require.Equal(t, "first answer", trimmed[1].Content)

	// A trailing assistant message is never dropped.
	trimmed = trimHistory(history[:2], "current question")
	require.Len(t, trimmed, 2)
}

func TestActivatedSkillsStableOrder(t *testing.T) {
	d := RouterDecision{Sources: []string{SourceInternalPolicies, SourceCaseLaw, SourceUKLegislation}}
	blocks := activatedSkills(d)
	require.Len(t, blocks, 3)
	require.Contains(t, blocks[0], "Legal research")
	require.Contains(t, blocks[1], "Case law analysis")
	require.Contains(t, blocks[2], "Policy interpretation")
}
