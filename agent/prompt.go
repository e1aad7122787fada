package agent

import (
	"fmt"
	"strings"

	"github.com/clearline-ai/clearline/store"
)

// basePrompt grounds every orchestrator call.
const basePrompt = `You are Clearline, an assistant for UK social housing professionals.
You answer questions about housing law, regulatory compliance and the
organisation's own policies. Ground every substantive claim in the knowledge
context below or in legislation you are certain of, and cite your sources
inline. If the knowledge context does not cover the question, say so rather
than guessing. You are not a solicitor and you do not give legal advice.`

// Disclaimer is appended to every assistant answer, streamed like any other
// content.
const Disclaimer = "\n\n---\n*This response is for general guidance only and" +
	" does not constitute legal advice. For decisions with legal consequences," +
	" consult a qualified solicitor.*"

// buildSystemPrompt assembles base prompt + persona instructions + activated
// skill blocks + the formatted knowledge context.
func buildSystemPrompt(persona *store.Persona, decision RouterDecision, knowledge *Knowledge) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if persona != nil && persona.Instructions != "" {
		b.WriteString("\n\n## Persona\n")
		b.WriteString(persona.Instructions)
	}

	for _, block := range activatedSkills(decision) {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	if ctx := formatKnowledgeContext(knowledge); ctx != "" {
		b.WriteString("\n\n## Knowledge context\n")
		b.WriteString(ctx)
		b.WriteString("\nCite these sources using the formats described above.")
	}
	return b.String()
}

// formatKnowledgeContext renders the retrieved sources for the model.
func formatKnowledgeContext(k *Knowledge) string {
	if k == nil || k.Empty() {
		return ""
	}
	var b strings.Builder
	if len(k.Legal) > 0 {
		b.WriteString("### UK legislation\n")
		for _, item := range k.Legal {
			b.WriteString("- ")
			b.WriteString(item.Act)
			if item.Section != "" {
				fmt.Fprintf(&b, ", s.%s", item.Section)
			}
			if item.Historical {
				b.WriteString(" [historical: pre-1963, verify current status]")
			}
			if item.Excerpt != "" {
				b.WriteString(": ")
				b.WriteString(item.Excerpt)
			}
			b.WriteString("\n")
		}
	}
	if len(k.CaseLaw) > 0 {
		b.WriteString("### Case law\n")
		for _, item := range k.CaseLaw {
			fmt.Fprintf(&b, "- %s %s", item.Case, item.Citation)
			if item.Excerpt != "" {
				b.WriteString(": ")
				b.WriteString(item.Excerpt)
			}
			b.WriteString("\n")
		}
	}
	if len(k.Policies) > 0 {
		b.WriteString("### Internal policies\n")
		for _, r := range k.Policies {
			fmt.Fprintf(&b, "- %s", r.DocumentName)
			if r.Category != "" {
				fmt.Fprintf(&b, " (%s)", r.Category)
			}
			b.WriteString(": ")
			if r.ContextPrefix != "" {
				b.WriteString(r.ContextPrefix)
				b.WriteString(" ")
			}
			b.WriteString(r.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// trimHistory keeps the last historyLimit messages and drops a trailing user
// message that duplicates the current query, so the query is never sent
// twice.
func trimHistory(history []store.Message, query string) []store.Message {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == store.RoleUser && last.Content == query {
			history = history[:n-1]
		}
	}
	return history
}
