package agent

// Skill blocks are prompt fragments activated by the router's source set.
// Each block teaches the orchestrator how to use one knowledge source and
// the citation format reviewers expect.
var skillBlocks = map[string]string{
	SourceUKLegislation: `## Legal research
When citing legislation, always name the act and year exactly as enacted,
followed by the section where relevant, e.g. "Housing Act 1985, s.8(1)".
Prefer current instruments; when a source is flagged historical, say so and
point to the current equivalent where one is provided. Never cite an act you
have not been given in the knowledge context.`,

	SourceCaseLaw: `## Case law analysis
Cite cases by party names and neutral citation, e.g. "R v Smith [2020] EWCA
Crim 123". State the principle the case establishes before applying it to
the question. Distinguish binding from persuasive authority where the court
is apparent from the citation.`,

	SourceInternalPolicies: `## Policy interpretation
When drawing on the organisation's own policy documents, name the document
and section, e.g. "Allocations Policy, Section 4". Where a policy is
stricter than the underlying legislation, apply the policy and say that it
goes beyond the statutory minimum.`,
}

// activatedSkills returns the skill blocks for the router's source set, in a
// stable order.
func activatedSkills(d RouterDecision) []string {
	var blocks []string
	for _, source := range []string{SourceUKLegislation, SourceCaseLaw, SourceInternalPolicies} {
		if d.wantsSource(source) {
			blocks = append(blocks, skillBlocks[source])
		}
	}
	return blocks
}
