package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/clearline-ai/clearline/model"
)

// summaryMaxTokens bounds the generated executive summary.
const summaryMaxTokens = 500

const summaryPrompt = `You write the executive summary of a policy compliance review for UK social housing professionals.
Summarise the overall position, the most serious findings and the key remediation themes in plain prose.
Do not invent findings; use only the review data provided. At most three short paragraphs.`

// summarise asks the main model for the free-text executive summary of the
// assembled report.
func (e *Engine) summarise(ctx context.Context, policyName string, report *Report) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "policy: %s\noverall rating: %s\n\n## Criteria\n", policyName, report.Overall)
	for _, c := range report.Criteria {
		fmt.Fprintf(&b, "- %s (%s priority): %s: %s\n", c.Name, c.Priority, c.Rating, c.Justification)
	}
	if len(report.Gaps) > 0 {
		b.WriteString("\n## Gaps\n")
		for _, g := range report.Gaps {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", g.Severity, g.Name, g.Description)
		}
	}

	resp, err := e.model.Complete(ctx, model.Request{
		Tier:      model.TierStandard,
		System:    summaryPrompt,
		Messages:  []model.Message{{Role: model.RoleUser, Content: b.String()}},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
