// Package verify checks citations in generated assistant text against the
// authoritative legislation source. Extraction is regex-based over three
// citation kinds; every citation ends up verified, unverified or removed,
// and the aggregate feeds confidence scoring and the user-visible badge.
package verify

import (
	"regexp"
	"strings"
)

type (
	// Kind is the citation category.
	Kind string

	// Citation is one extracted authority reference.
	Citation struct {
		Kind Kind
		// Text is the literal citation with any leading connective stripped,
		// e.g. "Housing Act 1985, s.8(1)".
		Text string
		// ActName is set for legislation citations ("Housing Act 1985").
		ActName string
		// Section is set when the citation names a provision ("8(1)").
		Section string
		// CaseName and NeutralCitation are set for case-law citations.
		CaseName        string
		NeutralCitation string
		// DocumentName is set for policy-document citations.
		DocumentName string
	}
)

const (
	KindLegislation Kind = "legislation"
	KindCaseLaw     Kind = "case_law"
	KindPolicy      Kind = "policy"
)

var (
	// "Housing Act 1985, s.8(1)": act name, year, optional section and
	// subsection. Lowercase connectors are allowed inside act names
	// (Landlord and Tenant Act 1985, Law of Property Act 1925).
	legislationRe = regexp.MustCompile(`\b((?:The\s+)?[A-Z][A-Za-z']*(?:\s+(?:[A-Z][A-Za-z']*|and|of|for))*\s+Act\s+\d{4})(,?\s*s\.\s*(\d+[A-Z]?(?:\(\d+[a-z]?\))?))?`)

	// "R v Smith [2020] EWCA Crim 123": party names (single-letter "R"
	// permitted), year, court abbreviation, number.
	caseLawRe = regexp.MustCompile(`\b([A-Z][A-Za-z']*(?:\s+[A-Z][A-Za-z']*)*)\s+v\.?\s+([A-Z][A-Za-z']*(?:\s+[A-Z][A-Za-z']*)*)\s+(\[(\d{4})\]\s+[A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*\s+\d+)`)

	// "Allocations Policy, Section 4": document name, optional section.
	policyRe = regexp.MustCompile(`\b((?:The\s+)?[A-Z][A-Za-z']*(?:\s+(?:[A-Z][A-Za-z']*|and|of|for))*\s+Policy)(?:,\s*Section\s+(\d+))?`)

	// Connective phrases that precede a citation but are not part of the
	// authority name. Longest first.
	connectives = []string{
		"according to the ",
		"under the ",
		"the ",
	}
)

// StripConnective removes a leading connective phrase so the citation text
// reflects the literal authority name.
func StripConnective(s string) string {
	lower := strings.ToLower(s)
	for _, c := range connectives {
		if strings.HasPrefix(lower, c) {
			return s[len(c):]
		}
	}
	return s
}

// Extract finds every citation in the text, case law before legislation so a
// neutral citation is never also reported as an act reference.
func Extract(text string) []Citation {
	var out []Citation
	claimed := make([][2]int, 0, 8)

	for _, m := range caseLawRe.FindAllStringSubmatchIndex(text, -1) {
		full := text[m[0]:m[1]]
		out = append(out, Citation{
			Kind:            KindCaseLaw,
			Text:            StripConnective(full),
			CaseName:        text[m[2]:m[3]] + " v " + text[m[4]:m[5]],
			NeutralCitation: text[m[6]:m[7]],
		})
		claimed = append(claimed, [2]int{m[0], m[1]})
	}

	for _, m := range legislationRe.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		name := StripConnective(text[m[2]:m[3]])
		c := Citation{Kind: KindLegislation, ActName: name, Text: name}
		if m[6] >= 0 {
			c.Section = text[m[6]:m[7]]
			c.Text = name + ", s." + c.Section
		}
		out = append(out, c)
		claimed = append(claimed, [2]int{m[0], m[1]})
	}

	for _, m := range policyRe.FindAllStringSubmatchIndex(text, -1) {
		if overlaps(claimed, m[0], m[1]) {
			continue
		}
		name := StripConnective(text[m[2]:m[3]])
		c := Citation{Kind: KindPolicy, DocumentName: name, Text: name}
		if m[4] >= 0 {
			c.Text = name + ", Section " + text[m[4]:m[5]]
		}
		out = append(out, c)
		claimed = append(claimed, [2]int{m[0], m[1]})
	}

	return out
}

func overlaps(claimed [][2]int, start, end int) bool {
	for _, span := range claimed {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}
