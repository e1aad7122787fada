package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/clearline-ai/clearline/legislation"
	"github.com/clearline-ai/clearline/telemetry"
)

type (
	// Status is the closed outcome enum for one citation.
	Status string

	// CitationResult pairs a citation with its verification outcome.
	CitationResult struct {
		Citation   Citation `json:"citation"`
		Status     Status   `json:"status"`
		Confidence float64  `json:"confidence"`
		Detail     string   `json:"detail,omitempty"`
	}

	// Result is the aggregate outcome of one verification pass.
	Result struct {
		Checked    int              `json:"checked"`
		Verified   int              `json:"verified"`
		Unverified int              `json:"unverified"`
		Removed    int              `json:"removed"`
		Citations  []CitationResult `json:"citations"`
		// Issues is the human-readable list covering the unverified and
		// removed subset.
		Issues []string `json:"issues,omitempty"`
	}

	// SearchFunc performs one legislation lookup. The production func binds
	// a fresh verification-timeout client to the active endpoint per call.
	SearchFunc func(ctx context.Context, query string) (*legislation.SearchResult, error)

	// Option configures a Verifier.
	Option func(*Verifier)

	// Verifier runs verification passes.
	Verifier struct {
		search SearchFunc
		// caseLaw reports whether the upstream can verify case-law
		// citations. No configured upstream can today, so case law degrades
		// to unverified unless WithCaseLawSupport is set.
		caseLaw bool
	}
)

// WithCaseLawSupport declares that the upstream can verify case-law
// citations.
func WithCaseLawSupport() Option {
	return func(v *Verifier) { v.caseLaw = true }
}

const (
	StatusVerified   Status = "verified"
	StatusUnverified Status = "unverified"
	StatusRemoved    Status = "removed"
)

// New builds a Verifier over the given lookup func.
func New(search SearchFunc, opts ...Option) (*Verifier, error) {
	if search == nil {
		return nil, fmt.Errorf("verify: search func is required")
	}
	v := &Verifier{search: search}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// NewWithFactory builds a Verifier that binds a reduced-timeout client to
// the active legislation endpoint on every lookup.
func NewWithFactory(factory *legislation.ClientFactory) (*Verifier, error) {
	if factory == nil {
		return nil, fmt.Errorf("verify: client factory is required")
	}
	return New(func(ctx context.Context, query string) (*legislation.SearchResult, error) {
		return factory.VerificationClient().SearchLegislation(ctx, legislation.SearchFilters{Query: query})
	})
}

// SupportsCaseLaw reports whether case-law citations can be verified.
func (v *Verifier) SupportsCaseLaw() bool { return v.caseLaw }

// Verify extracts every citation from the text and checks each against the
// legislation source. Legislation citations are deduplicated by lowercased
// act name so each distinct act incurs at most one lookup.
func (v *Verifier) Verify(ctx context.Context, text string) (*Result, error) {
	citations := Extract(text)
	result := &Result{Checked: len(citations)}
	if len(citations) == 0 {
		return result, nil
	}

	// One lookup per distinct act name; every citation of that act shares
	// the outcome.
	type outcome struct {
		status Status
		detail string
	}
	actOutcomes := make(map[string]outcome)
	for _, c := range citations {
		if c.Kind != KindLegislation {
			continue
		}
		key := strings.ToLower(c.ActName)
		if _, done := actOutcomes[key]; done {
			continue
		}
		actOutcomes[key] = v.lookupAct(ctx, c.ActName)
	}

	for _, c := range citations {
		cr := CitationResult{Citation: c}
		switch c.Kind {
		case KindLegislation:
			o := actOutcomes[strings.ToLower(c.ActName)]
			cr.Status, cr.Detail = o.status, o.detail
		case KindCaseLaw:
			if v.caseLaw {
				cr.Status = StatusVerified
			} else {
				cr.Status = StatusUnverified
				cr.Detail = "case-law verification is not available"
			}
		case KindPolicy:
			cr.Status = StatusUnverified
			cr.Detail = "policy-document verification is not available"
		}
		if cr.Status == StatusVerified {
			cr.Confidence = 1.0
		}
		result.Citations = append(result.Citations, cr)
		telemetry.CountVerification(ctx, string(cr.Status))
		switch cr.Status {
		case StatusVerified:
			result.Verified++
		case StatusUnverified:
			result.Unverified++
			result.Issues = append(result.Issues, fmt.Sprintf("citation %q could not be verified: %s", cr.Citation.Text, cr.Detail))
		case StatusRemoved:
			result.Removed++
			result.Issues = append(result.Issues, fmt.Sprintf("citation %q was not found in the legislation database and has been removed", cr.Citation.Text))
		}
	}
	return result, nil
}

func (v *Verifier) lookupAct(ctx context.Context, actName string) (o struct {
	status Status
	detail string
}) {
	res, err := v.search(ctx, actName)
	if err != nil {
		if isRemovedErr(err) {
			o.status = StatusRemoved
			o.detail = "the legislation source has no record of this act"
			return o
		}
		// Recoverable failures degrade to unverified rather than block
		// finalisation.
		log.Debugf(ctx, "verify: lookup for %q degraded to unverified: %v", actName, err)
		o.status = StatusUnverified
		o.detail = "the legislation source could not be reached"
		return o
	}
	if SearchSuccess(res) {
		o.status = StatusVerified
		return o
	}
	o.status = StatusRemoved
	o.detail = "the legislation source returned no matches"
	return o
}

func isRemovedErr(err error) bool {
	return errors.Is(err, legislation.ErrNotFound)
}

// SearchSuccess applies the schema-tolerant success heuristics: any of
// total >= 1, non-empty results, or a true verified/found/exists key counts
// as success. New success keys upstream are non-breaking.
func SearchSuccess(res *legislation.SearchResult) bool {
	if res == nil {
		return false
	}
	if res.Total >= 1 || len(res.Results) > 0 {
		return true
	}
	for _, key := range []string{"verified", "found", "exists"} {
		if b, ok := res.Extra[key].(bool); ok && b {
			return true
		}
	}
	return false
}
