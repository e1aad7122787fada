package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clearline-ai/clearline/errs"
)

// GetPolicyDefinition loads a definition by identifier.
func (sn *Session) GetPolicyDefinition(ctx context.Context, id uuid.UUID) (*PolicyDefinition, error) {
	const q = `SELECT id, tenant_id, uri, name, name_variants, status, group_id, required_sections,
			compliance, scoring, legislation, review_cycle, created_at, updated_at
		FROM policy_definitions WHERE id = $1 AND tenant_id = $2`
	var def PolicyDefinition
	if err := sn.conn.GetContext(ctx, &def, q, id, sn.tenant); err != nil {
		return nil, wrapQueryErr("get policy definition", err)
	}
	return &def, nil
}

// ActivePolicyDefinitions returns the tenant's active definitions. The review
// engine matches identified policy types against this set.
func (sn *Session) ActivePolicyDefinitions(ctx context.Context) ([]PolicyDefinition, error) {
	const q = `SELECT id, tenant_id, uri, name, name_variants, status, group_id, required_sections,
			compliance, scoring, legislation, review_cycle, created_at, updated_at
		FROM policy_definitions WHERE tenant_id = $1 AND status = 'active' ORDER BY id ASC`
	var defs []PolicyDefinition
	if err := sn.conn.SelectContext(ctx, &defs, q, sn.tenant); err != nil {
		return nil, wrapQueryErr("list policy definitions", err)
	}
	return defs, nil
}

// FindDefinitionByName matches an identified policy-type name against the
// active definitions' names and name variants, case-insensitively. Matching
// is by name, not reference, so no graph walk is needed.
func (sn *Session) FindDefinitionByName(ctx context.Context, name string) (*PolicyDefinition, error) {
	defs, err := sn.ActivePolicyDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for i := range defs {
		if strings.ToLower(defs[i].Name) == needle {
			return &defs[i], nil
		}
		for _, v := range defs[i].NameVariantList() {
			if strings.ToLower(strings.TrimSpace(v)) == needle {
				return &defs[i], nil
			}
		}
	}
	return nil, errs.Newf(errs.KindNotFound, "no active policy definition matches %q", name)
}

// SetPolicyDefinitionStatus moves the definition through its administrative
// lifecycle, enforcing the legal transitions.
func (sn *Session) SetPolicyDefinitionStatus(ctx context.Context, id uuid.UUID, status EntityStatus) error {
	def, err := sn.GetPolicyDefinition(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateTransition(def.Status, status); err != nil {
		return err
	}
	const q = `UPDATE policy_definitions SET status = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`
	res, err := sn.conn.ExecContext(ctx, q, status, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("set policy definition status", err)
	}
	return requireRow(res, "set policy definition status")
}

// CreatePolicyReview inserts a review in the pending state. The definition
// reference may be filled in later during type identification.
func (sn *Session) CreatePolicyReview(ctx context.Context, userID uuid.UUID, definitionID *uuid.UUID) (*PolicyReview, error) {
	now := sn.now()
	review := &PolicyReview{
		ID:           NewID(),
		TenantID:     sn.tenant,
		UserID:       userID,
		DefinitionID: definitionID,
		State:        ReviewPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	const q = `INSERT INTO policy_reviews (id, tenant_id, user_id, definition_id, state, result, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULL, 1, $6, $6)`
	if _, err := sn.conn.ExecContext(ctx, q, review.ID, review.TenantID, review.UserID, review.DefinitionID, review.State, now); err != nil {
		return nil, wrapQueryErr("create policy review", err)
	}
	return review, nil
}

// GetPolicyReview loads a review by identifier.
func (sn *Session) GetPolicyReview(ctx context.Context, id uuid.UUID) (*PolicyReview, error) {
	const q = `SELECT id, tenant_id, user_id, definition_id, state, result, version, created_at, updated_at
		FROM policy_reviews WHERE id = $1 AND tenant_id = $2`
	var review PolicyReview
	if err := sn.conn.GetContext(ctx, &review, q, id, sn.tenant); err != nil {
		return nil, wrapQueryErr("get policy review", err)
	}
	return &review, nil
}

// ListPolicyReviews returns the reviews referencing a definition, oldest
// first. Trend analysis walks this sequence.
func (sn *Session) ListPolicyReviews(ctx context.Context, definitionID uuid.UUID) ([]PolicyReview, error) {
	const q = `SELECT id, tenant_id, user_id, definition_id, state, result, version, created_at, updated_at
		FROM policy_reviews WHERE definition_id = $1 AND tenant_id = $2 ORDER BY id ASC`
	var out []PolicyReview
	if err := sn.conn.SelectContext(ctx, &out, q, definitionID, sn.tenant); err != nil {
		return nil, wrapQueryErr("list policy reviews", err)
	}
	return out, nil
}

// CompletedPolicyReviews returns the tenant's completed reviews in the date
// range, oldest first. Trend aggregation walks this sequence.
func (sn *Session) CompletedPolicyReviews(ctx context.Context, from, to time.Time) ([]PolicyReview, error) {
	const q = `SELECT id, tenant_id, user_id, definition_id, state, result, version, created_at, updated_at
		FROM policy_reviews WHERE tenant_id = $1 AND state = 'complete' AND created_at >= $2 AND created_at <= $3
		ORDER BY id ASC`
	var out []PolicyReview
	if err := sn.conn.SelectContext(ctx, &out, q, sn.tenant, from, to); err != nil {
		return nil, wrapQueryErr("list completed reviews", err)
	}
	return out, nil
}

// SetReviewState moves the review to the given state.
func (sn *Session) SetReviewState(ctx context.Context, id uuid.UUID, state ReviewState) error {
	const q = `UPDATE policy_reviews SET state = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND tenant_id = $4`
	res, err := sn.conn.ExecContext(ctx, q, state, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("set review state", err)
	}
	return requireRow(res, "set review state")
}

// CancelPolicyReview transitions a pending or processing review to
// cancelled. Terminal reviews are not cancellable.
func (sn *Session) CancelPolicyReview(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE policy_reviews SET state = 'cancelled', updated_at = $1, version = version + 1
		WHERE id = $2 AND tenant_id = $3 AND state IN ('pending', 'processing')`
	res, err := sn.conn.ExecContext(ctx, q, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("cancel policy review", err)
	}
	return requireRow(res, "cancel policy review")
}

// SetReviewDefinition records the definition matched during type
// identification.
func (sn *Session) SetReviewDefinition(ctx context.Context, id, definitionID uuid.UUID) error {
	const q = `UPDATE policy_reviews SET definition_id = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND tenant_id = $4`
	res, err := sn.conn.ExecContext(ctx, q, definitionID, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("set review definition", err)
	}
	return requireRow(res, "set review definition")
}

// SetReviewResult stores the result blob together with the terminal state.
// The review engine records failures here too so clients observe them via
// the stream and the row. Only a live review can be moved to a terminal
// state; a cancel that raced the run stays cancelled.
func (sn *Session) SetReviewResult(ctx context.Context, id uuid.UUID, state ReviewState, result json.RawMessage) error {
	const q = `UPDATE policy_reviews SET state = $1, result = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND tenant_id = $5 AND state IN ('pending', 'processing')`
	res, err := sn.conn.ExecContext(ctx, q, state, result, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("set review result", err)
	}
	return requireRow(res, "set review result")
}
