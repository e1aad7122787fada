package store

import (
	"context"

	"github.com/google/uuid"
)

// CreateInvocation records a new agent invocation in the pending state.
func (sn *Session) CreateInvocation(ctx context.Context, conversationID uuid.UUID, mode, query string, personaID *uuid.UUID) (*AgentInvocation, error) {
	now := sn.now()
	inv := &AgentInvocation{
		ID:             NewID(),
		TenantID:       sn.tenant,
		ConversationID: conversationID,
		Mode:           mode,
		Query:          query,
		PersonaID:      personaID,
		State:          InvocationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	const q = `INSERT INTO agent_invocations
		(id, tenant_id, conversation_id, mode, query, persona_id, state, model_id, cache_hit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', FALSE, $8, $8)`
	_, err := sn.conn.ExecContext(ctx, q, inv.ID, inv.TenantID, inv.ConversationID, inv.Mode, inv.Query, inv.PersonaID, inv.State, now)
	if err != nil {
		return nil, wrapQueryErr("create invocation", err)
	}
	return inv, nil
}

// GetInvocation loads an invocation by identifier. Cancellation checks poll
// this at stage boundaries.
func (sn *Session) GetInvocation(ctx context.Context, id uuid.UUID) (*AgentInvocation, error) {
	const q = `SELECT id, tenant_id, conversation_id, mode, query, persona_id, state, model_id, cache_hit, created_at, updated_at
		FROM agent_invocations WHERE id = $1 AND tenant_id = $2`
	var inv AgentInvocation
	if err := sn.conn.GetContext(ctx, &inv, q, id, sn.tenant); err != nil {
		return nil, wrapQueryErr("get invocation", err)
	}
	return &inv, nil
}

// SetInvocationState moves the invocation to the given state. Terminal rows
// are never overwritten: a cancel that lands mid-run stays cancelled even if
// the pipeline finishes its remaining stages.
func (sn *Session) SetInvocationState(ctx context.Context, id uuid.UUID, state InvocationState) error {
	const q = `UPDATE agent_invocations SET state = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4 AND state NOT IN ('complete', 'cancelled', 'error')`
	res, err := sn.conn.ExecContext(ctx, q, state, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("set invocation state", err)
	}
	return requireRow(res, "set invocation state")
}

// CancelInvocation transitions a pending or running invocation to cancelled.
// Returns not-found when the invocation is already terminal.
func (sn *Session) CancelInvocation(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE agent_invocations SET state = 'cancelled', updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND state IN ('pending', 'running')`
	res, err := sn.conn.ExecContext(ctx, q, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("cancel invocation", err)
	}
	return requireRow(res, "cancel invocation")
}

// MarkInvocationModel records which model served the invocation and whether
// the answer came from the semantic cache.
func (sn *Session) MarkInvocationModel(ctx context.Context, id uuid.UUID, modelID string, cacheHit bool) error {
	const q = `UPDATE agent_invocations SET model_id = $1, cache_hit = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5`
	res, err := sn.conn.ExecContext(ctx, q, modelID, cacheHit, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("mark invocation model", err)
	}
	return requireRow(res, "mark invocation model")
}
