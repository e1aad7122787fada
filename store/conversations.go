package store

import (
	"context"

	"github.com/google/uuid"
)

// CreateConversation inserts an empty conversation in the pending state.
func (sn *Session) CreateConversation(ctx context.Context, userID uuid.UUID, templateID *uuid.UUID) (*Conversation, error) {
	now := sn.now()
	conv := &Conversation{
		ID:         NewID(),
		TenantID:   sn.tenant,
		UserID:     userID,
		State:      ConversationPending,
		TemplateID: templateID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	const q = `INSERT INTO conversations
		(id, tenant_id, user_id, title, state, template_id, created_at, updated_at)
		VALUES ($1, $2, $3, NULL, $4, $5, $6, $6)`
	_, err := sn.conn.ExecContext(ctx, q, conv.ID, conv.TenantID, conv.UserID, conv.State, conv.TemplateID, now)
	if err != nil {
		return nil, wrapQueryErr("create conversation", err)
	}
	return conv, nil
}

// GetConversation loads a live conversation by identifier.
func (sn *Session) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	const q = `SELECT id, tenant_id, user_id, title, state, template_id, created_at, updated_at, deleted_at
		FROM conversations
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`
	var conv Conversation
	if err := sn.conn.GetContext(ctx, &conv, q, id, sn.tenant); err != nil {
		return nil, wrapQueryErr("get conversation", err)
	}
	return &conv, nil
}

// SetConversationState moves the conversation to the given state.
func (sn *Session) SetConversationState(ctx context.Context, id uuid.UUID, state ConversationState) error {
	const q = `UPDATE conversations SET state = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4 AND deleted_at IS NULL`
	res, err := sn.conn.ExecContext(ctx, q, state, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("set conversation state", err)
	}
	return requireRow(res, "set conversation state")
}

// SetConversationTitle stores the generated title. Only the first generation
// wins: an already-titled conversation is left untouched.
func (sn *Session) SetConversationTitle(ctx context.Context, id uuid.UUID, title string) error {
	const q = `UPDATE conversations SET title = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4 AND title IS NULL AND deleted_at IS NULL`
	_, err := sn.conn.ExecContext(ctx, q, title, sn.now(), id, sn.tenant)
	return wrapQueryErr("set conversation title", err)
}

// SoftDeleteConversation marks the conversation deleted without removing its
// messages.
func (sn *Session) SoftDeleteConversation(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE conversations SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL`
	res, err := sn.conn.ExecContext(ctx, q, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("delete conversation", err)
	}
	return requireRow(res, "delete conversation")
}
