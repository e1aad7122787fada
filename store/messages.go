package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/clearline-ai/clearline/errs"
)

// requireRow converts a zero-row update into a not-found error.
func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, op+": no matching row")
	}
	return nil
}

// AppendMessage inserts a message at the tail of the conversation. Order
// within a conversation is identifier order, which is creation order.
func (sn *Session) AppendMessage(ctx context.Context, conversationID uuid.UUID, role MessageRole, content string, state MessageState) (*Message, error) {
	now := sn.now()
	msg := &Message{
		ID:             NewID(),
		TenantID:       sn.tenant,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		State:          state,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	const q = `INSERT INTO messages
		(id, tenant_id, conversation_id, role, content, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	_, err := sn.conn.ExecContext(ctx, q, msg.ID, msg.TenantID, msg.ConversationID, msg.Role, msg.Content, msg.State, now)
	if err != nil {
		return nil, wrapQueryErr("append message", err)
	}
	return msg, nil
}

// RecentMessages returns the most recent messages of a conversation in
// chronological order, capped at limit.
func (sn *Session) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	const q = `SELECT id, tenant_id, conversation_id, role, content, state, confidence, verification, created_at, updated_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1 AND tenant_id = $2
			ORDER BY id DESC LIMIT $3
		) recent ORDER BY id ASC`
	var msgs []Message
	if err := sn.conn.SelectContext(ctx, &msgs, q, conversationID, sn.tenant, limit); err != nil {
		return nil, wrapQueryErr("recent messages", err)
	}
	return msgs, nil
}

// FinaliseMessage sets the assistant message's final content, confidence and
// verification blob together with its terminal state. The three finalisation
// fields travel as one write so they are set iff the state is terminal.
func (sn *Session) FinaliseMessage(ctx context.Context, id uuid.UUID, content string, state MessageState, confidence *ConfidenceLevel, verification json.RawMessage) error {
	const q = `UPDATE messages
		SET content = $1, state = $2, confidence = $3, verification = $4, updated_at = $5
		WHERE id = $6 AND tenant_id = $7 AND state NOT IN ('complete', 'cancelled', 'error')`
	res, err := sn.conn.ExecContext(ctx, q, content, state, confidence, verification, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("finalise message", err)
	}
	return requireRow(res, "finalise message")
}
