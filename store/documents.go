package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateKnowledgeBase inserts a tenant-scoped document container.
func (sn *Session) CreateKnowledgeBase(ctx context.Context, name, category, sourceType string) (*KnowledgeBase, error) {
	now := sn.now()
	kb := &KnowledgeBase{
		ID:         NewID(),
		TenantID:   sn.tenant,
		Name:       name,
		Category:   category,
		SourceType: sourceType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	const q = `INSERT INTO knowledge_bases (id, tenant_id, name, category, source_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`
	if _, err := sn.conn.ExecContext(ctx, q, kb.ID, kb.TenantID, kb.Name, kb.Category, kb.SourceType, now); err != nil {
		return nil, wrapQueryErr("create knowledge base", err)
	}
	return kb, nil
}

// GetDocument loads a document by identifier.
func (sn *Session) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	const q = `SELECT id, tenant_id, knowledge_base_id, name, blob_ref, content_type, size_bytes, content_hash,
			state, version, previous_version_id, retry_count, dead_letter, last_error, created_at, updated_at
		FROM documents WHERE id = $1 AND tenant_id = $2`
	var doc Document
	if err := sn.conn.GetContext(ctx, &doc, q, id, sn.tenant); err != nil {
		return nil, wrapQueryErr("get document", err)
	}
	return &doc, nil
}

// SetDocumentState advances the document through the processing pipeline.
func (sn *Session) SetDocumentState(ctx context.Context, id uuid.UUID, state DocumentState) error {
	const q = `UPDATE documents SET state = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`
	res, err := sn.conn.ExecContext(ctx, q, state, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("set document state", err)
	}
	return requireRow(res, "set document state")
}

// RecordProcessingFailure marks the document failed, stores the error and
// bumps the retry counter. The third consecutive failure dead-letters the
// document so it is never automatically retried again.
func (sn *Session) RecordProcessingFailure(ctx context.Context, id uuid.UUID, cause string) (*Document, error) {
	const q = `UPDATE documents
		SET state = 'failed',
		    retry_count = retry_count + 1,
		    dead_letter = (retry_count + 1 >= $1),
		    last_error = $2,
		    updated_at = $3
		WHERE id = $4 AND tenant_id = $5
		RETURNING id, tenant_id, knowledge_base_id, name, blob_ref, content_type, size_bytes, content_hash,
			state, version, previous_version_id, retry_count, dead_letter, last_error, created_at, updated_at`
	var doc Document
	if err := sn.conn.GetContext(ctx, &doc, q, MaxProcessingRetries, cause, sn.now(), id, sn.tenant); err != nil {
		return nil, wrapQueryErr("record processing failure", err)
	}
	return &doc, nil
}

// ResetDeadLetter clears the retry bookkeeping so an administrative retry can
// re-enqueue the document.
func (sn *Session) ResetDeadLetter(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE documents
		SET retry_count = 0, dead_letter = FALSE, last_error = NULL, state = 'uploaded', updated_at = $1
		WHERE id = $2 AND tenant_id = $3 AND dead_letter`
	res, err := sn.conn.ExecContext(ctx, q, sn.now(), id, sn.tenant)
	if err != nil {
		return wrapQueryErr("reset dead letter", err)
	}
	return requireRow(res, "reset dead letter")
}

// ChunksByID loads chunks by identifier joined against their documents so a
// caller never sees a chunk from another tenant. Results follow the input
// order; missing identifiers are skipped.
func (sn *Session) ChunksByID(ctx context.Context, ids []uuid.UUID) ([]DocumentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT c.id, c.tenant_id, c.document_id, c.content, c.context_prefix, c.ordinal,
			c.byte_start, c.byte_end, c.embedding_model, c.created_at
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id = ANY($1) AND d.tenant_id = $2`
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	var rows []DocumentChunk
	if err := sn.conn.SelectContext(ctx, &rows, q, pq.Array(strs), sn.tenant); err != nil {
		return nil, wrapQueryErr("chunks by id", err)
	}
	byID := make(map[uuid.UUID]DocumentChunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	out := make([]DocumentChunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// DeleteDocumentChunks hard-deletes a document's chunks, returning the count.
func (sn *Session) DeleteDocumentChunks(ctx context.Context, documentID uuid.UUID) (int64, error) {
	const q = `DELETE FROM document_chunks WHERE document_id = $1 AND tenant_id = $2`
	res, err := sn.conn.ExecContext(ctx, q, documentID, sn.tenant)
	if err != nil {
		return 0, wrapQueryErr("delete document chunks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapQueryErr("delete document chunks", err)
	}
	return n, nil
}
