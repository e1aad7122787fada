package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// PutCacheEntry stores a computed response keyed by its query embedding.
func (sn *Session) PutCacheEntry(ctx context.Context, query string, embedding []float32, response string, sources json.RawMessage, ttl time.Duration) (*SemanticCacheEntry, error) {
	now := sn.now()
	entry := &SemanticCacheEntry{
		ID:        NewID(),
		TenantID:  sn.tenant,
		Query:     query,
		Embedding: pgvector.NewVector(embedding),
		Response:  response,
		Sources:   sources,
		TTL:       ttl,
		CreatedAt: now,
	}
	const q = `INSERT INTO semantic_cache
		(id, tenant_id, query, embedding, response, sources, ttl, hits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)`
	_, err := sn.conn.ExecContext(ctx, q, entry.ID, entry.TenantID, entry.Query, entry.Embedding, entry.Response, entry.Sources, entry.TTL, now)
	if err != nil {
		return nil, wrapQueryErr("put cache entry", err)
	}
	return entry, nil
}

// NearestCacheEntry returns the live cache entry most similar to the probe
// embedding, or not-found when nothing clears the threshold. Similarity is
// cosine; expired entries are invisible.
func (sn *Session) NearestCacheEntry(ctx context.Context, embedding []float32, threshold float64) (*CacheMatch, error) {
	const q = `SELECT id, tenant_id, query, embedding, response, sources, ttl, hits, created_at,
			1 - (embedding <=> $1) AS similarity
		FROM semantic_cache
		WHERE tenant_id = $2
		  AND created_at + (ttl * interval '1 nanosecond') > $3
		  AND 1 - (embedding <=> $1) >= $4
		ORDER BY embedding <=> $1 ASC
		LIMIT 1`
	var match CacheMatch
	err := sn.conn.GetContext(ctx, &match, q, pgvector.NewVector(embedding), sn.tenant, sn.now(), threshold)
	if err != nil {
		return nil, wrapQueryErr("nearest cache entry", err)
	}
	return &match, nil
}

// TouchCacheEntry increments the hit counter of a served entry.
func (sn *Session) TouchCacheEntry(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE semantic_cache SET hits = hits + 1 WHERE id = $1 AND tenant_id = $2`
	res, err := sn.conn.ExecContext(ctx, q, id, sn.tenant)
	if err != nil {
		return wrapQueryErr("touch cache entry", err)
	}
	return requireRow(res, "touch cache entry")
}

// PruneExpiredCacheEntries hard-deletes entries past their TTL and returns
// how many were removed.
func (sn *Session) PruneExpiredCacheEntries(ctx context.Context) (int64, error) {
	const q = `DELETE FROM semantic_cache
		WHERE tenant_id = $1 AND created_at + (ttl * interval '1 nanosecond') <= $2`
	res, err := sn.conn.ExecContext(ctx, q, sn.tenant, sn.now())
	if err != nil {
		return 0, wrapQueryErr("prune cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapQueryErr("prune cache", err)
	}
	return n, nil
}
