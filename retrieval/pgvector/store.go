// Package pgvector implements the retrieval indexes on Postgres with the
// pgvector extension. Each tenant owns one collection: a dedicated table
// carrying the dense embedding, the chunk text, and the filterable payload
// fields, with an ivfflat index for cosine search and a GIN index for
// full-text keyword search.
package pgvector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/retrieval"
)

type (
	// Point is one indexed chunk.
	Point struct {
		ChunkID         uuid.UUID
		DocumentID      uuid.UUID
		KnowledgeBaseID uuid.UUID
		Category        string
		Content         string
		Embedding       []float32
	}

	// Options configures the store.
	Options struct {
		// DB is the shared Postgres handle. Required.
		DB *sqlx.DB
		// Dimensions is the embedding width; new collections are created
		// with it. Defaults to 1024.
		Dimensions int
	}

	// Store implements retrieval.VectorIndex, retrieval.KeywordIndex and
	// retrieval.Enricher.
	Store struct {
		db   *sqlx.DB
		dims int

		mu      sync.Mutex
		ensured map[uuid.UUID]struct{}
	}
)

var (
	_ retrieval.VectorIndex  = (*Store)(nil)
	_ retrieval.KeywordIndex = (*Store)(nil)
	_ retrieval.Enricher     = (*Store)(nil)
)

// NewStore validates the options and builds a Store.
func NewStore(opts Options) (*Store, error) {
	if opts.DB == nil {
		return nil, errs.New(errs.KindInternal, "database handle is required")
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = 1024
	}
	return &Store{
		db:      opts.DB,
		dims:    opts.Dimensions,
		ensured: make(map[uuid.UUID]struct{}),
	}, nil
}

// collectionTable maps a tenant to its collection table name.
func collectionTable(tenant uuid.UUID) string {
	return "chunk_index_" + strings.ReplaceAll(tenant.String(), "-", "")
}

// EnsureCollection creates the tenant collection if absent. Called lazily on
// first write; safe to call repeatedly.
func (s *Store) EnsureCollection(ctx context.Context, tenant uuid.UUID) error {
	s.mu.Lock()
	_, done := s.ensured[tenant]
	s.mu.Unlock()
	if done {
		return nil
	}

	table := collectionTable(tenant)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id uuid PRIMARY KEY,
			document_id uuid NOT NULL,
			knowledge_base_id uuid NOT NULL,
			category text NOT NULL DEFAULT '',
			content text NOT NULL,
			embedding vector(%d) NOT NULL
		)`, table, s.dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_content_idx ON %s USING gin (to_tsvector('english', content))`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errs.Wrap(errs.KindTransient, "ensure collection "+table, err)
		}
	}

	s.mu.Lock()
	s.ensured[tenant] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Upsert writes points into the tenant collection, creating it on first use.
func (s *Store) Upsert(ctx context.Context, tenant uuid.UUID, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, tenant); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (chunk_id, document_id, knowledge_base_id, category, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			knowledge_base_id = EXCLUDED.knowledge_base_id,
			category = EXCLUDED.category,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`, collectionTable(tenant))
	for _, p := range points {
		if len(p.Embedding) != s.dims {
			return errs.Newf(errs.KindValidation, "point %s has %d dimensions, collection expects %d", p.ChunkID, len(p.Embedding), s.dims)
		}
		if _, err := s.db.ExecContext(ctx, q, p.ChunkID, p.DocumentID, p.KnowledgeBaseID, p.Category, p.Content, pgv.NewVector(p.Embedding)); err != nil {
			return errs.Wrap(errs.KindTransient, "upsert point", err)
		}
	}
	return nil
}

// DeleteByDocument removes every point belonging to the given documents.
// Used when a knowledge base is deleted.
func (s *Store) DeleteByDocument(ctx context.Context, tenant uuid.UUID, documentIDs []uuid.UUID) (int64, error) {
	if len(documentIDs) == 0 {
		return 0, nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE document_id = ANY($1)`, collectionTable(tenant))
	res, err := s.db.ExecContext(ctx, q, pq.Array(uuidStrings(documentIDs)))
	if err != nil {
		return 0, errs.Wrap(errs.KindTransient, "delete points by document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.KindInternal, "delete points by document", err)
	}
	return n, nil
}

// VectorSearch returns the k nearest points by cosine similarity, best first.
func (s *Store) VectorSearch(ctx context.Context, tenant uuid.UUID, embedding []float32, k int, f retrieval.Filters) ([]retrieval.Hit, error) {
	where, args := filterClause(f, 2)
	q := fmt.Sprintf(`SELECT chunk_id, 1 - (embedding <=> $1) AS score
		FROM %s %s
		ORDER BY embedding <=> $1 ASC
		LIMIT %d`, collectionTable(tenant), where, k)
	args = append([]any{pgv.NewVector(embedding)}, args...)
	return s.queryHits(ctx, "vector search", q, args)
}

// KeywordSearch returns the k best full-text matches, best first. Matching
// is case-insensitive word-level via the English text configuration.
func (s *Store) KeywordSearch(ctx context.Context, tenant uuid.UUID, text string, k int, f retrieval.Filters) ([]retrieval.Hit, error) {
	where, args := filterClause(f, 2)
	match := `to_tsvector('english', content) @@ websearch_to_tsquery('english', $1)`
	if where == "" {
		where = "WHERE " + match
	} else {
		where += " AND " + match
	}
	q := fmt.Sprintf(`SELECT chunk_id, ts_rank(to_tsvector('english', content), websearch_to_tsquery('english', $1)) AS score
		FROM %s %s
		ORDER BY score DESC
		LIMIT %d`, collectionTable(tenant), where, k)
	args = append([]any{text}, args...)
	return s.queryHits(ctx, "keyword search", q, args)
}

// Enrich joins chunk identifiers back to the relational store, preserving
// the input order and silently dropping identifiers that no longer resolve.
func (s *Store) Enrich(ctx context.Context, tenant uuid.UUID, ids []uuid.UUID) ([]retrieval.Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT c.id AS chunk_id, c.ordinal, c.content, COALESCE(c.context_prefix, '') AS context_prefix,
			d.id AS document_id, d.name AS document_name, d.blob_ref AS document_uri,
			kb.category AS category
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		JOIN knowledge_bases kb ON kb.id = d.knowledge_base_id
		WHERE c.id = ANY($1) AND d.tenant_id = $2`
	rows, err := s.db.QueryxContext(ctx, q, pq.Array(uuidStrings(ids)), tenant)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "enrich chunks", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]retrieval.Result, len(ids))
	for rows.Next() {
		var row struct {
			ChunkID       uuid.UUID `db:"chunk_id"`
			Ordinal       int       `db:"ordinal"`
			Content       string    `db:"content"`
			ContextPrefix string    `db:"context_prefix"`
			DocumentID    uuid.UUID `db:"document_id"`
			DocumentName  string    `db:"document_name"`
			DocumentURI   string    `db:"document_uri"`
			Category      string    `db:"category"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, errs.Wrap(errs.KindInternal, "scan enriched chunk", err)
		}
		byID[row.ChunkID] = retrieval.Result{
			ChunkID:       row.ChunkID,
			DocumentID:    row.DocumentID,
			DocumentName:  row.DocumentName,
			DocumentURI:   row.DocumentURI,
			Category:      row.Category,
			Ordinal:       row.Ordinal,
			Content:       row.Content,
			ContextPrefix: row.ContextPrefix,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, "enrich chunks", err)
	}
	out := make([]retrieval.Result, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) queryHits(ctx context.Context, op, q string, args []any) ([]retrieval.Hit, error) {
	rows, err := s.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, op, err)
	}
	defer rows.Close()
	var hits []retrieval.Hit
	for rows.Next() {
		var (
			id    uuid.UUID
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, errs.Wrap(errs.KindInternal, op, err)
		}
		hits = append(hits, retrieval.Hit{ChunkID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindTransient, op, err)
	}
	return hits, nil
}

// filterClause renders the optional category/knowledge-base filters starting
// at the given placeholder ordinal.
func filterClause(f retrieval.Filters, next int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(f.Categories) > 0 {
		conds = append(conds, fmt.Sprintf("category = ANY($%d)", next))
		args = append(args, pq.Array(f.Categories))
		next++
	}
	if len(f.KnowledgeBases) > 0 {
		conds = append(conds, fmt.Sprintf("knowledge_base_id = ANY($%d)", next))
		args = append(args, pq.Array(uuidStrings(f.KnowledgeBases)))
		next++
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
