// Package retrieval implements hybrid search over a tenant's document chunks:
// query embedding, parallel vector and keyword search, reciprocal rank
// fusion, relational enrichment and reranking.
package retrieval

import (
	"context"

	"github.com/google/uuid"
	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/clearline-ai/clearline/errs"
	"github.com/clearline-ai/clearline/model"
)

type (
	// Query is one hybrid-search request.
	Query struct {
		// Tenant scopes every index and relational read. Required.
		Tenant uuid.UUID
		// Text is the natural-language query. Required.
		Text string
		// Categories restricts results to knowledge bases with these
		// category tags. Optional.
		Categories []string
		// KnowledgeBases restricts results to these knowledge bases.
		// Optional.
		KnowledgeBases []uuid.UUID
		// Limit caps the result count (1..200). Defaults to 10.
		Limit int
		// MinScore drops fused candidates scoring below it. Optional.
		MinScore float64
	}

	// Result is one enriched search hit.
	Result struct {
		ChunkID       uuid.UUID
		DocumentID    uuid.UUID
		DocumentName  string
		DocumentURI   string
		Category      string
		Ordinal       int
		Content       string
		ContextPrefix string
		Score         float64
		Metadata      map[string]string
	}

	// Hit is one raw index match before fusion.
	Hit struct {
		ChunkID uuid.UUID
		Score   float64
	}

	// Filters carries the optional scoping passed through to both indexes.
	Filters struct {
		Categories     []string
		KnowledgeBases []uuid.UUID
	}

	// VectorIndex answers k-nearest-neighbour queries on a tenant
	// collection. Matches are ordered best-first.
	VectorIndex interface {
		VectorSearch(ctx context.Context, tenant uuid.UUID, embedding []float32, k int, f Filters) ([]Hit, error)
	}

	// KeywordIndex answers full-text queries on the same collection.
	KeywordIndex interface {
		KeywordSearch(ctx context.Context, tenant uuid.UUID, text string, k int, f Filters) ([]Hit, error)
	}

	// Enricher joins fused chunk identifiers back to the relational store.
	// Identifiers no longer present are dropped, not errors.
	Enricher interface {
		Enrich(ctx context.Context, tenant uuid.UUID, ids []uuid.UUID) ([]Result, error)
	}

	// Reranker reorders enriched candidates. The default keeps RRF order.
	Reranker interface {
		Rerank(ctx context.Context, query string, results []Result) ([]Result, error)
	}

	// Options configures the service.
	Options struct {
		// Embedder produces the query vector. Required.
		Embedder model.Embedder
		// Vector and Keyword are the two index legs. Required.
		Vector  VectorIndex
		Keyword KeywordIndex
		// Enricher recovers document metadata. Required.
		Enricher Enricher
		// Reranker is optional; nil keeps fusion order.
		Reranker Reranker
		// CandidateK is how many hits each leg contributes to fusion.
		// Defaults to 200.
		CandidateK int
	}

	// Service runs the hybrid pipeline.
	Service struct {
		embedder   model.Embedder
		vector     VectorIndex
		keyword    KeywordIndex
		enricher   Enricher
		reranker   Reranker
		candidateK int
	}
)

// DefaultLimit is the result cap when a query does not specify one.
const DefaultLimit = 10

// MaxLimit bounds the requested result count.
const MaxLimit = 200

// New validates the options and builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Embedder == nil {
		return nil, errs.New(errs.KindInternal, "embedder is required")
	}
	if opts.Vector == nil || opts.Keyword == nil {
		return nil, errs.New(errs.KindInternal, "vector and keyword indexes are required")
	}
	if opts.Enricher == nil {
		return nil, errs.New(errs.KindInternal, "enricher is required")
	}
	if opts.CandidateK <= 0 {
		opts.CandidateK = 200
	}
	return &Service{
		embedder:   opts.Embedder,
		vector:     opts.Vector,
		keyword:    opts.Keyword,
		enricher:   opts.Enricher,
		reranker:   opts.Reranker,
		candidateK: opts.CandidateK,
	}, nil
}

// Search runs the hybrid pipeline for one query. An empty result set is
// success, not an error.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Tenant == uuid.Nil {
		return nil, errs.New(errs.KindValidation, "tenant identifier is required")
	}
	if q.Text == "" {
		return nil, errs.New(errs.KindValidation, "query text is required")
	}
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	vectors, err := s.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "embed query", err)
	}
	if len(vectors) != 1 {
		return nil, errs.Newf(errs.KindUpstream, "embedder returned %d vectors for one query", len(vectors))
	}

	filters := Filters{Categories: q.Categories, KnowledgeBases: q.KnowledgeBases}
	var vecHits, kwHits []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHits, err = s.vector.VectorSearch(gctx, q.Tenant, vectors[0], s.candidateK, filters)
		return err
	})
	g.Go(func() error {
		var err error
		kwHits, err = s.keyword.KeywordSearch(gctx, q.Tenant, q.Text, s.candidateK, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(vecHits, kwHits)
	if len(fused) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(fused))
	scores := make(map[uuid.UUID]float64, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
		scores[f.ChunkID] = f.Score
	}

	enriched, err := s.enricher.Enrich(ctx, q.Tenant, ids)
	if err != nil {
		return nil, err
	}
	if dropped := len(fused) - len(enriched); dropped > 0 {
		log.Debugf(ctx, "retrieval: dropped %d fused chunks missing from relational store", dropped)
	}

	results := enriched[:0]
	for _, r := range enriched {
		r.Score = scores[r.ChunkID]
		if q.MinScore > 0 && r.Score < q.MinScore {
			continue
		}
		results = append(results, r)
	}

	if s.reranker != nil {
		results, err = s.reranker.Rerank(ctx, q.Text, results)
		if err != nil {
			return nil, errs.Wrap(errs.KindUpstream, "rerank results", err)
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
