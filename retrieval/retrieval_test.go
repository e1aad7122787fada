package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clearline-ai/clearline/errs"
)

type (
	mockEmbedder struct {
		vectors [][]float32
		err     error
	}
	mockVector struct {
		hits []Hit
		err  error
		last struct {
			tenant uuid.UUID
			k      int
			f      Filters
		}
	}
	mockKeyword struct {
		hits []Hit
		err  error
	}
	mockEnricher struct {
		drop map[uuid.UUID]bool
	}
)

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.vectors != nil {
		return m.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (m *mockVector) VectorSearch(_ context.Context, tenant uuid.UUID, _ []float32, k int, f Filters) ([]Hit, error) {
	m.last.tenant, m.last.k, m.last.f = tenant, k, f
	return m.hits, m.err
}

func (m *mockKeyword) KeywordSearch(context.Context, uuid.UUID, string, int, Filters) ([]Hit, error) {
	return m.hits, m.err
}

func (m *mockEnricher) Enrich(_ context.Context, _ uuid.UUID, ids []uuid.UUID) ([]Result, error) {
	var out []Result
	for _, id := range ids {
		if m.drop[id] {
			continue
		}
		out = append(out, Result{ChunkID: id, Content: "chunk " + id.String()[:8]})
	}
	return out, nil
}

func newTestService(t *testing.T, vec *mockVector, kw *mockKeyword, enr *mockEnricher) *Service {
	t.Helper()
	svc, err := New(Options{
		Embedder: &mockEmbedder{},
		Vector:   vec,
		Keyword:  kw,
		Enricher: enr,
	})
	require.NoError(t, err)
	return svc
}

func TestSearchFusesAndEnriches(t *testing.T) {
	tenant := uuid.New()
	a, b, c := chunkID(1), chunkID(2), chunkID(3)
	vec := &mockVector{hits: []Hit{{ChunkID: a}, {ChunkID: b}}}
	kw := &mockKeyword{hits: []Hit{{ChunkID: a}, {ChunkID: c}}}
	svc := newTestService(t, vec, kw, &mockEnricher{})

	results, err := svc.Search(context.Background(), Query{Tenant: tenant, Text: "repairs obligations"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	// a appears in both legs so it leads.
	require.Equal(t, a, results[0].ChunkID)
	require.Greater(t, results[0].Score, results[1].Score)
	require.Equal(t, tenant, vec.last.tenant)
	require.Equal(t, 200, vec.last.k)
}

func TestSearchDropsVanishedChunks(t *testing.T) {
	a, b := chunkID(1), chunkID(2)
	vec := &mockVector{hits: []Hit{{ChunkID: a}, {ChunkID: b}}}
	kw := &mockKeyword{}
	svc := newTestService(t, vec, kw, &mockEnricher{drop: map[uuid.UUID]bool{b: true}})

	results, err := svc.Search(context.Background(), Query{Tenant: uuid.New(), Text: "x"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, a, results[0].ChunkID)
}

func TestSearchEmptyResultIsSuccess(t *testing.T) {
	svc := newTestService(t, &mockVector{}, &mockKeyword{}, &mockEnricher{})
	results, err := svc.Search(context.Background(), Query{Tenant: uuid.New(), Text: "nothing indexed"})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchValidatesInput(t *testing.T) {
	svc := newTestService(t, &mockVector{}, &mockKeyword{}, &mockEnricher{})

	_, err := svc.Search(context.Background(), Query{Text: "no tenant"})
	require.True(t, errs.IsValidation(err))

	_, err = svc.Search(context.Background(), Query{Tenant: uuid.New()})
	require.True(t, errs.IsValidation(err))
}

func TestSearchPropagatesIndexFailure(t *testing.T) {
	vec := &mockVector{err: errors.New("collection unavailable")}
	svc := newTestService(t, vec, &mockKeyword{}, &mockEnricher{})
	_, err := svc.Search(context.Background(), Query{Tenant: uuid.New(), Text: "x"})
	require.Error(t, err)
}

func TestSearchTruncatesToLimit(t *testing.T) {
	var hits []Hit
	for i := byte(1); i <= 30; i++ {
		hits = append(hits, Hit{ChunkID: chunkID(i)})
	}
	svc := newTestService(t, &mockVector{hits: hits}, &mockKeyword{}, &mockEnricher{})

	results, err := svc.Search(context.Background(), Query{Tenant: uuid.New(), Text: "x", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 5)

	// Default limit is 10.
	results, err = svc.Search(context.Background(), Query{Tenant: uuid.New(), Text: "x"})
	require.NoError(t, err)
	require.Len(t, results, 10)
}
