package retrieval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func chunkID(n byte) uuid.UUID {
	var id uuid.UUID
	id[15] = n
	id[6] = 0x70 // version 7 shape, value irrelevant to fusion
	return id
}

func hitList(ns ...byte) []Hit {
	out := make([]Hit, len(ns))
	for i, n := range ns {
		out[i] = Hit{ChunkID: chunkID(n)}
	}
	return out
}

func TestFuseScoresSharedChunksHigher(t *testing.T) {
	// Chunk 1 appears at rank 1 in both lists; 2 and 3 appear once each.
	fused := Fuse(hitList(1, 2), hitList(1, 3))
	require.Len(t, fused, 3)
	require.Equal(t, chunkID(1), fused[0].ChunkID)
	require.InDelta(t, 2.0/61.0, fused[0].Score, 1e-12)
	require.InDelta(t, 1.0/62.0, fused[1].Score, 1e-12)
}

func TestFuseBreaksTiesByArrivalOrder(t *testing.T) {
	// Chunks 7 and 8 both score 1/61; 7 arrives first via the first list.
	fused := Fuse(hitList(7), hitList(8))
	require.Len(t, fused, 2)
	require.Equal(t, chunkID(7), fused[0].ChunkID)
	require.Equal(t, chunkID(8), fused[1].ChunkID)
}

func TestFuseEmptyInputs(t *testing.T) {
	require.Empty(t, Fuse(nil, nil))
	require.Len(t, Fuse(hitList(1), nil), 1)
}

func TestFuseProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	genList := gen.SliceOf(gen.UInt8Range(1, 40)).Map(func(ns []uint8) []Hit {
		seen := make(map[uint8]bool)
		var out []Hit
		for _, n := range ns {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, Hit{ChunkID: chunkID(n)})
		}
		return out
	})

	properties.Property("every input chunk appears exactly once", prop.ForAll(
		func(a, b []Hit) bool {
			fused := Fuse(a, b)
			counts := make(map[uuid.UUID]int)
			for _, h := range fused {
				counts[h.ChunkID]++
			}
			want := make(map[uuid.UUID]bool)
			for _, h := range a {
				want[h.ChunkID] = true
			}
			for _, h := range b {
				want[h.ChunkID] = true
			}
			if len(counts) != len(want) {
				return false
			}
			for id := range want {
				if counts[id] != 1 {
					return false
				}
			}
			return true
		},
		genList, genList,
	))

	properties.Property("chunks in both lists outscore single-list chunks at the same ranks", prop.ForAll(
		func(shared, onlyA, onlyB []Hit) bool {
			both := map[uuid.UUID]bool{}
			for _, h := range shared {
				both[h.ChunkID] = true
			}
			a := append(append([]Hit{}, shared...), dedupeAgainst(onlyA, both)...)
			b := append(append([]Hit{}, shared...), dedupeAgainst(onlyB, both)...)
			fused := Fuse(a, b)
			var minShared, maxSingle float64
			minShared = 2.0
			for _, h := range fused {
				if both[h.ChunkID] {
					if h.Score < minShared {
						minShared = h.Score
					}
				} else if h.Score > maxSingle {
					maxSingle = h.Score
				}
			}
			if len(shared) == 0 {
				return true
			}
			return minShared > maxSingle
		},
		genList, genList, genList,
	))

	properties.TestingRun(t)
}

// dedupeAgainst removes hits whose identifier is already in the taken set.
func dedupeAgainst(hits []Hit, taken map[uuid.UUID]bool) []Hit {
	var out []Hit
	for _, h := range hits {
		if !taken[h.ChunkID] {
			out = append(out, h)
		}
	}
	return out
}
