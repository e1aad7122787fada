package retrieval

import (
	"sort"

	"github.com/google/uuid"
)

// rrfK is the reciprocal-rank-fusion damping constant.
const rrfK = 60

// Fuse merges ranked hit lists with reciprocal rank fusion: each unique
// chunk scores the sum over lists of 1/(rrfK + rank), rank 1-based. Ties
// break by first appearance across the input lists, so the earlier list
// wins ties in practice.
func Fuse(lists ...[]Hit) []Hit {
	type entry struct {
		score float64
		order int
	}
	merged := make(map[uuid.UUID]*entry)
	var arrival []uuid.UUID
	for _, list := range lists {
		for rank, hit := range list {
			e, ok := merged[hit.ChunkID]
			if !ok {
				e = &entry{order: len(arrival)}
				merged[hit.ChunkID] = e
				arrival = append(arrival, hit.ChunkID)
			}
			e.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	out := make([]Hit, 0, len(arrival))
	for _, id := range arrival {
		out = append(out, Hit{ChunkID: id, Score: merged[id].score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
