package legislation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticStats struct {
	stats *Statistics
}

func (s *staticStats) GetStatistics(context.Context) (*Statistics, error) {
	return s.stats, nil
}

func TestDiffStatistics(t *testing.T) {
	prev := &Statistics{Collections: map[string]CollectionStat{
		"ukpga": {Count: 4000, LastUpdated: "2026-01-01"},
		"uksi":  {Count: 120000, LastUpdated: "2026-01-01"},
		"asp":   {Count: 900, LastUpdated: "2026-01-01"},
	}}
	curr := &Statistics{Collections: map[string]CollectionStat{
		"ukpga": {Count: 4002, LastUpdated: "2026-02-01"},
		"uksi":  {Count: 120000, LastUpdated: "2026-01-01"},
		"ukla":  {Count: 50, LastUpdated: "2026-02-01"},
	}}

	changes := DiffStatistics(prev, curr)
	require.Len(t, changes, 3)

	byCollection := make(map[string]Change)
	for _, ch := range changes {
		byCollection[ch.Collection] = ch
	}
	require.Equal(t, ChangeRemoved, byCollection["asp"].Kind)
	require.Equal(t, ChangeNew, byCollection["ukla"].Kind)
	require.Equal(t, ChangeAmended, byCollection["ukpga"].Kind)
	require.NotContains(t, byCollection, "uksi")
}

func TestChangeDetectorPersistsAndDiffs(t *testing.T) {
	source := &staticStats{stats: &Statistics{Collections: map[string]CollectionStat{
		"ukpga": {Count: 4000, LastUpdated: "2026-01-01"},
	}}}
	det, err := NewChangeDetector(source, t.TempDir())
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	det.now = func() time.Time { return base }

	// First check has no prior snapshot: persist only.
	changes, err := det.Check(context.Background())
	require.NoError(t, err)
	require.Empty(t, changes)

	// Second check sees the updated counts.
	source.stats = &Statistics{Collections: map[string]CollectionStat{
		"ukpga": {Count: 4010, LastUpdated: "2026-03-01"},
	}}
	det.now = func() time.Time { return base.Add(time.Hour) }
	changes, err = det.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, ChangeAmended, changes[0].Kind)
	require.Equal(t, "ukpga", changes[0].Collection)

	// A third check against unchanged data reports nothing; history survives
	// because every snapshot is its own timestamped file.
	det.now = func() time.Time { return base.Add(2 * time.Hour) }
	changes, err = det.Check(context.Background())
	require.NoError(t, err)
	require.Empty(t, changes)
}
