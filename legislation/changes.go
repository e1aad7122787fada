package legislation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"goa.design/clue/log"
)

type (
	// ChangeKind classifies one detected dataset change.
	ChangeKind string

	// Change is one difference between two statistics snapshots.
	Change struct {
		Kind       ChangeKind `json:"kind"`
		Collection string     `json:"collection"`
		Detail     string     `json:"detail"`
	}

	// StatisticsSource fetches the current dataset statistics. Satisfied by
	// *Client.
	StatisticsSource interface {
		GetStatistics(ctx context.Context) (*Statistics, error)
	}

	// ChangeDetector periodically snapshots the dataset statistics into
	// timestamped files and diffs consecutive snapshots. Best effort: a
	// failed cycle is logged and retried next interval.
	ChangeDetector struct {
		source StatisticsSource
		dir    string
		now    func() time.Time
	}
)

const (
	ChangeNew     ChangeKind = "new"
	ChangeAmended ChangeKind = "amended"
	ChangeRemoved ChangeKind = "removed"
)

// snapshotTimeLayout orders snapshot filenames lexicographically by time.
const snapshotTimeLayout = "20060102T150405"

// NewChangeDetector builds a detector persisting snapshots under dir.
func NewChangeDetector(source StatisticsSource, dir string) (*ChangeDetector, error) {
	if source == nil {
		return nil, fmt.Errorf("legislation: statistics source is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("legislation: snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("legislation: create snapshot directory: %w", err)
	}
	return &ChangeDetector{source: source, dir: dir, now: time.Now}, nil
}

// Check downloads the current statistics, diffs them against the latest
// persisted snapshot, persists the new snapshot, and returns the detected
// changes. The first ever check persists and returns no changes.
func (d *ChangeDetector) Check(ctx context.Context) ([]Change, error) {
	current, err := d.source.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}
	previous, err := d.latestSnapshot()
	if err != nil {
		return nil, err
	}
	if err := d.persist(current); err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, nil
	}
	return DiffStatistics(previous, current), nil
}

// Run checks on the given interval until the context ends, logging detected
// changes.
func (d *ChangeDetector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changes, err := d.Check(ctx)
			if err != nil {
				log.Errorf(ctx, err, "legislation: change detection cycle failed, will retry next interval")
				continue
			}
			for _, ch := range changes {
				log.Infof(ctx, "legislation: dataset change detected: %s %s (%s)", ch.Kind, ch.Collection, ch.Detail)
			}
		}
	}
}

// DiffStatistics compares two snapshots collection by collection.
func DiffStatistics(prev, curr *Statistics) []Change {
	var changes []Change
	names := make([]string, 0, len(prev.Collections)+len(curr.Collections))
	seen := make(map[string]bool)
	for name := range prev.Collections {
		names = append(names, name)
		seen[name] = true
	}
	for name := range curr.Collections {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		before, hadBefore := prev.Collections[name]
		after, hasAfter := curr.Collections[name]
		switch {
		case !hadBefore:
			changes = append(changes, Change{
				Kind:       ChangeNew,
				Collection: name,
				Detail:     fmt.Sprintf("%d items", after.Count),
			})
		case !hasAfter:
			changes = append(changes, Change{
				Kind:       ChangeRemoved,
				Collection: name,
				Detail:     fmt.Sprintf("had %d items", before.Count),
			})
		case before.Count != after.Count || before.LastUpdated != after.LastUpdated:
			changes = append(changes, Change{
				Kind:       ChangeAmended,
				Collection: name,
				Detail:     fmt.Sprintf("count %d -> %d", before.Count, after.Count),
			})
		}
	}
	return changes
}

func (d *ChangeDetector) snapshotPath(ts time.Time) string {
	return filepath.Join(d.dir, "stats-"+ts.UTC().Format(snapshotTimeLayout)+".json")
}

func (d *ChangeDetector) persist(stats *Statistics) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("legislation: encode snapshot: %w", err)
	}
	if err := os.WriteFile(d.snapshotPath(d.now()), data, 0o644); err != nil {
		return fmt.Errorf("legislation: write snapshot: %w", err)
	}
	return nil
}

// latestSnapshot loads the newest persisted snapshot, or nil when none
// exists yet.
func (d *ChangeDetector) latestSnapshot() (*Statistics, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, "stats-*.json"))
	if err != nil {
		return nil, fmt.Errorf("legislation: list snapshots: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Strings(matches)
	data, err := os.ReadFile(matches[len(matches)-1])
	if err != nil {
		return nil, fmt.Errorf("legislation: read snapshot: %w", err)
	}
	var stats Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("legislation: decode snapshot: %w", err)
	}
	return &stats, nil
}
