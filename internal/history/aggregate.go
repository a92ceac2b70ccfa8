// Package history answers queries over stored snapshots: bucketed player-count
// series, latest server status and map popularity.
package history

import (
	"cmp"
	"slices"
	"time"

	"github.com/woozymasta/alliedintel/internal/models"
)

// DefaultBucket is the bucket width used when a caller passes zero.
const DefaultBucket = 15 * time.Minute

// Aggregate groups snapshots into epoch-aligned buckets of width bucket and returns
// one point per non-empty bucket in ascending order. The peak of a bucket is the
// highest NumPlayers; its capacity comes from the snapshot that first reached it.
// Aggregate does not modify snapshots.
func Aggregate(snapshots []models.Snapshot, bucket time.Duration) []models.HistoryPoint {
	points := []models.HistoryPoint{}

	width := int64(bucket / time.Second)
	if width < 1 || len(snapshots) == 0 {
		return points
	}

	ordered := slices.Clone(snapshots)
	slices.SortStableFunc(ordered, func(a, b models.Snapshot) int {
		if c := a.CapturedAt.Compare(b.CapturedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	current := int64(0)
	for i, snap := range ordered {
		index := floorDiv(snap.CapturedAt.Unix(), width)

		if i == 0 || index != current {
			current = index
			points = append(points, models.HistoryPoint{
				BucketStart: time.Unix(index*width, 0).UTC(),
				PeakPlayers: snap.NumPlayers,
				MaxCapacity: snap.MaxPlayers,
			})
			continue
		}

		last := &points[len(points)-1]
		if snap.NumPlayers > last.PeakPlayers {
			last.PeakPlayers = snap.NumPlayers
			last.MaxCapacity = snap.MaxPlayers
		}
	}

	return points
}

// floorDiv rounds toward negative infinity so pre-epoch times land in the right bucket.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
