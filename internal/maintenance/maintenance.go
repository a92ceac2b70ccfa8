// Package maintenance provides one-shot database tasks selected by command-line flags.
package maintenance

import (
	"context"
	"time"

	"github.com/woozymasta/alliedintel/internal/config"
	"github.com/woozymasta/alliedintel/internal/logger"
	"github.com/woozymasta/alliedintel/internal/models"
)

// Pruner deletes old snapshots.
type Pruner interface {
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)
}

// Runner performs a single snapshot sweep.
type Runner interface {
	Run(ctx context.Context) (models.RunSummary, error)
}

// Run checks if any maintenance flags are set and executes the corresponding tasks.
// Returns true if a maintenance task was executed (indicating the program should exit).
// Pruning runs before the snapshot sweep when both are requested.
func Run(ctx context.Context, cfg *config.Config, store Pruner, pipeline Runner) bool {
	log := logger.With("maintenance")

	if cfg.Storage.PruneBefore <= 0 && !cfg.Storage.SnapshotOnce {
		return false
	}

	if cfg.Storage.PruneBefore > 0 {
		cutoff := time.Now().Add(-cfg.Storage.PruneBefore)
		log.Info().Time("before", cutoff).Msg("Pruning old snapshots...")

		count, err := store.PruneSnapshots(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune snapshots")
		} else {
			log.Info().Int64("deleted", count).Msg("Prune finished")
		}
	}

	if cfg.Storage.SnapshotOnce {
		log.Info().Msg("Running a single snapshot sweep...")

		summary, err := pipeline.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Snapshot sweep failed")
		} else {
			log.Info().
				Str("state", string(summary.State)).
				Int("servers_snapshotted", summary.ServersSnapshotted).
				Int("errors", summary.Errors).
				Msg("Snapshot sweep completed")
		}
	}

	return true
}
