package cleanup

import (
	"context"
	"time"

	"github.com/italolelis/dropbox_exporter/internal/logctx"
	"github.com/italolelis/dropbox_exporter/internal/storage"
)

// PruneJournal deletes journaled runs that started more than keepDuration ago.
// Exported files are never touched.
func PruneJournal(ctx context.Context, pruner storage.ExportPruner, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	deleted, err := pruner.DeleteRunsBefore(time.Now().Add(-keepDuration))
	if err != nil {
		logger.Error("failed to prune export journal", "err", err)

		return err
	}

	if deleted > 0 {
		logger.Info("pruned export journal", "runs", deleted, "retention", keepDuration.String())
	}

	return nil
}

// Run prunes the journal every interval until ctx is done.
func Run(ctx context.Context, pruner storage.ExportPruner, interval, keepDuration time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			_ = PruneJournal(ctx, pruner, keepDuration)
		}
	}
}
