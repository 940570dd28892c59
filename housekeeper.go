package docfold

import (
	"errors"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/docfold/docfold/blob"
)

// housekeep prunes stored artefacts down to the configured size cap on a
// fixed interval until the instance context is cancelled.
func (instance *Instance) housekeep(every time.Duration) {
	log := instance.config.Logger.WithGroup("housekeeper")
	log.Debug("housekeeper started",
		slog.Duration("interval", every),
		slog.Int("max_storage_mb", instance.config.MaxStorageMB))
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-instance.config.Ctx.Done():
			log.Debug("housekeeper stopped")
			return
		case <-ticker.C:
			instance.pruneStorage(log)
		}
	}
}

// pruneStorage runs one housekeeping pass over all groups. A locked store
// means another process is already pruning, which is not an error.
func (instance *Instance) pruneStorage(log *slog.Logger) {
	before := instance.blobs.TotalSize("")
	removed, err := instance.blobs.PruneSize(instance.config.MaxStorageMB, "")
	if err != nil {
		if errors.Is(err, blob.ErrLocked) {
			log.Debug("skipped prune, store locked by another run")
			return
		}
		log.Error("storage prune failed", slog.Any("error", err))
		return
	}
	if removed == 0 {
		return
	}
	reclaimed := before - instance.blobs.TotalSize("")
	if reclaimed < 0 {
		reclaimed = 0
	}
	log.Info("storage pruned",
		slog.Int("removed", removed),
		slog.String("reclaimed", humanize.IBytes(uint64(reclaimed))),
		slog.String("in_use", humanize.IBytes(uint64(instance.blobs.TotalSize("")))))
}
