package sim

import (
	"context"
	"fmt"

	"github.com/pthm-cable/cellspace/store"
	"github.com/pthm-cable/cellspace/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (r *Runner) flushTelemetry(ctx context.Context) error {
	if !r.collector.ShouldFlush(r.tick) {
		return nil
	}

	r.perfCollector.StartPhase(telemetry.PhaseCensus)
	census, err := r.space.Census(ctx)
	if err != nil {
		return fmt.Errorf("census at tick %d: %w", r.tick, err)
	}

	r.perfCollector.StartPhase(telemetry.PhaseTelemetry)
	stats := r.collector.Flush(r.tick, census)
	perfStats := r.perfCollector.Stats()
	r.metrics.ObserveCensus(census)

	if r.opts.OnStats != nil {
		r.opts.OnStats(stats)
	}

	if r.opts.LogStats {
		stats.LogStats(r.log)
		perfStats.LogStats(r.log)
	}

	if err := r.outputManager.WriteStats(stats); err != nil {
		r.log.Error("failed to write stats", "error", err)
	}
	if err := r.outputManager.WritePerf(perfStats, stats.WindowEndTick); err != nil {
		r.log.Error("failed to write perf", "error", err)
	}

	bookmarks := r.bookmarkDetector.Check(stats)
	for _, bm := range bookmarks {
		if r.opts.LogStats {
			bm.LogBookmark(r.log)
		}
		r.metrics.ObserveBookmark(bm)
		if err := r.outputManager.WriteBookmark(bm); err != nil {
			r.log.Error("failed to write bookmark", "error", err)
		}
		r.perfCollector.StartPhase(telemetry.PhasePersist)
		r.saveSnapshot(ctx, &bm)
	}
	return nil
}

// saveSnapshot packs the space and writes it to the snapshot directory and
// database, whichever are configured. Failures are logged, not returned.
func (r *Runner) saveSnapshot(ctx context.Context, bookmark *telemetry.Bookmark) {
	if r.opts.SnapshotDir == "" && r.db == nil {
		return
	}
	snapshot, err := r.createSnapshot(ctx, bookmark)
	if err != nil {
		r.log.Error("failed to pack space", "tick", r.tick, "error", err)
		return
	}

	if r.opts.SnapshotDir != "" {
		path, err := store.SaveSnapshot(snapshot, r.opts.SnapshotDir)
		if err != nil {
			r.log.Error("failed to save snapshot", "error", err)
		} else {
			r.log.Info("snapshot saved", "path", path, "tick", r.tick)
		}
	}
	if r.db != nil {
		if err := r.db.Save(ctx, snapshot); err != nil {
			r.log.Error("failed to store snapshot", "error", err)
		} else {
			r.log.Debug("snapshot stored", "db", r.db.Path(), "tick", r.tick)
		}
	}
}

// createSnapshot builds a snapshot from the current state.
func (r *Runner) createSnapshot(ctx context.Context, bookmark *telemetry.Bookmark) (*store.Snapshot, error) {
	packed, err := r.space.Pack(ctx)
	if err != nil {
		return nil, err
	}
	return &store.Snapshot{
		Version:  store.SnapshotVersion,
		Seed:     r.opts.Seed,
		Tick:     r.tick,
		Space:    packed,
		Bookmark: bookmark,
	}, nil
}
