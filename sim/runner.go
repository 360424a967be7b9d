// Package sim drives a cell space headlessly: it seeds or restores the space,
// ticks it, and feeds telemetry, metrics and snapshots.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pthm-cable/cellspace/config"
	"github.com/pthm-cable/cellspace/material"
	"github.com/pthm-cable/cellspace/scene"
	"github.com/pthm-cable/cellspace/space"
	"github.com/pthm-cable/cellspace/store"
	"github.com/pthm-cable/cellspace/telemetry"
)

// Options configures a Runner beyond what the config file holds.
type Options struct {
	Seed        int64
	LogStats    bool
	OutputDir   string
	SnapshotDir string
	DBPath      string
	Resume      string // snapshot file to restore instead of generating a scene

	Logger     *slog.Logger
	Registerer prometheus.Registerer // nil disables metrics

	// OnStats, if set, receives every flushed stats window.
	OnStats func(telemetry.WindowStats)
}

// Runner owns a space and its telemetry for the length of a run.
type Runner struct {
	cfg  *config.Config
	opts Options
	log  *slog.Logger

	reg   *material.Registry
	space *space.Space
	tick  uint64

	perfCollector    *telemetry.PerfCollector
	collector        *telemetry.Collector
	bookmarkDetector *telemetry.BookmarkDetector
	metrics          *telemetry.Metrics
	outputManager    *telemetry.OutputManager
	db               *store.DB
}

// New builds the space for cfg and prepares telemetry.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runner, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	reg := material.Default()
	if cfg.Materials.Catalog != "" {
		var err error
		if reg, err = material.LoadFile(cfg.Materials.Catalog); err != nil {
			return nil, err
		}
	}

	r := &Runner{
		cfg:              cfg,
		opts:             opts,
		log:              log,
		reg:              reg,
		perfCollector:    telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		collector:        telemetry.NewCollector(cfg.Telemetry.StatsEvery),
		bookmarkDetector: telemetry.NewBookmarkDetector(10),
	}
	if opts.Registerer != nil {
		r.metrics = telemetry.NewMetrics(opts.Registerer)
	}

	if err := r.initSpace(ctx); err != nil {
		return nil, err
	}

	var err error
	if r.outputManager, err = telemetry.NewOutputManager(opts.OutputDir); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.outputManager.WriteConfig(cfg); err != nil {
		r.Close()
		return nil, fmt.Errorf("writing config: %w", err)
	}
	if opts.DBPath != "" {
		if r.db, err = store.Open(opts.DBPath); err != nil {
			r.Close()
			return nil, err
		}
	}

	census, err := r.space.Census(ctx)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.collector.SetBaseline(census)
	r.metrics.ObserveCensus(census)
	log.Info("space ready",
		"tick", r.tick,
		"cells", census.Cells,
		"gas", census.Gas,
		"mass", census.Mass,
		"workers", cfg.Derived.Workers,
	)
	return r, nil
}

func (r *Runner) spaceOptions() []space.Option {
	e := r.cfg.Engine
	return []space.Option{
		space.WithLockTimeout(e.LockTimeout),
		space.WithWorkers(r.cfg.Derived.Workers),
		space.WithParallelThreshold(e.ParallelThreshold),
		space.WithFlowRate(r.cfg.Flow.Rate),
		space.WithLogger(r.log),
	}
}

func (r *Runner) initSpace(ctx context.Context) error {
	if r.opts.Resume != "" {
		snap, err := store.LoadSnapshot(r.opts.Resume)
		if err != nil {
			return err
		}
		if r.space, err = snap.Restore(r.reg, r.spaceOptions()...); err != nil {
			return fmt.Errorf("restoring %s: %w", r.opts.Resume, err)
		}
		r.tick = snap.Tick
		r.opts.Seed = snap.Seed
		r.log.Info("snapshot restored", "path", r.opts.Resume, "tick", snap.Tick)
		return nil
	}

	r.space = space.New(r.reg, r.spaceOptions()...)
	sc := r.cfg.Scene
	if r.opts.Seed != 0 {
		sc.Seed = r.opts.Seed
	}
	r.opts.Seed = sc.Seed
	st, err := scene.Generate(ctx, r.space, sc)
	if err != nil {
		r.space.Close()
		return fmt.Errorf("generating scene: %w", err)
	}
	r.log.Info("scene generated", "seed", sc.Seed, "cells", st.Cells, "caves", st.Caves, "layers", st.ByLayer)
	return nil
}

// Space returns the simulated space.
func (r *Runner) Space() *space.Space { return r.space }

// Tick returns the number of ticks run, including any restored from a snapshot.
func (r *Runner) Tick() uint64 { return r.tick }

// Step advances the simulation by one tick.
func (r *Runner) Step(ctx context.Context) error {
	r.perfCollector.StartTick()

	report, err := r.space.Tick(ctx)
	if err != nil {
		return fmt.Errorf("tick %d: %w", r.tick+1, err)
	}
	r.tick++
	r.perfCollector.RecordPhase(telemetry.PhaseSnapshot, report.Snapshot)
	r.perfCollector.RecordPhase(telemetry.PhaseCompute, report.Compute)
	r.perfCollector.RecordPhase(telemetry.PhaseApply, report.Apply)
	r.metrics.ObserveTick(report)
	r.collector.Record(report)

	err = r.flushTelemetry(ctx)

	if every := r.cfg.Snapshot.Every; every > 0 && r.tick%uint64(every) == 0 {
		r.perfCollector.StartPhase(telemetry.PhasePersist)
		r.saveSnapshot(ctx, nil)
	}
	r.perfCollector.EndTick()
	return err
}

// Run steps until maxTicks total ticks have run (0 = unlimited) or ctx ends.
// A cancelled context is not an error.
func (r *Runner) Run(ctx context.Context, maxTicks uint64) error {
	for maxTicks == 0 || r.tick < maxTicks {
		if ctx.Err() != nil {
			r.log.Info("run interrupted", "tick", r.tick)
			return nil
		}
		if err := r.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				r.log.Info("run interrupted", "tick", r.tick)
				return nil
			}
			return err
		}
	}
	r.log.Info("max ticks reached", "tick", r.tick)
	return nil
}

// Close releases the space, output files and database. Closing twice is a no-op.
func (r *Runner) Close() error {
	if r.space != nil {
		r.space.Close()
	}
	err := r.outputManager.Close()
	r.outputManager = nil
	if r.db != nil {
		err = errors.Join(err, r.db.Close())
		r.db = nil
	}
	return err
}
