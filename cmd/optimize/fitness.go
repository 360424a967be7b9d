package main

import (
	"context"
	"io"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/cellspace/config"
	"github.com/pthm-cable/cellspace/sim"
	"github.com/pthm-cable/cellspace/telemetry"
)

const (
	// settleFraction is the per-window mass movement, relative to total
	// mass, below which a run counts as settled.
	settleFraction = 1e-4

	// Fitness weights. Drift should be rounding noise, so any visible drift
	// outweighs a miss on the settle target.
	changeWeight = 0.1
	driftWeight  = 1e4
)

// evaluation is the outcome of one parameter set over every seed.
type evaluation struct {
	Eval       int     `csv:"eval"`
	FlowRate   float64 `csv:"flow_rate"`
	Roughness  float64 `csv:"roughness"`
	Jitter     float64 `csv:"jitter"`
	SettleTick float64 `csv:"settle_tick"` // mean; unsettled seeds count as 2×max ticks
	Unsettled  int     `csv:"unsettled"`
	Drift      float64 `csv:"drift"`   // worst |relative mass drift| over seeds and windows
	Changes    float64 `csv:"changes"` // material transitions per cell, mean over seeds
	Fitness    float64 `csv:"fitness"` // lower is better
}

// seedRun is what one seeded simulation reports back.
type seedRun struct {
	settleTick uint64
	settled    bool
	drift      float64
	changes    float64
	cells      int
}

// calibrator scores parameter sets by how close the generated scene's gas
// settles to a target tick, penalising transitions and conservation drift.
type calibrator struct {
	knobs    knobs
	base     *config.Config
	maxTicks uint64
	target   float64
	seeds    []int64
}

func newCalibrator(ks knobs, base *config.Config, maxTicks, target uint64, seeds []int64) *calibrator {
	return &calibrator{
		knobs:    ks,
		base:     base,
		maxTicks: maxTicks,
		target:   float64(target),
		seeds:    seeds,
	}
}

// evaluate runs every seed concurrently with vals applied to a copy of the
// base config. A failed run scores +Inf.
func (c *calibrator) evaluate(ctx context.Context, vals []float64) evaluation {
	cfg := *c.base // scalar knobs only; the layer slice may be shared
	c.knobs.apply(&cfg, vals)
	ev := evaluation{
		FlowRate:  cfg.Flow.Rate,
		Roughness: cfg.Scene.Roughness,
		Jitter:    cfg.Scene.Jitter,
	}

	runs := make([]seedRun, len(c.seeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range c.seeds {
		g.Go(func() error {
			run, err := c.run(gctx, &cfg, seed)
			runs[i] = run
			return err
		})
	}
	if err := g.Wait(); err != nil {
		ev.Fitness = math.Inf(1)
		return ev
	}

	for _, r := range runs {
		ev.SettleTick += float64(r.settleTick)
		if !r.settled {
			ev.Unsettled++
		}
		ev.Drift = max(ev.Drift, r.drift)
		ev.Changes += r.changes / float64(max(r.cells, 1))
	}
	n := float64(len(runs))
	ev.SettleTick /= n
	ev.Changes /= n
	ev.Fitness = c.score(ev)
	return ev
}

func (c *calibrator) score(ev evaluation) float64 {
	return math.Abs(ev.SettleTick-c.target)/c.target + changeWeight*ev.Changes + driftWeight*ev.Drift
}

// run steps one seeded scene until a stats window moves almost no mass, or
// until maxTicks.
func (c *calibrator) run(ctx context.Context, cfg *config.Config, seed int64) (seedRun, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := seedRun{settleTick: 2 * c.maxTicks}
	r, err := sim.New(ctx, cfg, sim.Options{
		Seed:   seed,
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		OnStats: func(s telemetry.WindowStats) {
			res.changes += float64(s.Transitions)
			res.cells = s.Cells
			res.drift = max(res.drift, math.Abs(s.MassDrift))
			if !res.settled && s.MassMoved < settleFraction*s.TotalMass {
				res.settled = true
				res.settleTick = s.WindowEndTick
				cancel()
			}
		},
	})
	if err != nil {
		return res, err
	}
	defer r.Close()

	return res, r.Run(ctx, c.maxTicks)
}
