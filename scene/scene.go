// Package scene seeds a space with a layered starting world.
//
// Layers are horizontal bands stacked from the bottom row upwards. Band
// boundaries are displaced per column by Perlin noise, temperatures are
// jittered with simplex noise, and layers marked for caves are hollowed out
// wherever a second simplex field crosses the cave threshold. The same config
// always produces the same scene.
package scene

import (
	"context"
	"fmt"
	"math"

	"github.com/ojrac/opensimplex-go"

	"github.com/pthm-cable/cellspace/config"
	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/material"
	"github.com/pthm-cable/cellspace/space"
)

const boundaryOctaves = 3

// Spec is the material, mass and temperature chosen for one scene cell.
type Spec struct {
	Material    string
	Mass        float64
	Temperature float64
	Layer       int // -1 above the top layer
	Cave        bool
}

// Generator decides the contents of every scene cell.
type Generator struct {
	cfg      config.SceneConfig
	boundary *perlin
	heat     opensimplex.Noise
	caves    opensimplex.Noise
}

// NewGenerator returns a generator for cfg.
func NewGenerator(cfg config.SceneConfig) *Generator {
	return &Generator{
		cfg:      cfg,
		boundary: newPerlin(cfg.Seed),
		heat:     opensimplex.New(cfg.Seed + 1),
		caves:    opensimplex.NewNormalized(cfg.Seed + 2),
	}
}

// Validate checks that every layer material exists in reg.
func (g *Generator) Validate(reg *material.Registry) error {
	for i, l := range g.cfg.Layers {
		if _, err := reg.Get(l.Material); err != nil {
			return fmt.Errorf("scene layer %d: %w", i, err)
		}
	}
	return nil
}

// boundaryAt returns the row at which layer i ends in column x. Boundaries
// never cross, and a layer reaching the top of the scene is not displaced.
func (g *Generator) boundaryAt(i, x int, below float64) float64 {
	l := g.cfg.Layers[i]
	h := float64(g.cfg.Height)
	if l.Top >= 1 {
		return h
	}
	b := l.Top*h + g.cfg.Roughness*g.boundary.fbm(float64(x)*g.cfg.Scale+0.5, float64(i)*7.3+0.5, boundaryOctaves)
	return math.Max(b, below)
}

// At returns the cell spec for column x, row y.
func (g *Generator) At(x, y int) Spec {
	below := 0.0
	for i, l := range g.cfg.Layers {
		top := g.boundaryAt(i, x, below)
		if float64(y) < top {
			return g.fill(i, l, x, y)
		}
		below = top
	}
	return Spec{Material: material.VoidName, Layer: -1}
}

func (g *Generator) fill(i int, l config.LayerConfig, x, y int) Spec {
	fx, fy := float64(x)*g.cfg.Scale, float64(y)*g.cfg.Scale
	if l.Caves && g.cfg.CaveThreshold > 0 && g.caves.Eval2(fx*2, fy*2) > g.cfg.CaveThreshold {
		return Spec{Material: material.VoidName, Layer: i, Cave: true}
	}
	return Spec{
		Material:    l.Material,
		Mass:        l.Mass,
		Temperature: l.Temperature + g.cfg.Jitter*g.heat.Eval2(fx, fy),
		Layer:       i,
	}
}

// Stats summarises a generated scene.
type Stats struct {
	Cells   int
	Caves   int
	ByLayer []int
}

// Generate fills s with a Width×Height scene, row by row from the bottom, so
// IDs follow row-major order.
func Generate(ctx context.Context, s *space.Space, cfg config.SceneConfig) (Stats, error) {
	g := NewGenerator(cfg)
	if err := g.Validate(s.Registry()); err != nil {
		return Stats{}, err
	}

	st := Stats{ByLayer: make([]int, len(cfg.Layers))}
	for y := range cfg.Height {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		for x := range cfg.Width {
			spec := g.At(x, y)
			c, err := s.NewCell(geom.Pos(float64(x), float64(y)), spec.Material, spec.Mass, spec.Temperature)
			if err != nil {
				return st, fmt.Errorf("scene cell (%d, %d): %w", x, y, err)
			}
			if _, err := s.Add(ctx, c); err != nil {
				return st, fmt.Errorf("scene cell (%d, %d): %w", x, y, err)
			}
			st.Cells++
			if spec.Cave {
				st.Caves++
			}
			if spec.Layer >= 0 {
				st.ByLayer[spec.Layer]++
			}
		}
	}
	return st, nil
}
