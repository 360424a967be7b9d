package space

import (
	"context"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/cellspace/cell"
	"github.com/pthm-cable/cellspace/geom"
)

// GasForce sums pressure × offset over the gas neighbours of c. ok is false
// when c itself is not a gas; a gas cell with no gas neighbours gets a zero
// vector and ok true.
//
// The eight neighbour lookups run concurrently. c is taken by value, so the
// caller must not hold write access to any neighbour's handle.
func (s *Space) GasForce(ctx context.Context, c cell.Cell) (force r2.Vec, ok bool, err error) {
	if !c.IsGas() {
		return r2.Vec{}, false, nil
	}

	var parts [geom.NumDirections]r2.Vec
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range c.Pos.Neighbours() {
		g.Go(func() error {
			h, err := s.GetByPosition(gctx, n.Pos)
			if err != nil || h == nil {
				return err
			}
			return h.Read(gctx, func(nc *cell.Cell) {
				if p, ok := nc.Pressure(); ok {
					parts[i] = r2.Scale(p, n.Offset)
				}
			})
		})
	}
	if err := g.Wait(); err != nil {
		return r2.Vec{}, false, err
	}

	for _, p := range parts {
		force = r2.Add(force, p)
	}
	return force, true, nil
}

// gasForce is the lookup-free form of GasForce used inside a tick, where the
// neighbours are already snapshotted.
func gasForce(neighbours *[geom.NumDirections]int, snaps []cellSnapshot) r2.Vec {
	var force r2.Vec
	for d, j := range neighbours {
		if j < 0 || !snaps[j].gas {
			continue
		}
		force = r2.Add(force, r2.Scale(snaps[j].pressure, geom.Offsets[d]))
	}
	return force
}
