package space

import (
	"context"

	"github.com/pthm-cable/cellspace/cell"
	"github.com/pthm-cable/cellspace/material"
)

// Census is a point-in-time summary of the space.
type Census struct {
	Cells  int
	Gas    int
	Liquid int
	Solid  int
	Void   int

	Mass        float64 // total mass
	Heat        float64 // Σ m·T over non-void cells, T in Kelvin
	MaxPressure float64

	ByMaterial map[string]int
}

// Census reads every cell once, in ID order.
func (s *Space) Census(ctx context.Context) (Census, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c := Census{ByMaterial: make(map[string]int)}
	var readErr error
	err := s.cells.Range(ctx, func(_ cell.ID, h *Handle) bool {
		readErr = h.Read(ctx, func(v *cell.Cell) { c.count(v) })
		return readErr == nil
	})
	if err != nil {
		return Census{}, err
	}
	if readErr != nil {
		return Census{}, readErr
	}
	return c, nil
}

func (c *Census) count(v *cell.Cell) {
	c.Cells++
	m := v.Material()
	c.ByMaterial[m.Name()]++
	switch {
	case m.IsVoid():
		c.Void++
	case m.Phase() == material.Gas:
		c.Gas++
	case m.Phase() == material.Liquid:
		c.Liquid++
	default:
		c.Solid++
	}
	c.Mass += v.Mass()
	c.Heat += v.Energy()
	if p, ok := v.Pressure(); ok {
		c.MaxPressure = max(c.MaxPressure, p)
	}
}
