package cell

import (
	"fmt"
	"math"

	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/material"
)

// State is the serialisable form of a cell. Temperature is nil for void cells
// because JSON cannot carry NaN.
type State struct {
	ID          ID       `json:"id"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Material    string   `json:"material"`
	Mass        float64  `json:"mass"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// State captures the cell for packing.
func (c *Cell) State() State {
	st := State{
		ID:       c.ID,
		X:        c.Pos.X,
		Y:        c.Pos.Y,
		Material: c.material.Name(),
		Mass:     c.mass,
	}
	if !math.IsNaN(c.temperature) {
		t := c.temperature
		st.Temperature = &t
	}
	return st
}

// FromState rebuilds a cell from its packed form, keeping its ID. Only an
// empty cell may omit its temperature.
func FromState(reg *material.Registry, st State) (Cell, error) {
	temp := math.NaN()
	switch {
	case st.Temperature != nil:
		temp = *st.Temperature
	case st.Mass != 0:
		return Cell{}, fmt.Errorf("cell %d: %w: %s with mass %v has no temperature", st.ID, ErrInvalidState, st.Material, st.Mass)
	}
	c, err := New(reg, geom.Pos(st.X, st.Y), st.Material, st.Mass, temp)
	if err != nil {
		return Cell{}, fmt.Errorf("cell %d: %w", st.ID, err)
	}
	c.ID = st.ID
	return c, nil
}
