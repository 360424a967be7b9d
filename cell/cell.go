// Package cell implements a single simulation unit and its physics rules.
package cell

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/material"
)

// Volume is the fixed volume of every cell used for gas pressure.
const Volume = 1.0

var (
	// ErrInsufficientMass is returned by Take when more mass is requested than held.
	ErrInsufficientMass = errors.New("insufficient mass")
	// ErrNegativeMass is returned when a cell is constructed with negative mass.
	ErrNegativeMass = errors.New("negative mass")
	// ErrInvalidState is returned for combinations no normalised cell can
	// hold: void with mass, non-finite mass, or matter without a temperature.
	ErrInvalidState = errors.New("invalid cell state")
)

// ID identifies a cell within a space. IDs are allocated monotonically.
type ID uint64

// Cell holds the state of one grid unit. The zero value is not usable; build
// cells with New or FromState.
//
// Material, mass and temperature only change through methods that end in
// update, so pressure is always derived from them.
type Cell struct {
	ID  ID
	Pos geom.Position

	reg         *material.Registry
	material    *material.Material
	mass        float64
	temperature float64 // °C; NaN while void
	pressure    float64
	hasPressure bool
}

// New builds a cell of the named material and normalises it, so a material
// outside its stable range transitions immediately.
func New(reg *material.Registry, pos geom.Position, name string, mass, temperature float64) (Cell, error) {
	if err := pos.Validate(); err != nil {
		return Cell{}, err
	}
	m, err := reg.Get(name)
	if err != nil {
		return Cell{}, err
	}
	if mass < 0 || math.IsNaN(mass) {
		return Cell{}, fmt.Errorf("%w: %v", ErrNegativeMass, mass)
	}
	switch {
	case math.IsInf(mass, 0):
		return Cell{}, fmt.Errorf("%w: mass %v", ErrInvalidState, mass)
	case mass > 0 && m.IsVoid():
		return Cell{}, fmt.Errorf("%w: %s with mass %v", ErrInvalidState, name, mass)
	case mass > 0 && math.IsNaN(temperature):
		return Cell{}, fmt.Errorf("%w: %s with mass %v has no temperature", ErrInvalidState, name, mass)
	}
	c := Cell{
		Pos:         pos.Canonical(),
		reg:         reg,
		material:    m,
		mass:        mass,
		temperature: temperature,
	}
	c.update()
	return c, nil
}

// Registry returns the catalog the cell was built against. It is nil for the
// zero value.
func (c *Cell) Registry() *material.Registry { return c.reg }

// Material returns the current material handle.
func (c *Cell) Material() *material.Material { return c.material }

// Mass returns the current mass.
func (c *Cell) Mass() float64 { return c.mass }

// Temperature returns the temperature in °C. It is NaN for void cells.
func (c *Cell) Temperature() float64 { return c.temperature }

// Pressure returns the gas pressure. ok is false unless the cell holds gas.
func (c *Cell) Pressure() (p float64, ok bool) { return c.pressure, c.hasPressure }

// IsGas reports whether the cell holds gas with a defined pressure.
func (c *Cell) IsGas() bool { return c.hasPressure }

// IsVoid reports whether the cell is empty.
func (c *Cell) IsVoid() bool { return c.material.IsVoid() }

// Energy returns the thermal content proxy mass × absolute temperature, or 0 for
// void cells.
func (c *Cell) Energy() float64 {
	if c.IsVoid() || c.mass == 0 {
		return 0
	}
	return c.mass * (c.temperature + material.KelvinShift)
}

// Stack adds mass to the cell. Negative amounts are ignored, and so is
// stacking onto a void cell, which has no material to add to. Use Exchange to
// fill a void.
func (c *Cell) Stack(mass float64) {
	if !(mass >= 0) || c.IsVoid() {
		return
	}
	c.mass += mass
	c.update()
}

// Take removes mass from the cell and returns the remaining mass. If the cell
// holds less than requested, it fails with ErrInsufficientMass and nothing
// changes. Negative amounts are ignored.
func (c *Cell) Take(mass float64) (float64, error) {
	if !(mass >= 0) {
		return c.mass, nil
	}
	rest := c.mass - mass
	if !(rest >= 0) {
		return c.mass, fmt.Errorf("%w: have %v, want %v", ErrInsufficientMass, c.mass, mass)
	}
	c.mass = rest
	c.update()
	return rest, nil
}

// Heat adds delta degrees to the cell temperature. Heating a void cell has no
// effect since it has no temperature.
func (c *Cell) Heat(delta float64) {
	c.temperature += delta
	c.update()
}

// Exchange applies one tick of flow to the cell: out mass leaves at the cell's
// own temperature, in mass arrives carrying inHeat (Σ m·T in Kelvin). A void
// cell receiving mass becomes inMaterial.
func (c *Cell) Exchange(out, in, inHeat float64, inMaterial *material.Material) {
	if out > c.mass {
		out = c.mass
	}
	kept := c.mass - out
	if in <= 0 {
		if out > 0 {
			c.mass = kept
			c.update()
		}
		return
	}

	heat := inHeat
	if kept > 0 && !c.IsVoid() {
		heat += kept * (c.temperature + material.KelvinShift)
	} else if inMaterial != nil {
		c.material = inMaterial
	}
	c.mass = kept + in
	c.temperature = heat/c.mass - material.KelvinShift
	c.update()
}

// update re-establishes the cell invariants after any mutation: zero mass
// becomes void, otherwise the material follows its transitions to a fixed
// point and pressure is recomputed.
func (c *Cell) update() {
	if c.mass == 0 {
		c.material = c.reg.Void()
		c.temperature = math.NaN()
		c.pressure, c.hasPressure = 0, false
		return
	}

	// Transitions repeat until the material is stable at this temperature, so
	// a second update never changes anything. A consistent catalog settles
	// within one step per material; the bound stops cyclic catalogs spinning.
	for range c.reg.Len() {
		next := c.material.CheckTransition(c.temperature)
		if next == nil || next == c.material {
			break
		}
		c.material = next
	}

	c.pressure, c.hasPressure = c.material.GasPressure(c.mass, c.temperature, Volume)
}

func (c Cell) String() string {
	if p, ok := c.Pressure(); ok {
		return fmt.Sprintf("cell#%d %v %s m=%g T=%g P=%g", c.ID, c.Pos, c.material, c.mass, c.temperature, p)
	}
	return fmt.Sprintf("cell#%d %v %s m=%g T=%g", c.ID, c.Pos, c.material, c.mass, c.temperature)
}
