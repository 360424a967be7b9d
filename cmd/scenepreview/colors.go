package main

import (
	"image/color"
	"math"

	"github.com/pthm-cable/cellspace/cell"
	"github.com/pthm-cable/cellspace/material"
)

// materialColors holds hand-picked colours for the built-in catalog. Other
// materials fall back to a colour for their phase.
var materialColors = map[string]color.RGBA{
	"water":         {R: 40, G: 90, B: 200, A: 255},
	"steam":         {R: 210, G: 215, B: 225, A: 255},
	"ice":           {R: 170, G: 225, B: 240, A: 255},
	"rock":          {R: 95, G: 90, B: 85, A: 255},
	"lava":          {R: 240, G: 100, B: 20, A: 255},
	"rock_vapour":   {R: 255, G: 190, B: 120, A: 255},
	"oxygen":        {R: 120, G: 170, B: 230, A: 255},
	"liquid_oxygen": {R: 90, G: 140, B: 255, A: 255},
	"solid_oxygen":  {R: 160, G: 190, B: 255, A: 255},
	"co2":           {R: 150, G: 150, B: 150, A: 255},
	"dry_ice":       {R: 235, G: 235, B: 240, A: 255},
}

var phaseColors = map[material.Phase]color.RGBA{
	material.Gas:    {R: 200, G: 200, B: 160, A: 255},
	material.Liquid: {R: 60, G: 120, B: 160, A: 255},
	material.Solid:  {R: 120, G: 110, B: 100, A: 255},
}

// colorMode selects what the preview colours cells by.
type colorMode int

const (
	byMaterial colorMode = iota
	byPhase
	byHeat
	colorModes
)

func (m colorMode) String() string {
	switch m {
	case byPhase:
		return "phase"
	case byHeat:
		return "temperature"
	default:
		return "material"
	}
}

func (m colorMode) next() colorMode { return (m + 1) % colorModes }

// cellColor colours one packed cell in the given mode.
func cellColor(reg *material.Registry, st cell.State, mode colorMode) color.RGBA {
	switch mode {
	case byPhase:
		return phaseColor(reg, st)
	case byHeat:
		return heatColor(st)
	default:
		return materialColor(reg, st)
	}
}

// gasFullMass is the mass at which a gas cell is drawn at full brightness.
const gasFullMass = 1.0

// materialColor colours a cell by what it is made of. Gas fades towards black
// as it thins out.
func materialColor(reg *material.Registry, st cell.State) color.RGBA {
	m, err := reg.Get(st.Material)
	if err != nil || m.IsVoid() {
		return color.RGBA{A: 255}
	}
	c, ok := materialColors[m.Name()]
	if !ok {
		c = phaseColors[m.Phase()]
	}
	if m.IsGas() {
		return shade(c, 0.25+0.75*min(st.Mass/gasFullMass, 1))
	}
	return c
}

// phaseColor colours a cell by phase only, ignoring mass.
func phaseColor(reg *material.Registry, st cell.State) color.RGBA {
	m, err := reg.Get(st.Material)
	if err != nil || m.IsVoid() {
		return color.RGBA{A: 255}
	}
	return phaseColors[m.Phase()]
}

// heatColor maps temperature onto a black, red, yellow, white ramp over
// [-50, 1500] °C on a log scale. Void is black.
func heatColor(st cell.State) color.RGBA {
	if st.Temperature == nil {
		return color.RGBA{A: 255}
	}
	const lo, hi = -50.0, 1500.0
	t := (min(max(*st.Temperature, lo), hi) - lo) / (hi - lo)
	t = math.Log1p(9*t) / math.Log(10)

	switch {
	case t < 1.0/3:
		return color.RGBA{R: uint8(255 * t * 3), A: 255}
	case t < 2.0/3:
		return color.RGBA{R: 255, G: uint8(255 * (t - 1.0/3) * 3), A: 255}
	default:
		return color.RGBA{R: 255, G: 255, B: uint8(255 * min((t-2.0/3)*3, 1)), A: 255}
	}
}

func shade(c color.RGBA, f float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * f),
		G: uint8(float64(c.G) * f),
		B: uint8(float64(c.B) * f),
		A: c.A,
	}
}
