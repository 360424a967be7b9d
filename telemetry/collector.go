// Package telemetry provides tick statistics, performance timing, notable
// event detection and metrics export for a running cell space.
package telemetry

import (
	"github.com/pthm-cable/cellspace/space"
)

// Collector accumulates tick reports within windows and produces WindowStats.
type Collector struct {
	windowTicks uint64

	// Current window tracking
	windowStartTick uint64
	baseline        space.Census
	hasBaseline     bool

	// Counters for current window
	ticks       int
	transfers   int
	massMoved   float64
	transitions int
	maxForce    float64
	parallel    int
	moved       []float64
}

// NewCollector creates a collector that flushes every windowTicks ticks.
func NewCollector(windowTicks int) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	return &Collector{
		windowTicks: uint64(windowTicks),
		moved:       make([]float64, 0, windowTicks),
	}
}

// SetBaseline records the census that conservation drift is measured against.
func (c *Collector) SetBaseline(census space.Census) {
	c.baseline = census
	c.hasBaseline = true
}

// Record adds one tick to the current window.
func (c *Collector) Record(r space.TickReport) {
	c.ticks++
	c.transfers += r.Transfers
	c.massMoved += r.MassMoved
	c.transitions += r.Transitions
	c.maxForce = max(c.maxForce, r.MaxForce)
	if r.Parallel {
		c.parallel++
	}
	c.moved = append(c.moved, r.MassMoved)
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick uint64) bool {
	return currentTick-c.windowStartTick >= c.windowTicks
}

// Flush produces a WindowStats from the window's reports and the census taken
// at its end, then resets counters for the next window.
func (c *Collector) Flush(currentTick uint64, census space.Census) WindowStats {
	if !c.hasBaseline {
		c.SetBaseline(census)
	}
	mean, p10, p50, p90 := ComputeDistribution(c.moved)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		Ticks:           c.ticks,

		Cells:       census.Cells,
		Gas:         census.Gas,
		Liquid:      census.Liquid,
		Solid:       census.Solid,
		Void:        census.Void,
		TotalMass:   census.Mass,
		TotalHeat:   census.Heat,
		MaxPressure: census.MaxPressure,

		MassDrift: drift(census.Mass, c.baseline.Mass),
		HeatDrift: drift(census.Heat, c.baseline.Heat),

		Transfers:     c.transfers,
		MassMoved:     c.massMoved,
		Transitions:   c.transitions,
		MaxForce:      c.maxForce,
		ParallelTicks: c.parallel,

		MovedMean: mean,
		MovedP10:  p10,
		MovedP50:  p50,
		MovedP90:  p90,
	}

	// Reset for next window
	c.windowStartTick = currentTick
	c.ticks = 0
	c.transfers = 0
	c.massMoved = 0
	c.transitions = 0
	c.maxForce = 0
	c.parallel = 0
	c.moved = c.moved[:0]

	return stats
}

// WindowTicks returns the number of ticks per window.
func (c *Collector) WindowTicks() uint64 {
	return c.windowTicks
}

// drift is the change of v relative to base.
func drift(v, base float64) float64 {
	if base == 0 {
		return v
	}
	return (v - base) / base
}
