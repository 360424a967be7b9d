package main

import (
	"github.com/pthm-cable/cellspace/config"
)

// knob is one config value the calibration may move.
type knob struct {
	name   string
	lo, hi float64
	get    func(*config.Config) float64
	set    func(*config.Config, float64)
}

// knobs is the calibration search space. CMA-ES works in the unit cube;
// encode and decode map between that cube and config values.
type knobs []knob

// calibrationKnobs are the values that decide how fast a generated scene
// settles: the flow rate and the two scene noise amplitudes that set how far
// from equilibrium it starts.
func calibrationKnobs() knobs {
	return knobs{
		{
			name: "flow_rate", lo: 0.01, hi: 1,
			get: func(c *config.Config) float64 { return c.Flow.Rate },
			set: func(c *config.Config, v float64) { c.Flow.Rate = v },
		},
		{
			name: "roughness", lo: 0, hi: 8,
			get: func(c *config.Config) float64 { return c.Scene.Roughness },
			set: func(c *config.Config, v float64) { c.Scene.Roughness = v },
		},
		{
			name: "jitter", lo: 0, hi: 60,
			get: func(c *config.Config) float64 { return c.Scene.Jitter },
			set: func(c *config.Config, v float64) { c.Scene.Jitter = v },
		},
	}
}

func (ks knobs) names() []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.name
	}
	return out
}

// encode places cfg's current values in the unit cube, so the search
// starts from the base config.
func (ks knobs) encode(cfg *config.Config) []float64 {
	x := make([]float64, len(ks))
	for i, k := range ks {
		x[i] = (k.clamp(k.get(cfg)) - k.lo) / (k.hi - k.lo)
	}
	return x
}

// decode maps a search point back to config values. CMA-ES may step outside
// the cube, so every value is clamped to its bounds.
func (ks knobs) decode(x []float64) []float64 {
	vals := make([]float64, len(ks))
	for i, k := range ks {
		vals[i] = k.clamp(k.lo + x[i]*(k.hi-k.lo))
	}
	return vals
}

// apply writes decoded values into cfg, in knob order.
func (ks knobs) apply(cfg *config.Config, vals []float64) {
	for i, k := range ks {
		k.set(cfg, k.clamp(vals[i]))
	}
}

func (k knob) clamp(v float64) float64 {
	return min(max(v, k.lo), k.hi)
}
