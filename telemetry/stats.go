package telemetry

import (
	"log/slog"
	"sort"
)

// WindowStats holds aggregated statistics for a window of ticks.
type WindowStats struct {
	WindowStartTick uint64 `csv:"-"`
	WindowEndTick   uint64 `csv:"window_end"`
	Ticks           int    `csv:"ticks"`

	// Census at window end
	Cells       int     `csv:"cells"`
	Gas         int     `csv:"gas"`
	Liquid      int     `csv:"liquid"`
	Solid       int     `csv:"solid"`
	Void        int     `csv:"void"`
	TotalMass   float64 `csv:"total_mass"`
	TotalHeat   float64 `csv:"total_heat"`
	MaxPressure float64 `csv:"max_pressure"`

	// Conservation, relative to the baseline census
	MassDrift float64 `csv:"mass_drift"`
	HeatDrift float64 `csv:"heat_drift"`

	// Flow during window
	Transfers     int     `csv:"transfers"`
	MassMoved     float64 `csv:"mass_moved"`
	Transitions   int     `csv:"transitions"`
	MaxForce      float64 `csv:"max_force"`
	ParallelTicks int     `csv:"parallel_ticks"`

	// Per-tick mass moved distribution
	MovedMean float64 `csv:"moved_mean"`
	MovedP10  float64 `csv:"moved_p10"`
	MovedP50  float64 `csv:"moved_p50"`
	MovedP90  float64 `csv:"moved_p90"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDistribution calculates mean and percentiles of values.
func ComputeDistribution(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("window_start", s.WindowStartTick),
		slog.Uint64("window_end", s.WindowEndTick),
		slog.Int("cells", s.Cells),
		slog.Int("gas", s.Gas),
		slog.Int("liquid", s.Liquid),
		slog.Int("solid", s.Solid),
		slog.Int("void", s.Void),
		slog.Float64("total_mass", s.TotalMass),
		slog.Float64("total_heat", s.TotalHeat),
		slog.Float64("max_pressure", s.MaxPressure),
		slog.Float64("mass_drift", s.MassDrift),
		slog.Float64("heat_drift", s.HeatDrift),
		slog.Int("transfers", s.Transfers),
		slog.Float64("mass_moved", s.MassMoved),
		slog.Int("transitions", s.Transitions),
		slog.Float64("max_force", s.MaxForce),
		slog.Float64("moved_p50", s.MovedP50),
	)
}

// LogStats logs the window stats.
func (s WindowStats) LogStats(log *slog.Logger) {
	log.Info("stats", "window", s)
}
