package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthm-cable/cellspace/space"
)

// Metrics exports tick results as Prometheus collectors.
type Metrics struct {
	ticks        prometheus.Counter
	tickDuration *prometheus.HistogramVec
	transfers    prometheus.Counter
	massMoved    prometheus.Counter
	transitions  prometheus.Counter
	maxForce     prometheus.Gauge
	cells        *prometheus.GaugeVec
	totalMass    prometheus.Gauge
	totalHeat    prometheus.Gauge
	maxPressure  prometheus.Gauge
	bookmarks    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cellspace",
			Subsystem: "tick",
			Name:      "total",
			Help:      "Completed ticks",
		}),
		// Labels: phase (snapshot, compute, apply)
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cellspace",
			Subsystem: "tick",
			Name:      "phase_seconds",
			Help:      "Tick phase duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"phase"}),
		transfers: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cellspace",
			Subsystem: "flow",
			Name:      "transfers_total",
			Help:      "Gas transfers between neighbouring cells",
		}),
		massMoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cellspace",
			Subsystem: "flow",
			Name:      "mass_moved_total",
			Help:      "Mass moved by gas flow",
		}),
		transitions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cellspace",
			Subsystem: "flow",
			Name:      "material_changes_total",
			Help:      "Cells whose material changed during a tick",
		}),
		maxForce: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cellspace",
			Subsystem: "flow",
			Name:      "max_force",
			Help:      "Largest gas force magnitude in the last tick",
		}),
		// Labels: phase (gas, liquid, solid, void)
		cells: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cellspace",
			Subsystem: "census",
			Name:      "cells",
			Help:      "Cells by phase at the last census",
		}, []string{"phase"}),
		totalMass: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cellspace",
			Subsystem: "census",
			Name:      "mass",
			Help:      "Total mass at the last census",
		}),
		totalHeat: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cellspace",
			Subsystem: "census",
			Name:      "heat",
			Help:      "Total mass times absolute temperature at the last census",
		}),
		maxPressure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cellspace",
			Subsystem: "census",
			Name:      "max_pressure",
			Help:      "Highest gas pressure at the last census",
		}),
		// Labels: type (bookmark type)
		bookmarks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cellspace",
			Subsystem: "telemetry",
			Name:      "bookmarks_total",
			Help:      "Bookmarks raised by type",
		}, []string{"type"}),
	}
}

// ObserveTick records one tick report.
func (m *Metrics) ObserveTick(r space.TickReport) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.WithLabelValues(PhaseSnapshot).Observe(r.Snapshot.Seconds())
	m.tickDuration.WithLabelValues(PhaseCompute).Observe(r.Compute.Seconds())
	m.tickDuration.WithLabelValues(PhaseApply).Observe(r.Apply.Seconds())
	m.transfers.Add(float64(r.Transfers))
	m.massMoved.Add(r.MassMoved)
	m.transitions.Add(float64(r.Transitions))
	m.maxForce.Set(r.MaxForce)
}

// ObserveCensus records the state of the space.
func (m *Metrics) ObserveCensus(c space.Census) {
	if m == nil {
		return
	}
	m.cells.WithLabelValues("gas").Set(float64(c.Gas))
	m.cells.WithLabelValues("liquid").Set(float64(c.Liquid))
	m.cells.WithLabelValues("solid").Set(float64(c.Solid))
	m.cells.WithLabelValues("void").Set(float64(c.Void))
	m.totalMass.Set(c.Mass)
	m.totalHeat.Set(c.Heat)
	m.maxPressure.Set(c.MaxPressure)
}

// ObserveBookmark counts a raised bookmark.
func (m *Metrics) ObserveBookmark(b Bookmark) {
	if m == nil {
		return
	}
	m.bookmarks.WithLabelValues(string(b.Type)).Inc()
}
