package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pthm-cable/cellspace/space"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTick(space.TickReport{Transfers: 3, MassMoved: 1.5, Transitions: 2, MaxForce: 7, Compute: time.Millisecond})
	m.ObserveTick(space.TickReport{Transfers: 1, MassMoved: 0.5})
	m.ObserveCensus(space.Census{Gas: 4, Solid: 2, Mass: 12, Heat: 3000, MaxPressure: 9})
	m.ObserveBookmark(Bookmark{Type: BookmarkEquilibrium})

	if got := testutil.ToFloat64(m.ticks); got != 2 {
		t.Errorf("ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.transfers); got != 4 {
		t.Errorf("transfers = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.massMoved); got != 2 {
		t.Errorf("mass moved = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.maxForce); got != 0 {
		t.Errorf("max force = %v, want last tick's 0", got)
	}
	if got := testutil.ToFloat64(m.cells.WithLabelValues("gas")); got != 4 {
		t.Errorf("gas cells = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.bookmarks.WithLabelValues(string(BookmarkEquilibrium))); got != 1 {
		t.Errorf("bookmarks = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.tickDuration); n != 3 {
		t.Errorf("phase histograms = %d, want 3", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTick(space.TickReport{})
	m.ObserveCensus(space.Census{})
	m.ObserveBookmark(Bookmark{})
}
