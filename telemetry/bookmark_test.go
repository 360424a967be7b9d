package telemetry

import (
	"testing"
)

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_PressureSpike(t *testing.T) {
	bd := NewBookmarkDetector(10)

	// Add some history with steady pressure
	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{
			WindowEndTick: uint64(i * 10),
			MaxPressure:   100,
			TotalMass:     50,
			MassMoved:     1,
		})
	}

	bookmarks := bd.Check(WindowStats{
		WindowEndTick: 50,
		MaxPressure:   350, // 3.5x the average
		TotalMass:     50,
		MassMoved:     1,
	})
	if !hasBookmark(bookmarks, BookmarkPressureSpike) {
		t.Error("expected pressure_spike bookmark")
	}
}

func TestBookmarkDetector_PhaseShift(t *testing.T) {
	bd := NewBookmarkDetector(10)

	for i := 0; i < 4; i++ {
		bd.Check(WindowStats{WindowEndTick: uint64(i * 10), Transitions: 3})
	}

	bookmarks := bd.Check(WindowStats{WindowEndTick: 40, Transitions: 12})
	if !hasBookmark(bookmarks, BookmarkPhaseShift) {
		t.Error("expected phase_shift bookmark")
	}

	// small absolute counts never trigger
	bookmarks = bd.Check(WindowStats{WindowEndTick: 50, Transitions: 0})
	bookmarks = append(bookmarks, bd.Check(WindowStats{WindowEndTick: 60, Transitions: 9})...)
	if hasBookmark(bookmarks, BookmarkPhaseShift) {
		t.Error("unexpected phase_shift for fewer than 10 changes")
	}
}

func TestBookmarkDetector_ConservationDriftReportedOnce(t *testing.T) {
	bd := NewBookmarkDetector(10)

	if b := bd.Check(WindowStats{MassDrift: 1e-9}); hasBookmark(b, BookmarkConservationDrift) {
		t.Error("drift within tolerance triggered a bookmark")
	}
	if b := bd.Check(WindowStats{HeatDrift: -1e-3}); !hasBookmark(b, BookmarkConservationDrift) {
		t.Error("expected conservation_drift bookmark")
	}
	if b := bd.Check(WindowStats{HeatDrift: -2e-3}); hasBookmark(b, BookmarkConservationDrift) {
		t.Error("ongoing drift reported twice")
	}
	bd.Check(WindowStats{})
	if b := bd.Check(WindowStats{MassDrift: 1e-3}); !hasBookmark(b, BookmarkConservationDrift) {
		t.Error("drift after recovery should be reported again")
	}
}

func TestBookmarkDetector_Equilibrium(t *testing.T) {
	bd := NewBookmarkDetector(10)

	var fired int
	for i := 0; i < 10; i++ {
		bookmarks := bd.Check(WindowStats{
			WindowEndTick: uint64(i * 10),
			TotalMass:     100,
			Gas:           4,
		})
		if hasBookmark(bookmarks, BookmarkEquilibrium) {
			fired++
			if i != 4 {
				t.Errorf("equilibrium fired at window %d, want 4", i)
			}
		}
	}
	if fired != 1 {
		t.Errorf("equilibrium fired %d times, want 1", fired)
	}
}
