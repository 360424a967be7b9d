package telemetry

import (
	"fmt"
	"log/slog"
	"math"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkConservationDrift BookmarkType = "conservation_drift"
	BookmarkPressureSpike     BookmarkType = "pressure_spike"
	BookmarkPhaseShift        BookmarkType = "phase_shift"
	BookmarkEquilibrium       BookmarkType = "equilibrium"
)

// DriftTolerance is the relative mass or heat drift that triggers a bookmark.
const DriftTolerance = 1e-6

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Tick        uint64       `csv:"tick"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark.
func (b Bookmark) LogBookmark(log *slog.Logger) {
	log.Info("bookmark",
		"type", string(b.Type),
		"tick", b.Tick,
		"description", b.Description,
	)
}

// BookmarkDetector detects notable moments in the simulation.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	drifting   bool // drift already reported
	quietCount int  // consecutive windows without flow
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5 // minimum for equilibrium detection
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	// Conservation drift: reported once, re-armed when drift recovers
	if b := bd.checkDrift(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	if bd.historyFull || bd.historyIdx > 0 {
		// Pressure spike: max pressure > 2x rolling average
		if b := bd.checkPressureSpike(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Phase shift: transitions > 2x rolling average
		if b := bd.checkPhaseShift(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	// Equilibrium: no mass moved over 5 windows
	if b := bd.checkEquilibrium(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkDrift(stats WindowStats) *Bookmark {
	worst := max(math.Abs(stats.MassDrift), math.Abs(stats.HeatDrift))
	if worst <= DriftTolerance {
		bd.drifting = false
		return nil
	}
	if bd.drifting {
		return nil
	}
	bd.drifting = true
	return &Bookmark{
		Type:        BookmarkConservationDrift,
		Tick:        stats.WindowEndTick,
		Description: fmt.Sprintf("Mass drift %.3g, heat drift %.3g exceed %.0e", stats.MassDrift, stats.HeatDrift, DriftTolerance),
	}
}

func (bd *BookmarkDetector) checkPressureSpike(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.MaxPressure
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if stats.MaxPressure > avg*2.0 {
		return &Bookmark{
			Type:        BookmarkPressureSpike,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Max pressure %.1f is %.1fx average (%.1f)", stats.MaxPressure, stats.MaxPressure/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkPhaseShift(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total int
	for _, h := range history {
		total += h.Transitions
	}
	avg := float64(total) / float64(len(history))

	if float64(stats.Transitions) > avg*2.0 && stats.Transitions >= 10 {
		return &Bookmark{
			Type:        BookmarkPhaseShift,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%d material changes vs average %.1f", stats.Transitions, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkEquilibrium(stats WindowStats) *Bookmark {
	if stats.TotalMass == 0 || stats.MassMoved > stats.TotalMass*1e-9 {
		bd.quietCount = 0
		return nil
	}

	bd.quietCount++
	if bd.quietCount == 5 { // trigger exactly once at 5 windows
		return &Bookmark{
			Type:        BookmarkEquilibrium,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("No gas flow over 5 windows with %d gas cells", stats.Gas),
		}
	}
	return nil
}
