// Package space composes the cell pool and the spatial index into a queryable,
// tickable world of cells.
//
// The pool gives every cell its own lock. The space adds one structure lock
// over the pool's key set and the index together: Add and Remove hold it for
// writing, position queries hold it for reading, so no caller ever sees a
// cell in one structure but not the other.
package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/pthm-cable/cellspace/cell"
	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/material"
	"github.com/pthm-cable/cellspace/pool"
	"github.com/pthm-cable/cellspace/spatial"
)

// ErrNotFound is returned when an operation names a cell that is not in the space.
var ErrNotFound = errors.New("cell not found")

// ErrForeignCell is returned by Add for a cell not built against the space's
// registry, including the zero Cell.
var ErrForeignCell = errors.New("cell not built from this space's registry")

// Handle is the lockable reference to a pooled cell.
type Handle = pool.Handle[cell.Cell]

// Defaults used when no option overrides them.
const (
	DefaultParallelThreshold = 64
	DefaultFlowRate          = 0.1
)

// Space owns a set of cells addressed by ID and by position.
//
// Cells must not be moved through a Handle: the index keys them by the
// position they were added at.
type Space struct {
	reg *material.Registry
	log *slog.Logger

	lock  *pool.RWLock // guards cells' key set and index together
	cells *pool.Pool[cell.ID, cell.Cell]
	index *spatial.Index[cell.ID]
	ids   *IDAllocator

	lockTimeout       time.Duration
	workers           int
	parallelThreshold int
	flowRate          float64

	tickMu sync.Mutex
	ticks  uint64
	flow   *flowState
}

// Option configures a Space.
type Option func(*Space)

// WithAllocator makes the space draw IDs from a.
func WithAllocator(a *IDAllocator) Option {
	return func(s *Space) { s.ids = a }
}

// WithLockTimeout bounds how long any operation waits for a lock. Zero means
// wait for as long as the caller's context allows.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Space) { s.lockTimeout = d }
}

// WithWorkers sets the number of tick workers.
func WithWorkers(n int) Option {
	return func(s *Space) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithParallelThreshold sets the cell count below which Tick runs on the
// calling goroutine.
func WithParallelThreshold(n int) Option {
	return func(s *Space) { s.parallelThreshold = n }
}

// WithFlowRate sets the fraction of a gas cell's mass that may move per tick.
// It is clamped to [0, 1].
func WithFlowRate(k float64) Option {
	return func(s *Space) { s.flowRate = min(max(k, 0), 1) }
}

// WithLogger sets the logger for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Space) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns an empty space over the given material registry.
func New(reg *material.Registry, opts ...Option) *Space {
	s := &Space{
		reg:               reg,
		log:               slog.Default(),
		lock:              pool.NewRWLock(),
		cells:             pool.New[cell.ID, cell.Cell](),
		index:             spatial.New[cell.ID](),
		ids:               NewIDAllocator(0),
		workers:           runtime.GOMAXPROCS(0),
		parallelThreshold: DefaultParallelThreshold,
		flowRate:          DefaultFlowRate,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.flow = newFlowState(s.workers)
	return s
}

// Close stops the tick workers. The space stays usable; the next parallel
// tick starts them again.
func (s *Space) Close() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.flow.stopWorkers()
}

// Registry returns the material registry cells are built from.
func (s *Space) Registry() *material.Registry { return s.reg }

// Allocator returns the ID allocator.
func (s *Space) Allocator() *IDAllocator { return s.ids }

// SetFlowRate changes the flow rate from the next tick on. It is clamped to
// [0, 1] like WithFlowRate.
func (s *Space) SetFlowRate(k float64) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.flowRate = min(max(k, 0), 1)
}

// FlowRate returns the flow rate used by Tick.
func (s *Space) FlowRate() float64 {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.flowRate
}

// Ticks returns the number of completed ticks.
func (s *Space) Ticks() uint64 {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.ticks
}

// NewCell builds a cell bound to this space's registry. It is not added.
func (s *Space) NewCell(pos geom.Position, name string, mass, temperature float64) (cell.Cell, error) {
	return cell.New(s.reg, pos, name, mass, temperature)
}

// Add assigns c a fresh ID and inserts it. It fails with spatial.ErrOccupied
// if another cell already sits at c.Pos.
func (s *Space) Add(ctx context.Context, c cell.Cell) (cell.ID, error) {
	if c.Registry() != s.reg {
		return 0, fmt.Errorf("add at %v: %w", c.Pos, ErrForeignCell)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.lock.Lock(ctx); err != nil {
		return 0, fmt.Errorf("add: %w", err)
	}
	defer s.lock.Unlock()

	id := s.ids.Next()
	if err := s.index.Insert(c.Pos, id); err != nil {
		return 0, fmt.Errorf("add at %v: %w", c.Pos, err)
	}
	c.ID = id
	if _, err := s.cells.Insert(ctx, id, c); err != nil {
		s.index.Remove(id)
		return 0, fmt.Errorf("add: %w", err)
	}
	return id, nil
}

// Remove takes the cell out of the space and returns its handle. Goroutines
// already holding the handle may keep using it.
func (s *Space) Remove(ctx context.Context, id cell.ID) (*Handle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.lock.Lock(ctx); err != nil {
		return nil, fmt.Errorf("remove: %w", err)
	}
	defer s.lock.Unlock()

	h, err := s.cells.Remove(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("remove: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("remove %d: %w", id, ErrNotFound)
	}
	s.index.Remove(id)
	return h, nil
}

// Len returns the number of cells.
func (s *Space) Len(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.cells.Len(ctx)
}

// IDs returns every cell ID in ascending order.
func (s *Space) IDs(ctx context.Context) ([]cell.ID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.cells.Keys(ctx)
}

func (s *Space) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.lockTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.lockTimeout)
}

// readIndex runs fn with the structure lock held for reading.
func (s *Space) readIndex(ctx context.Context, fn func(idx *spatial.Index[cell.ID])) error {
	if err := s.lock.RLock(ctx); err != nil {
		return err
	}
	defer s.lock.RUnlock()
	fn(s.index)
	return nil
}
