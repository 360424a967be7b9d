package space

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/cellspace/cell"
	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/material"
)

// ErrTickConflict is returned when concurrent writers keep changing the cells a
// tick is about to update, so no attempt could be applied.
var ErrTickConflict = errors.New("tick kept conflicting with concurrent writes")

// errStaleSnapshot marks an apply phase that found a cell changed since the
// snapshot it was computed from.
var errStaleSnapshot = errors.New("cell changed since snapshot")

// maxTickAttempts bounds how often Tick recomputes after a stale snapshot.
const maxTickAttempts = 4

// TickReport summarises one tick.
type TickReport struct {
	Tick        uint64
	Cells       int
	GasCells    int
	Transfers   int
	MassMoved   float64
	MaxForce    float64
	Transitions int // cells whose material changed, void fills and drains included
	Parallel    bool

	Snapshot time.Duration
	Compute  time.Duration
	Apply    time.Duration
}

// cellSnapshot captures read-only state for the compute phase.
type cellSnapshot struct {
	id       cell.ID
	pos      geom.Position
	handle   *Handle
	material *material.Material
	mass     float64
	tempK    float64
	pressure float64
	gas      bool
	void     bool
}

// matches reports whether c still holds the state the snapshot was taken from.
func (cs *cellSnapshot) matches(c *cell.Cell) bool {
	tempK := c.Temperature() + material.KelvinShift
	sameTemp := tempK == cs.tempK || (math.IsNaN(tempK) && math.IsNaN(cs.tempK))
	return c.Material() == cs.material && c.Mass() == cs.mass && sameTemp
}

// transfer is mass leaving a cell towards the snapshot at index to.
type transfer struct {
	to   int
	mass float64
}

// intent captures computed outputs to apply after the parallel phase.
type intent struct {
	neighbours [geom.NumDirections]int // snapshot index, -1 if unoccupied
	sends      [geom.NumDirections]transfer
	numSends   int
	force      r2.Vec
}

// delta is the net exchange for one cell, accumulated in the apply phase.
type delta struct {
	out, in, heat float64
	from          *material.Material
}

type flowPass uint8

const (
	// passClaims resolves neighbours and decides which gas may flow into
	// each void cell.
	passClaims flowPass = iota
	// passFlow computes transfers and forces for every gas cell.
	passFlow
)

// workChunk represents a range of snapshots for a worker to process.
type workChunk struct {
	start, end int
	pass       flowPass
}

// flowState holds the buffers and worker pool for tick computation.
type flowState struct {
	rate      float64
	snapshots []cellSnapshot
	intents   []intent
	claims    []*material.Material
	deltas    []delta
	byPos     map[geom.Position]int

	numWorkers int

	// Worker pool channels
	workChan chan workChunk
	doneChan chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func newFlowState(numWorkers int) *flowState {
	return &flowState{
		numWorkers: max(numWorkers, 1),
		snapshots:  make([]cellSnapshot, 0, 512),
		intents:    make([]intent, 0, 512),
		claims:     make([]*material.Material, 0, 512),
		deltas:     make([]delta, 0, 512),
		byPos:      make(map[geom.Position]int, 512),
	}
}

// startWorkers launches persistent worker goroutines.
func (p *flowState) startWorkers() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *flowState) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *flowState) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			p.computeChunk(chunk)
			p.doneChan <- struct{}{}
		}
	}
}

// Tick advances the gas flow by one step.
//
// Each gas cell sends mass to same-material gas neighbours at lower pressure
// and to void neighbours it has claimed, in proportion to the flow rate, the
// direction weight and the pressure difference. Moved mass carries its
// donor's temperature. All transfers are computed against one snapshot and
// applied together, so total mass and total m·T (Kelvin) are conserved and
// the result does not depend on worker scheduling.
//
// Cells added while a tick runs join the next one. A cell removed mid-tick
// only sees the apply phase through its detached handle. If any cell cannot
// be locked for the apply phase, nothing is applied. If a cell the tick
// would update was written to after the snapshot, the tick is recomputed
// from a fresh snapshot; ErrTickConflict means that kept happening.
func (s *Space) Tick(ctx context.Context) (TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	lctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p := s.flow
	p.rate = s.flowRate

	var snapTime, computeTime, applyTime time.Duration
	for attempt := 1; ; attempt++ {
		report := TickReport{Tick: s.ticks + 1}

		// Phase A: build snapshots (single-threaded)
		t0 := time.Now()
		if err := s.snapshot(lctx); err != nil {
			return TickReport{}, fmt.Errorf("tick snapshot: %w", err)
		}
		n := len(p.snapshots)
		report.Cells = n
		snapTime += time.Since(t0)

		// Phase B: compute - choose single or parallel based on cell count
		t0 = time.Now()
		if n > 0 {
			if n < s.parallelThreshold || p.numWorkers == 1 {
				p.computeChunk(workChunk{start: 0, end: n, pass: passClaims})
				p.computeChunk(workChunk{start: 0, end: n, pass: passFlow})
			} else {
				report.Parallel = true
				p.computeParallel(n, passClaims)
				p.computeParallel(n, passFlow)
			}
		}
		computeTime += time.Since(t0)

		// Phase C: apply (single-threaded, ascending ID order)
		t0 = time.Now()
		err := p.apply(lctx, &report)
		applyTime += time.Since(t0)
		if errors.Is(err, errStaleSnapshot) {
			if attempt < maxTickAttempts {
				s.log.Debug("tick recomputed", "tick", report.Tick, "attempt", attempt, "err", err)
				continue
			}
			err = fmt.Errorf("%w after %d attempts: %w", ErrTickConflict, attempt, err)
		}
		if err != nil {
			s.log.Warn("tick not applied", "tick", report.Tick, "err", err)
			return TickReport{}, fmt.Errorf("tick apply: %w", err)
		}

		report.Snapshot, report.Compute, report.Apply = snapTime, computeTime, applyTime
		s.ticks++
		return report, nil
	}
}

// snapshot copies every cell's state in ascending ID order.
func (s *Space) snapshot(ctx context.Context) error {
	p := s.flow
	p.snapshots = p.snapshots[:0]
	clear(p.byPos)

	var readErr error
	err := s.cells.Range(ctx, func(id cell.ID, h *Handle) bool {
		readErr = h.Read(ctx, func(c *cell.Cell) {
			pressure, gas := c.Pressure()
			p.byPos[c.Pos] = len(p.snapshots)
			p.snapshots = append(p.snapshots, cellSnapshot{
				id:       id,
				pos:      c.Pos,
				handle:   h,
				material: c.Material(),
				mass:     c.Mass(),
				tempK:    c.Temperature() + material.KelvinShift,
				pressure: pressure,
				gas:      gas,
				void:     c.IsVoid(),
			})
		})
		return readErr == nil
	})
	if err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}

	n := len(p.snapshots)
	if cap(p.intents) < n || cap(p.claims) < n || cap(p.deltas) < n {
		p.intents = make([]intent, n)
		p.claims = make([]*material.Material, n)
		p.deltas = make([]delta, n)
	}
	p.intents = p.intents[:n]
	p.claims = p.claims[:n]
	p.deltas = p.deltas[:n]
	return nil
}

// computeParallel dispatches one pass to the worker pool and waits for it.
func (p *flowState) computeParallel(n int, pass flowPass) {
	p.startWorkers()

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- workChunk{start: start, end: end, pass: pass}
		chunksDispatched++
	}

	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}
}

// computeChunk runs one pass over a range of snapshots. Each index is
// written by exactly one worker.
func (p *flowState) computeChunk(chunk workChunk) {
	for i := chunk.start; i < chunk.end; i++ {
		switch chunk.pass {
		case passClaims:
			p.resolve(i)
		case passFlow:
			p.flow(i)
		}
	}
}

// resolve fills in the neighbour table of snapshot i and, for void cells,
// picks the material allowed to flow in: that of the highest-pressure gas
// neighbour, lowest ID on ties.
func (p *flowState) resolve(i int) {
	in := &p.intents[i]
	*in = intent{}
	p.claims[i] = nil

	pos := p.snapshots[i].pos
	best := -1
	for d, nb := range pos.Neighbours() {
		j, ok := p.byPos[nb.Pos]
		if !ok {
			in.neighbours[d] = -1
			continue
		}
		in.neighbours[d] = j

		b := &p.snapshots[j]
		if !b.gas {
			continue
		}
		if best < 0 || b.pressure > p.snapshots[best].pressure ||
			(b.pressure == p.snapshots[best].pressure && b.id < p.snapshots[best].id) {
			best = j
		}
	}
	if p.snapshots[i].void && best >= 0 {
		p.claims[i] = p.snapshots[best].material
	}
}

// flow computes the outgoing transfers and the gas force of snapshot i.
func (p *flowState) flow(i int) {
	a := &p.snapshots[i]
	in := &p.intents[i]
	if !a.gas {
		return
	}
	in.force = gasForce(&in.neighbours, p.snapshots)

	if p.rate == 0 || a.mass == 0 {
		return
	}
	base := p.rate * a.mass / geom.TotalWeight
	for d, j := range in.neighbours {
		if j < 0 {
			continue
		}
		b := &p.snapshots[j]
		w := geom.Direction(d).Weight()

		var dm float64
		switch {
		case b.gas && b.material == a.material && b.pressure < a.pressure:
			dm = base * w * (a.pressure - b.pressure) / (a.pressure + b.pressure)
		case b.void && p.claims[j] == a.material:
			dm = base * w
		}
		if dm > 0 {
			in.sends[in.numSends] = transfer{to: j, mass: dm}
			in.numSends++
		}
	}
}

// apply nets the transfers per cell, locks every touched cell in ID order and
// then writes all of them. On a lock failure, or when a locked cell no longer
// matches its snapshot, every lock taken so far is released and nothing
// changes.
func (p *flowState) apply(ctx context.Context, report *TickReport) error {
	clear(p.deltas)
	for i := range p.snapshots {
		a := &p.snapshots[i]
		in := &p.intents[i]
		if a.gas {
			report.GasCells++
			report.MaxForce = max(report.MaxForce, r2.Norm(in.force))
		}
		for _, t := range in.sends[:in.numSends] {
			p.deltas[i].out += t.mass
			to := &p.deltas[t.to]
			to.in += t.mass
			to.heat += t.mass * a.tempK
			if to.from == nil {
				to.from = a.material
			}
			report.Transfers++
			report.MassMoved += t.mass
		}
	}

	type held struct {
		idx     int
		cell    *cell.Cell
		release func()
	}
	var locked []held
	defer func() {
		for _, h := range locked {
			h.release()
		}
	}()
	for i := range p.snapshots {
		d := &p.deltas[i]
		if d.out == 0 && d.in == 0 {
			continue
		}
		c, release, err := p.snapshots[i].handle.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("cell %d: %w", p.snapshots[i].id, err)
		}
		locked = append(locked, held{idx: i, cell: c, release: release})
	}
	for _, h := range locked {
		if snap := &p.snapshots[h.idx]; !snap.matches(h.cell) {
			return fmt.Errorf("cell %d: %w", snap.id, errStaleSnapshot)
		}
	}

	for _, h := range locked {
		d := &p.deltas[h.idx]
		before := h.cell.Material()
		h.cell.Exchange(d.out, d.in, d.heat, d.from)
		if h.cell.Material() != before {
			report.Transitions++
		}
	}
	return nil
}
