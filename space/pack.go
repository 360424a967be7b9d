package space

import (
	"context"
	"errors"
	"fmt"

	"github.com/pthm-cable/cellspace/cell"
	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/material"
	"github.com/pthm-cable/cellspace/pool"
	"github.com/pthm-cable/cellspace/spatial"
)

// PackVersion is the current packed format version.
const PackVersion = 1

// ErrCorruptPack is returned when a packed space is inconsistent.
var ErrCorruptPack = errors.New("corrupt packed space")

// IndexEntry is one position-index record in a packed space.
type IndexEntry struct {
	ID cell.ID `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Packed is the flat, serialisable form of a space.
type Packed struct {
	Version int          `json:"version"`
	Cells   []cell.State `json:"cells"`
	Index   []IndexEntry `json:"index"`
	NextID  cell.ID      `json:"next_id"`
}

// Pack captures the whole space. It holds the structure lock for reading, so
// no cell is added or removed while packing.
func (s *Space) Pack(ctx context.Context) (*Packed, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.lock.RLock(ctx); err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	defer s.lock.RUnlock()

	entries, err := s.cells.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}

	p := &Packed{
		Version: PackVersion,
		Cells:   make([]cell.State, 0, len(entries)),
		Index:   make([]IndexEntry, 0, len(entries)),
		NextID:  s.ids.Peek(),
	}
	for _, e := range entries {
		p.Cells = append(p.Cells, e.Value.State())
	}
	s.index.Each(func(id cell.ID, pos geom.Position) {
		p.Index = append(p.Index, IndexEntry{ID: id, X: pos.X, Y: pos.Y})
	})

	s.log.Debug("space packed", "cells", len(p.Cells), "next_id", p.NextID)
	return p, nil
}

// Unpack rebuilds a space from its packed form. The index must list every
// cell exactly once at the cell's own position. The allocator is seeded past
// both the recorded next ID and the highest cell ID.
func Unpack(reg *material.Registry, p *Packed, opts ...Option) (*Space, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil", ErrCorruptPack)
	}
	if p.Version != PackVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrCorruptPack, p.Version, PackVersion)
	}

	entries := make([]pool.Entry[cell.ID, cell.Cell], 0, len(p.Cells))
	cellPos := make(map[cell.ID]geom.Position, len(p.Cells))
	next := p.NextID
	for _, st := range p.Cells {
		if _, dup := cellPos[st.ID]; dup {
			return nil, fmt.Errorf("%w: cell %d listed twice", ErrCorruptPack, st.ID)
		}
		c, err := cell.FromState(reg, st)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptPack, err)
		}
		cellPos[c.ID] = c.Pos
		entries = append(entries, pool.Entry[cell.ID, cell.Cell]{Key: c.ID, Value: c})
		next = max(next, c.ID+1)
	}

	if len(p.Index) != len(cellPos) {
		return nil, fmt.Errorf("%w: %d index entries for %d cells", ErrCorruptPack, len(p.Index), len(cellPos))
	}
	indexed := make(map[cell.ID]geom.Position, len(p.Index))
	for _, e := range p.Index {
		want, ok := cellPos[e.ID]
		if !ok {
			return nil, fmt.Errorf("%w: index names unknown cell %d", ErrCorruptPack, e.ID)
		}
		if _, dup := indexed[e.ID]; dup {
			return nil, fmt.Errorf("%w: cell %d indexed twice", ErrCorruptPack, e.ID)
		}
		pos := geom.Pos(e.X, e.Y).Canonical()
		if pos != want {
			return nil, fmt.Errorf("%w: cell %d indexed at %v but located at %v", ErrCorruptPack, e.ID, pos, want)
		}
		indexed[e.ID] = pos
	}
	index, err := spatial.Build(indexed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPack, err)
	}

	s := New(reg, opts...)
	s.cells = pool.FromEntries(entries)
	s.index = index
	s.ids.Seed(next)

	s.log.Debug("space unpacked", "cells", len(entries), "next_id", s.ids.Peek())
	return s, nil
}
