package space

import (
	"context"
	"iter"
	"math"
	"sync/atomic"

	"github.com/pthm-cable/cellspace/cell"
	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/spatial"
)

// Neighbour is one result of a proximity query.
type Neighbour struct {
	ID     cell.ID
	Pos    geom.Position
	DistSq float64
	Handle *Handle
}

// Distance returns the Euclidean distance from the query point.
func (n Neighbour) Distance() float64 { return math.Sqrt(n.DistSq) }

// GetByID returns the handle for id, or nil if there is no such cell.
func (s *Space) GetByID(ctx context.Context, id cell.ID) (*Handle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.cells.Get(ctx, id)
}

// GetByPosition returns the cell at exactly pos, or nil.
func (s *Space) GetByPosition(ctx context.Context, pos geom.Position) (*Handle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		id    cell.ID
		found bool
	)
	if err := s.readIndex(ctx, func(idx *spatial.Index[cell.ID]) {
		id, found = idx.Lookup(pos)
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return s.cells.Get(ctx, id)
}

// GetNearestByPosition returns the cell closest to pos. Equidistant cells
// resolve to the lowest ID. The result is nil only for an empty space.
func (s *Space) GetNearestByPosition(ctx context.Context, pos geom.Position) (*Handle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		hit   spatial.Hit[cell.ID]
		found bool
	)
	if err := s.readIndex(ctx, func(idx *spatial.Index[cell.ID]) {
		hit, found = idx.Nearest(pos)
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return s.cells.Get(ctx, hit.Key)
}

// GetNearestByID returns the cell nearest to the position of id, which is
// normally the cell itself. It returns nil if id is unknown.
func (s *Space) GetNearestByID(ctx context.Context, id cell.ID) (*Handle, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		hit   spatial.Hit[cell.ID]
		found bool
	)
	if err := s.readIndex(ctx, func(idx *spatial.Index[cell.ID]) {
		pos, ok := idx.Position(id)
		if !ok {
			return
		}
		hit, found = idx.Nearest(pos)
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return s.cells.Get(ctx, hit.Key)
}

// IterNearPosition yields every cell ordered by distance from pos, then ID.
func (s *Space) IterNearPosition(ctx context.Context, pos geom.Position) iter.Seq2[Neighbour, error] {
	return s.iterHits(ctx, func(idx *spatial.Index[cell.ID]) []spatial.Hit[cell.ID] {
		return idx.Sorted(pos)
	})
}

// IterWithinRange yields every cell whose squared distance from pos is at
// most radius², ordered by distance then ID.
func (s *Space) IterWithinRange(ctx context.Context, pos geom.Position, radius float64) iter.Seq2[Neighbour, error] {
	return s.iterHits(ctx, func(idx *spatial.Index[cell.ID]) []spatial.Hit[cell.ID] {
		return idx.Within(pos, radius)
	})
}

// iterHits returns a single-use sequence. The index is queried when iteration
// starts; handles are resolved one at a time as the caller consumes them, and
// cells removed in between are skipped.
func (s *Space) iterHits(ctx context.Context, query func(*spatial.Index[cell.ID]) []spatial.Hit[cell.ID]) iter.Seq2[Neighbour, error] {
	var used atomic.Bool
	return func(yield func(Neighbour, error) bool) {
		if used.Swap(true) {
			return
		}
		qctx, cancel := s.withTimeout(ctx)
		var hits []spatial.Hit[cell.ID]
		err := s.readIndex(qctx, func(idx *spatial.Index[cell.ID]) { hits = query(idx) })
		cancel()
		if err != nil {
			yield(Neighbour{}, err)
			return
		}

		for _, hit := range hits {
			h, err := s.GetByID(ctx, hit.Key)
			if err != nil {
				yield(Neighbour{}, err)
				return
			}
			if h == nil {
				continue
			}
			if !yield(Neighbour{ID: hit.Key, Pos: hit.Pos, DistSq: hit.DistSq, Handle: h}, nil) {
				return
			}
		}
	}
}

// GetNeighbourByID returns the occupied cells among the eight grid neighbours
// of id, in direction order starting north. found is false if id is unknown.
func (s *Space) GetNeighbourByID(ctx context.Context, id cell.ID) (handles []*Handle, found bool, err error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ids []cell.ID
	if err := s.readIndex(ctx, func(idx *spatial.Index[cell.ID]) {
		var pos geom.Position
		if pos, found = idx.Position(id); !found {
			return
		}
		for _, n := range pos.Neighbours() {
			if nid, ok := idx.Lookup(n.Pos); ok {
				ids = append(ids, nid)
			}
		}
	}); err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	handles = make([]*Handle, 0, len(ids))
	for _, nid := range ids {
		h, err := s.cells.Get(ctx, nid)
		if err != nil {
			return nil, true, err
		}
		if h != nil {
			handles = append(handles, h)
		}
	}
	return handles, true, nil
}
