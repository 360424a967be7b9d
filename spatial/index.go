// Package spatial indexes keyed positions for exact, nearest-neighbour and range
// queries.
//
// An Index keeps an exact position map and a k-d tree over the same keys and
// updates both in every mutating call. It does no locking of its own.
package spatial

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/pthm-cable/cellspace/geom"
)

var (
	// ErrOccupied is returned when inserting at a position that already holds a key.
	ErrOccupied = errors.New("position occupied")
	// ErrDuplicateKey is returned when inserting a key that is already indexed.
	ErrDuplicateKey = errors.New("key already indexed")
)

// minRebuild is the tombstone count below which the tree is never rebuilt.
const minRebuild = 32

// Hit is a query result: a key and its squared distance from the query point.
type Hit[K cmp.Ordered] struct {
	Key    K
	Pos    geom.Position
	DistSq float64
}

// slot is the live entry for a key. gen tells it apart from stale tree points
// left behind by an earlier insert of the same key.
type slot struct {
	pos geom.Position
	gen uint64
}

// Index combines an exact position map with a k-d tree.
type Index[K cmp.Ordered] struct {
	byPos map[geom.Position]K
	byKey map[K]slot

	tree *kdtree.Tree
	gen  uint64
	dead int // tombstoned points still in tree
}

// New returns an empty index.
func New[K cmp.Ordered]() *Index[K] {
	return &Index[K]{
		byPos: make(map[geom.Position]K),
		byKey: make(map[K]slot),
		tree:  &kdtree.Tree{},
	}
}

// Build returns an index over the given key → position pairs, with a balanced tree.
func Build[K cmp.Ordered](entries map[K]geom.Position) (*Index[K], error) {
	idx := New[K]()
	pts := make(points[K], 0, len(entries))
	for k, pos := range entries {
		if err := pos.Validate(); err != nil {
			return nil, err
		}
		pos = pos.Canonical()
		if other, taken := idx.byPos[pos]; taken {
			return nil, fmt.Errorf("%w: %v holds %v and %v", ErrOccupied, pos, other, k)
		}
		idx.byPos[pos] = k
		idx.byKey[k] = slot{pos: pos}
		pts = append(pts, point[K]{pos: pos, key: k})
	}
	idx.tree = kdtree.New(pts, false)
	return idx, nil
}

// Len returns the number of indexed keys.
func (x *Index[K]) Len() int { return len(x.byKey) }

// Insert indexes key at pos.
func (x *Index[K]) Insert(pos geom.Position, key K) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	pos = pos.Canonical()
	if other, taken := x.byPos[pos]; taken {
		return fmt.Errorf("%w: %v holds %v", ErrOccupied, pos, other)
	}
	if _, dup := x.byKey[key]; dup {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}
	x.gen++
	x.byPos[pos] = key
	x.byKey[key] = slot{pos: pos, gen: x.gen}
	x.tree.Insert(point[K]{pos: pos, key: key, gen: x.gen}, false)
	return nil
}

// Remove drops key from the index. It reports whether key was present.
func (x *Index[K]) Remove(key K) bool {
	s, ok := x.byKey[key]
	if !ok {
		return false
	}
	delete(x.byKey, key)
	delete(x.byPos, s.pos)
	x.dead++
	if x.dead >= minRebuild && x.dead > len(x.byKey) {
		x.rebuild()
	}
	return true
}

// Lookup returns the key at exactly pos.
func (x *Index[K]) Lookup(pos geom.Position) (K, bool) {
	k, ok := x.byPos[pos.Canonical()]
	return k, ok
}

// Position returns where key is indexed.
func (x *Index[K]) Position(key K) (geom.Position, bool) {
	s, ok := x.byKey[key]
	return s.pos, ok
}

// Nearest returns the key closest to pos by squared Euclidean distance. Equal
// distances resolve to the smallest key. ok is false only for an empty index.
func (x *Index[K]) Nearest(pos geom.Position) (hit Hit[K], ok bool) {
	if len(x.byKey) == 0 {
		return hit, false
	}
	q := point[K]{pos: pos}

	best := x.keeper(kdtree.NewNKeeper(1))
	x.tree.NearestSet(best, q)
	if best.Len() == 0 {
		return hit, false
	}
	d := best.Keeper.(*kdtree.NKeeper).Heap[0].Dist

	// Collect every live point at that distance and take the smallest key.
	ties := x.collect(q, d)
	return ties[0], true
}

// Within returns every key whose squared distance from pos is at most radius²,
// ordered by distance then key.
func (x *Index[K]) Within(pos geom.Position, radius float64) []Hit[K] {
	if len(x.byKey) == 0 || radius < 0 || math.IsNaN(radius) {
		return nil
	}
	return x.collect(point[K]{pos: pos}, radius*radius)
}

// Sorted returns every key ordered by distance from pos, then key.
func (x *Index[K]) Sorted(pos geom.Position) []Hit[K] {
	if len(x.byKey) == 0 {
		return nil
	}
	return x.collect(point[K]{pos: pos}, math.Inf(1))
}

// Each calls fn for every key in key order.
func (x *Index[K]) Each(fn func(key K, pos geom.Position)) {
	keys := make([]K, 0, len(x.byKey))
	for k := range x.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fn(k, x.byKey[k].pos)
	}
}

func (x *Index[K]) collect(q point[K], maxDistSq float64) []Hit[K] {
	k := x.keeper(kdtree.NewDistKeeper(maxDistSq))
	x.tree.NearestSet(k, q)

	heap := k.Keeper.(*kdtree.DistKeeper).Heap
	hits := make([]Hit[K], 0, len(heap))
	for _, c := range heap {
		if c.Comparable == nil {
			continue
		}
		p := c.Comparable.(point[K])
		hits = append(hits, Hit[K]{Key: p.key, Pos: p.pos, DistSq: c.Dist})
	}
	slices.SortFunc(hits, func(a, b Hit[K]) int {
		if c := cmp.Compare(a.DistSq, b.DistSq); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return hits
}

func (x *Index[K]) keeper(k kdtree.Keeper) liveKeeper[K] {
	return liveKeeper[K]{Keeper: k, live: x.live}
}

// live reports whether p is the current entry for its key, so tombstones and
// stale points are skipped.
func (x *Index[K]) live(p point[K]) bool {
	s, ok := x.byKey[p.key]
	return ok && s.gen == p.gen
}

func (x *Index[K]) rebuild() {
	pts := make(points[K], 0, len(x.byKey))
	for k, s := range x.byKey {
		pts = append(pts, point[K]{pos: s.pos, key: k, gen: s.gen})
	}
	x.tree = kdtree.New(pts, false)
	x.dead = 0
}
