package spatial

import (
	"cmp"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/pthm-cable/cellspace/geom"
)

// point is a keyed position stored in the k-d tree.
type point[K cmp.Ordered] struct {
	pos geom.Position
	key K
	gen uint64
}

var _ kdtree.Comparable = point[int]{}

func (p point[K]) coord(d kdtree.Dim) float64 {
	if d == 0 {
		return p.pos.X
	}
	return p.pos.Y
}

// Compare returns the signed distance of p from the plane through c
// perpendicular to dimension d.
func (p point[K]) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord(d) - c.(point[K]).coord(d)
}

func (p point[K]) Dims() int { return 2 }

// Distance returns the squared Euclidean distance to c.
func (p point[K]) Distance(c kdtree.Comparable) float64 {
	return p.pos.DistanceSq(c.(point[K]).pos)
}

// points is a buildable list of keyed positions.
type points[K cmp.Ordered] []point[K]

var _ kdtree.Interface = points[int](nil)

func (p points[K]) Index(i int) kdtree.Comparable { return p[i] }
func (p points[K]) Len() int                      { return len(p) }
func (p points[K]) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

func (p points[K]) Pivot(d kdtree.Dim) int {
	pl := plane[K]{points: p, dim: d}
	return kdtree.Partition(pl, kdtree.MedianOfRandoms(pl, 100))
}

// plane sorts points along one dimension for median selection.
type plane[K cmp.Ordered] struct {
	points points[K]
	dim    kdtree.Dim
}

func (p plane[K]) Len() int { return len(p.points) }
func (p plane[K]) Less(i, j int) bool {
	return p.points[i].coord(p.dim) < p.points[j].coord(p.dim)
}
func (p plane[K]) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p plane[K]) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

// liveKeeper forwards only points that are still present in the index.
type liveKeeper[K cmp.Ordered] struct {
	kdtree.Keeper
	live func(point[K]) bool
}

func (k liveKeeper[K]) Keep(c kdtree.ComparableDist) {
	if p, ok := c.Comparable.(point[K]); ok && k.live(p) {
		k.Keeper.Keep(c)
	}
}
