// Package geom provides grid positions and neighbour geometry for the cell space.
package geom

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// ErrInvalidPosition is returned for positions with NaN or infinite coordinates.
var ErrInvalidPosition = errors.New("invalid position")

// Position is a point on the simulation plane. It is comparable, so it can be
// used directly as a map key, and totally ordered via Compare.
type Position struct {
	X, Y float64
}

// Offset is a displacement between two positions.
type Offset = r2.Vec

// Pos is shorthand for Position{X: x, Y: y}.
func Pos(x, y float64) Position {
	return Position{X: x, Y: y}
}

// Validate reports ErrInvalidPosition if either coordinate is NaN or infinite.
func (p Position) Validate() error {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, p)
	}
	return nil
}

// Canonical folds negative zero into positive zero so that both map to the same key.
func (p Position) Canonical() Position {
	if p.X == 0 {
		p.X = 0
	}
	if p.Y == 0 {
		p.Y = 0
	}
	return p
}

// Add returns p displaced by o.
func (p Position) Add(o Offset) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y}
}

// Sub returns the offset from q to p.
func (p Position) Sub(q Position) Offset {
	return Offset{X: p.X - q.X, Y: p.Y - q.Y}
}

// DistanceSq returns the squared Euclidean distance between p and q.
func (p Position) DistanceSq(q Position) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// Compare orders positions by X, then Y. Returns -1, 0 or +1.
func (p Position) Compare(q Position) int {
	switch {
	case p.X < q.X:
		return -1
	case p.X > q.X:
		return 1
	case p.Y < q.Y:
		return -1
	case p.Y > q.Y:
		return 1
	}
	return 0
}

// Less reports whether p sorts before q.
func (p Position) Less(q Position) bool { return p.Compare(q) < 0 }

func (p Position) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}
