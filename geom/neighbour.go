package geom

import "math"

// Direction indexes the eight grid neighbours, clockwise from north.
type Direction uint8

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest

	NumDirections = 8
)

// Offsets holds the unit displacement for each Direction. Y grows northwards.
var Offsets = [NumDirections]Offset{
	North:     {X: 0, Y: 1},
	NorthEast: {X: 1, Y: 1},
	East:      {X: 1, Y: 0},
	SouthEast: {X: 1, Y: -1},
	South:     {X: 0, Y: -1},
	SouthWest: {X: -1, Y: -1},
	West:      {X: -1, Y: 0},
	NorthWest: {X: -1, Y: 1},
}

var directionNames = [NumDirections]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func (d Direction) String() string {
	if d >= NumDirections {
		return "?"
	}
	return directionNames[d]
}

// Diagonal reports whether d is one of the four corner neighbours.
func (d Direction) Diagonal() bool { return d%2 == 1 }

// Weight is the flow weight of a direction: 1 for edges, 1/√2 for corners.
func (d Direction) Weight() float64 {
	if d.Diagonal() {
		return math.Sqrt2 / 2
	}
	return 1
}

// TotalWeight is the sum of Weight over all eight directions.
var TotalWeight = 4 + 2*math.Sqrt2

// Neighbour is an adjacent position together with its offset from the origin.
type Neighbour struct {
	Dir    Direction
	Pos    Position
	Offset Offset
}

// Neighbours returns the eight grid-adjacent positions around p.
func (p Position) Neighbours() [NumDirections]Neighbour {
	var out [NumDirections]Neighbour
	for d := Direction(0); d < NumDirections; d++ {
		o := Offsets[d]
		out[d] = Neighbour{Dir: d, Pos: p.Add(o), Offset: o}
	}
	return out
}

// Up returns the position one unit north of p.
func (p Position) Up() Position { return p.Add(Offsets[North]) }

// Down returns the position one unit south of p.
func (p Position) Down() Position { return p.Add(Offsets[South]) }
