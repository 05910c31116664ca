// Package geometry computes rendezvous points and the fuel and time effects
// of flying part of a route in formation.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/floats"
)

// Tolerance is the absolute distance under which two points are the same.
const Tolerance = 1e-3

const (
	DefaultDiscount = 0.75
	DefaultSamples  = 100
)

// Party is one side of a rendezvous. A party already flying in formation
// burns discounted fuel on its way to the joining point.
type Party struct {
	Pos         orb.Point
	InFormation bool
}

// Calculator holds the formation fuel model.
type Calculator struct {
	// Discount is the fuel factor applied while flying in formation.
	Discount float64
	// Samples is the number of candidate points on a search segment.
	Samples int
}

// New creates a Calculator, falling back to defaults for non-positive values.
func New(discount float64, samples int) *Calculator {
	if discount <= 0 {
		discount = DefaultDiscount
	}
	if samples < 2 {
		samples = DefaultSamples
	}
	return &Calculator{Discount: discount, Samples: samples}
}

// Same reports whether a and b are within Tolerance of each other.
func Same(a, b orb.Point) bool { return planar.Distance(a, b) < Tolerance }

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b orb.Point) orb.Point {
	return orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}

// Toward moves from by step in the direction of to. Points closer than
// Tolerance do not move.
func Toward(from, to orb.Point, step float64) orb.Point {
	d := planar.Distance(from, to)
	if d < Tolerance || step == 0 {
		return from
	}
	k := step / d
	return orb.Point{from[0] + (to[0]-from[0])*k, from[1] + (to[1]-from[1])*k}
}

// candidates returns Samples evenly spaced points from a to b, both ends
// included.
func (c *Calculator) candidates(a, b orb.Point) []orb.Point {
	pts := make([]orb.Point, c.Samples)
	last := float64(c.Samples - 1)
	for i := range pts {
		t := float64(i) / last
		pts[i] = orb.Point{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t}
	}
	return pts
}

func (c *Calculator) weight(p Party) float64 {
	if p.InFormation {
		return c.Discount
	}
	return 1
}

// JoiningPoint searches the segment from the midpoint of the two positions to
// target for the point minimizing the fuel both parties spend to get there
// plus the discounted fuel of flying on together to target. Ties go to the
// candidate closest to the positions.
func (c *Calculator) JoiningPoint(a, b Party, target orb.Point) orb.Point {
	if Same(a.Pos, b.Pos) {
		return a.Pos
	}
	wa, wb := c.weight(a), c.weight(b)
	pts := c.candidates(Midpoint(a.Pos, b.Pos), target)
	cost := make([]float64, len(pts))
	for i, p := range pts {
		cost[i] = wa*planar.Distance(a.Pos, p) +
			wb*planar.Distance(b.Pos, p) +
			2*c.Discount*planar.Distance(p, target)
	}
	return pts[floats.MinIdx(cost)]
}

// LeavingPoint searches the segment from the midpoint of the destinations
// back toward from for the point where splitting up costs least: the
// discounted shared leg from from plus both solo legs to the destinations.
func (c *Calculator) LeavingPoint(destA, destB, from orb.Point) orb.Point {
	if Same(destA, destB) {
		return destA
	}
	pts := c.candidates(Midpoint(destA, destB), from)
	cost := make([]float64, len(pts))
	for i, p := range pts {
		cost[i] = planar.Distance(p, destA) +
			planar.Distance(p, destB) +
			2*c.Discount*planar.Distance(from, p)
	}
	return pts[floats.MinIdx(cost)]
}
