// Package grid maps absolute coordinates onto a periodic lattice of streets.
//
// Coordinates use the screen convention: +y points "down". A grid cell is
// Distance wide; its corridor centreline sits at Distance/2 and each corridor
// is 3*Lanes units wide on either side of the centreline.
package grid

import (
	"errors"
	"fmt"
	"math"

	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/turn"
)

// LeftLane is the offset of the left-turn lane from the centreline.
const LeftLane = 1.5

type Grid struct {
	Lanes         int     `yaml:"lanes" json:"lanes"`
	Intersections int     `yaml:"intersections" json:"intersections"`
	Distance      float64 `yaml:"distance" json:"distance"`
}

var ErrInvalidGrid = errors.New("invalid grid")

func (g Grid) Validate() error {
	if g.Lanes < 1 {
		return fmt.Errorf("%w: lanes=%d (want >= 1)", ErrInvalidGrid, g.Lanes)
	}
	if g.Intersections < 1 {
		return fmt.Errorf("%w: intersections=%d (want >= 1)", ErrInvalidGrid, g.Intersections)
	}
	if !(g.Distance > 0) || math.IsInf(g.Distance, 0) {
		return fmt.Errorf("%w: distance=%g (want > 0)", ErrInvalidGrid, g.Distance)
	}
	return nil
}

// Center is the local offset of the corridor centreline.
func (g Grid) Center() float64 { return g.Distance / 2 }

// HalfWidth is the corridor half width, 3 units per lane.
func (g Grid) HalfWidth() float64 { return 3 * float64(g.Lanes) }

// RightLane is the offset of the right-turn lane from the centreline.
func (g Grid) RightLane() float64 { return g.HalfWidth() - LeftLane }

// Offset reduces x into the grid period.
func (g Grid) Offset(x float64) float64 { return LocalOffset(x, g.Distance) }

// LocalOffset returns x modulo spacing in [0, spacing).
func LocalOffset(x, spacing float64) float64 {
	r := math.Mod(x, spacing)
	if r < 0 {
		r += spacing
	}
	// r+spacing can round up to spacing for tiny negative r.
	if r >= spacing {
		r = 0
	}
	return r
}

// Heading is one of the four axis directions.
type Heading int

const (
	South Heading = iota // +y
	North                // -y
	West                 // -x
	East                 // +x
)

func (h Heading) String() string {
	switch h {
	case South:
		return "south"
	case North:
		return "north"
	case West:
		return "west"
	case East:
		return "east"
	}
	return fmt.Sprintf("heading(%d)", int(h))
}

// Unit is the unit velocity for h.
func (h Heading) Unit() geom.Vec2 {
	switch h {
	case South:
		return geom.Vec2{Y: 1}
	case North:
		return geom.Vec2{Y: -1}
	case West:
		return geom.Vec2{X: -1}
	case East:
		return geom.Vec2{X: 1}
	}
	return geom.Vec2{}
}

// Vertical reports travel along y.
func (h Heading) Vertical() bool { return h == South || h == North }

// Sign is the direction of travel along the heading's axis.
func (h Heading) Sign() float64 {
	if h == South || h == East {
		return 1
	}
	return -1
}

// Reverse is the opposite heading.
func (h Heading) Reverse() Heading {
	switch h {
	case South:
		return North
	case North:
		return South
	case West:
		return East
	}
	return West
}

// Turned is the heading after taking t. Right turns run clockwise on screen.
func (h Heading) Turned(t turn.Turn) Heading {
	switch t {
	case turn.Right:
		return clockwise[h]
	case turn.Left:
		return counterClockwise[h]
	}
	return h
}

var (
	clockwise        = [4]Heading{South: West, West: North, North: East, East: South}
	counterClockwise = [4]Heading{South: East, East: North, North: West, West: South}
)

// laneSide is +1 when the lanes of h sit above the centreline offset.
func (h Heading) laneSide() float64 {
	if h == North || h == East {
		return 1
	}
	return -1
}

// HeadingOf returns the heading of an axis-aligned velocity. Zero velocity
// reports North.
func HeadingOf(vel geom.Vec2) Heading {
	switch {
	case vel.X > 0:
		return East
	case vel.X < 0:
		return West
	case vel.Y > 0:
		return South
	}
	return North
}

// ClassifyDirection picks the initial heading for pos. The remainder uses
// truncation toward zero so negative coordinates keep the legacy result.
func ClassifyDirection(pos geom.Vec2, g Grid) Heading {
	shift := g.Center() - (g.HalfWidth() + LeftLane)
	rx := pos.X - shift - math.Trunc(pos.X/g.Distance)*g.Distance
	ry := pos.Y - shift - math.Trunc(pos.Y/g.Distance)*g.Distance
	if rx > 0 && rx/3 == math.Trunc(rx/3) {
		if rx <= g.HalfWidth() {
			return South
		}
		return North
	}
	if ry <= g.HalfWidth() {
		return West
	}
	return East
}

// InitialCorridorPhase reports whether an agent placed at pos starts out
// approaching an intersection. Only single-lane grids start in a corridor.
func InitialCorridorPhase(pos geom.Vec2, g Grid) bool {
	if g.Lanes != 1 {
		return false
	}
	ox, oy := g.Offset(pos.X), g.Offset(pos.Y)
	c, w := g.Center(), g.HalfWidth()
	switch {
	case ox < c-w && oy > c:
		return true
	case ox > c+w && oy < c:
		return true
	case ox < c && oy < c-w:
		return true
	case ox > c && oy > c+w:
		return true
	}
	return false
}

// travel returns the signed speed and the coordinate along the axis of vel.
func travel(vel, p geom.Vec2) (v, along float64, ok bool) {
	switch {
	case vel.X == 0:
		return vel.Y, p.Y, true
	case vel.Y == 0:
		return vel.X, p.X, true
	}
	return 0, 0, false
}

// Threshold is the local offset at which an agent travelling in direction
// sign (+1 or -1) commits to t.
func (g Grid) Threshold(t turn.Turn, sign float64) float64 {
	c := g.Center()
	switch t {
	case turn.Right:
		return c - sign*g.RightLane()
	case turn.Left:
		return c + sign*LeftLane
	}
	return c
}

// LaneTarget is the perpendicular local offset an agent heading h keeps
// while it intends to take t. Straight keeps the centreline.
func (g Grid) LaneTarget(h Heading, t turn.Turn) float64 {
	c := g.Center()
	switch t {
	case turn.Right:
		return c + h.laneSide()*g.RightLane()
	case turn.Left:
		return c + h.laneSide()*LeftLane
	}
	return c
}

// RealignDelta is the perpendicular correction that moves off onto the lane
// of t. Right-turn lanes only pull outward, left-turn lanes only inward.
func (g Grid) RealignDelta(h Heading, t turn.Turn, off float64) (float64, bool) {
	if t == turn.Straight {
		return 0, false
	}
	dir := h.laneSide()
	if t == turn.Left {
		dir = -dir
	}
	d := g.LaneTarget(h, t) - off
	if d*dir > 0 {
		return d, true
	}
	return 0, false
}

// StraightShift is the perpendicular shift applied to a straight-bound agent
// reflected onto heading h.
func (g Grid) StraightShift(h Heading) float64 {
	return h.laneSide() * g.HalfWidth()
}

// IsApproachingIntersection reports whether next has reached the decision
// threshold of the pending turn t.
func IsApproachingIntersection(vel, next geom.Vec2, g Grid, t turn.Turn) bool {
	v, along, ok := travel(vel, next)
	if !ok || v == 0 {
		return false
	}
	off := g.Offset(along)
	if v < 0 {
		return g.Threshold(t, -1) >= off
	}
	return g.Threshold(t, 1) <= off
}

// IsLeavingCell reports whether moving from from to next crossed a period
// boundary along the axis of travel. Raw offsets are compared without any
// wrap clamp.
func IsLeavingCell(vel, from, next geom.Vec2, g Grid) bool {
	v, a, ok := travel(vel, from)
	if !ok || v == 0 {
		return false
	}
	_, b, _ := travel(vel, next)
	delta := g.Offset(a) - g.Offset(b)
	if v < 0 {
		return delta < 0
	}
	return delta > 0
}
