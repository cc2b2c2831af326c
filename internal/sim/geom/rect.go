package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Side names one edge of a Rectangle. Top is the YMax edge.
type Side int

const (
	SideRight Side = iota
	SideLeft
	SideTop
	SideBottom
)

func (s Side) String() string {
	switch s {
	case SideRight:
		return "RIGHT"
	case SideLeft:
		return "LEFT"
	case SideTop:
		return "TOP"
	case SideBottom:
		return "BOTTOM"
	}
	return "UNKNOWN"
}

// Rectangle is an axis-aligned area, edges inclusive.
type Rectangle struct {
	b orb.Bound
}

func NewRectangle(xMin, xMax, yMin, yMax float64) Rectangle {
	return Rectangle{b: orb.Bound{Min: orb.Point{xMin, yMin}, Max: orb.Point{xMax, yMax}}}
}

func (r Rectangle) XMin() float64 { return r.b.Left() }
func (r Rectangle) XMax() float64 { return r.b.Right() }
func (r Rectangle) YMin() float64 { return r.b.Bottom() }
func (r Rectangle) YMax() float64 { return r.b.Top() }

// IsEmpty reports a rectangle with no area.
func (r Rectangle) IsEmpty() bool {
	return !(r.XMax() > r.XMin()) || !(r.YMax() > r.YMin())
}

func (r Rectangle) IsInside(p Vec2) bool {
	return r.b.Contains(orb.Point{p.X, p.Y})
}

func (r Rectangle) String() string {
	return fmt.Sprintf("[%g,%g]x[%g,%g]", r.XMin(), r.XMax(), r.YMin(), r.YMax())
}

// Clamp moves p onto the nearest point inside r.
func (r Rectangle) Clamp(p Vec2) Vec2 {
	p.X = clamp(p.X, r.XMin(), r.XMax())
	p.Y = clamp(p.Y, r.YMin(), r.YMax())
	return p
}

// ClosestSide returns the edge nearest to p. An x/y tie goes to the y
// edges, and BOTTOM wins only when strictly closer than TOP.
func (r Rectangle) ClosestSide(p Vec2) Side {
	xMinSide := abs(p.X - r.XMin())
	xMaxSide := abs(r.XMax() - p.X)
	yMinSide := abs(p.Y - r.YMin())
	yMaxSide := abs(r.YMax() - p.Y)
	if math.Min(xMinSide, xMaxSide) < math.Min(yMinSide, yMaxSide) {
		if xMinSide < xMaxSide {
			return SideLeft
		}
		return SideRight
	}
	if yMinSide < yMaxSide {
		return SideBottom
	}
	return SideTop
}

// CrossedSide returns the edge a mover at p with velocity vel leaves through.
// Horizontal motion is checked first; a stationary mover falls back to ClosestSide.
func (r Rectangle) CrossedSide(p, vel Vec2) Side {
	switch {
	case vel.X > 0:
		return SideRight
	case vel.X < 0:
		return SideLeft
	case vel.Y > 0:
		return SideTop
	case vel.Y < 0:
		return SideBottom
	}
	return r.ClosestSide(p)
}

// CalculateIntersection returns where the ray from p along vel meets the
// boundary. With zero velocity it returns p clamped into r.
func (r Rectangle) CalculateIntersection(p, vel Vec2) Vec2 {
	if vel.X > 0 {
		y := p.Y + (r.XMax()-p.X)/vel.X*vel.Y
		if y <= r.YMax() && y >= r.YMin() {
			return Vec2{X: r.XMax(), Y: y}
		}
	}
	if vel.X < 0 {
		y := p.Y + (r.XMin()-p.X)/vel.X*vel.Y
		if y <= r.YMax() && y >= r.YMin() {
			return Vec2{X: r.XMin(), Y: y}
		}
	}
	if vel.Y > 0 {
		x := p.X + (r.YMax()-p.Y)/vel.Y*vel.X
		if x <= r.XMax() && x >= r.XMin() {
			return Vec2{X: x, Y: r.YMax()}
		}
	}
	if vel.Y < 0 {
		x := p.X + (r.YMin()-p.Y)/vel.Y*vel.X
		if x <= r.XMax() && x >= r.XMin() {
			return Vec2{X: x, Y: r.YMin()}
		}
	}
	return r.Clamp(p)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
