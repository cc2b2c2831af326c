package geom

import (
	"fmt"
	"time"
)

// Vec2 is a point or velocity in the plane, in metres (or m/s).
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

func (v Vec2) Scale(k float64) Vec2 {
	return Vec2{X: v.X * k, Y: v.Y * k}
}

// After returns v moved along vel for d.
func (v Vec2) After(d time.Duration, vel Vec2) Vec2 {
	return v.Add(vel.Scale(d.Seconds()))
}

func (v Vec2) IsZero() bool { return v.X == 0 && v.Y == 0 }

// AxisAligned reports whether at most one component is non-zero.
func (v Vec2) AxisAligned() bool { return v.X == 0 || v.Y == 0 }

func (v Vec2) String() string { return fmt.Sprintf("(%g,%g)", v.X, v.Y) }
