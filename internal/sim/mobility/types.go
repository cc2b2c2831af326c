// Package mobility walks one agent through a periodic street grid, turning
// at intersections and reflecting off the area bounds.
package mobility

import (
	"fmt"
	"time"

	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/grid"
	"gridmobility/internal/sim/rng"
	"gridmobility/internal/sim/turn"
)

// DefaultLookahead is the walk step between two planning decisions.
const DefaultLookahead = 100 * time.Millisecond

// Phase is the outer walk mode.
type Phase int

const (
	// PhaseRealign follows a turn: the agent walks the connector until it
	// leaves the current cell.
	PhaseRealign Phase = iota
	// PhaseCorridor approaches the next intersection.
	PhaseCorridor
)

func (p Phase) String() string {
	if p == PhaseCorridor {
		return "corridor"
	}
	return "realign"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "corridor":
		*p = PhaseCorridor
	case "realign":
		*p = PhaseRealign
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// PlanKind is the transition a walk step schedules.
type PlanKind int

const (
	PlanRespeed PlanKind = iota
	PlanTurn
	PlanRealign
	PlanRebound
)

func (k PlanKind) String() string {
	switch k {
	case PlanRespeed:
		return "respeed"
	case PlanTurn:
		return "turn"
	case PlanRealign:
		return "realign"
	case PlanRebound:
		return "rebound"
	}
	return fmt.Sprintf("plan(%d)", int(k))
}

// Plan is the outcome of one walk step: what fires after Delay and the
// motion it was computed from.
type Plan struct {
	Kind     PlanKind      `json:"kind"`
	Delay    time.Duration `json:"delay"`
	From     geom.Vec2     `json:"from"`
	Next     geom.Vec2     `json:"next"`
	Velocity geom.Vec2     `json:"velocity"`
}

// Config is the immutable setup of a Model.
type Config struct {
	Grid       grid.Grid
	Bounds     geom.Rectangle
	Speed      rng.Distribution
	DeltaSpeed float64
	Lookahead  time.Duration
}

func (c Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if c.Bounds.IsEmpty() {
		return fmt.Errorf("bounds %v: empty", c.Bounds)
	}
	if c.Speed == nil {
		return fmt.Errorf("speed: no distribution")
	}
	if !(c.DeltaSpeed >= 0) {
		return fmt.Errorf("delta speed %g: want >= 0", c.DeltaSpeed)
	}
	if c.Lookahead < 0 {
		return fmt.Errorf("lookahead %v: want > 0", c.Lookahead)
	}
	return nil
}

// Sample is a course-change notification.
type Sample struct {
	Time     time.Duration `json:"t"`
	Position geom.Vec2     `json:"pos"`
	Velocity geom.Vec2     `json:"vel"`
	Phase    Phase         `json:"phase"`
	Pending  turn.Turn     `json:"pending"`
}

type DecisionKind string

const (
	DecisionTurn    DecisionKind = "turn"
	DecisionRealign DecisionKind = "realign"
	DecisionRebound DecisionKind = "rebound"
)

// Decision reports a transition handler that changed the agent's course.
// Turn is the executed turn (or the pending one for realign and rebound),
// Next the pending turn afterwards.
type Decision struct {
	Time     time.Duration `json:"t"`
	Kind     DecisionKind  `json:"kind"`
	Turn     turn.Turn     `json:"turn"`
	Next     turn.Turn     `json:"next"`
	Side     string        `json:"side,omitempty"`
	Position geom.Vec2     `json:"pos"`
	Velocity geom.Vec2     `json:"vel"`
}
