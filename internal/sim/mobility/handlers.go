package mobility

import (
	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/grid"
	"gridmobility/internal/sim/turn"
)

// executeTurn takes the pending turn at the intersection reached by p. The
// outcome is recorded before the next pending turn is drawn.
func (m *Model) executeTurn(p Plan) {
	g := m.cfg.Grid
	taken := m.pending
	m.counters.Record(taken)

	pos, vel := p.From, p.Velocity
	if taken != turn.Straight {
		h := grid.HeadingOf(vel)
		out := h.Turned(taken)
		th := g.Threshold(taken, h.Sign())

		next := p.Next
		nextAlong, _ := axes(&next, h.Vertical())
		along, across := axes(&pos, h.Vertical())
		// Carry the overshoot past the threshold onto the new axis and
		// snap the old axis onto the turning lane.
		overshoot := h.Sign() * (g.Offset(*nextAlong) - th)
		*across += out.Sign() * overshoot
		*along += th - g.Offset(*along)

		vel = out.Unit().Scale(speedOf(vel))
	}

	m.pending = m.counters.Sample(m.src)
	vel = m.respeed(vel, m.cfg.Speed.Sample(m.speedSrc))

	m.setMotion(pos, vel)
	m.phase = PhaseRealign
	m.notifyDecision(Decision{Kind: DecisionTurn, Turn: taken, Next: m.pending, Position: pos, Velocity: vel})
	m.walk(m.cfg.Lookahead)
}

// realign moves the agent sideways onto the lane of its pending turn once it
// has left the cell it turned in. The velocity is unchanged.
func (m *Model) realign(p Plan) {
	pos, vel := p.From, p.Velocity
	h := grid.HeadingOf(vel)
	_, across := axes(&pos, h.Vertical())
	if d, ok := m.cfg.Grid.RealignDelta(h, m.pending, m.cfg.Grid.Offset(*across)); ok {
		*across += d
	}

	m.setMotion(pos, vel)
	m.phase = PhaseCorridor
	m.notifyDecision(Decision{Kind: DecisionRealign, Turn: m.pending, Next: m.pending, Position: pos, Velocity: vel})
	m.walk(m.cfg.Lookahead)
}

// rebound reflects the agent off the side it was about to cross, placing it
// on the lane of its pending turn one unit inside the bounds.
func (m *Model) rebound(p Plan) {
	b := m.cfg.Bounds
	g := m.cfg.Grid
	pos := b.CalculateIntersection(p.From, p.Velocity)
	side := b.CrossedSide(pos, p.Velocity)
	back := inward(side)

	_, across := axes(&pos, back.Vertical())
	if m.pending == turn.Straight {
		*across += g.StraightShift(back)
	} else {
		*across += g.LaneTarget(back, m.pending) - g.Offset(*across)
	}
	pos = b.Clamp(pos.Add(back.Unit()))
	vel := p.Velocity.Scale(-1)

	m.setMotion(pos, vel)
	m.phase = PhaseCorridor
	m.notifyDecision(Decision{
		Kind:     DecisionRebound,
		Turn:     m.pending,
		Next:     m.pending,
		Side:     side.String(),
		Position: pos,
		Velocity: vel,
	})
	m.walk(p.Delay)
}

// inward is the heading pointing away from side.
func inward(side geom.Side) grid.Heading {
	switch side {
	case geom.SideRight:
		return grid.West
	case geom.SideLeft:
		return grid.East
	case geom.SideTop:
		return grid.North
	}
	return grid.South
}
