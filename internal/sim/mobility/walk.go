package mobility

import (
	"time"

	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/grid"
	"gridmobility/internal/sim/turn"
)

// Classify decides what happens after moving from from with vel for delay.
// It has no side effects.
func Classify(cfg Config, phase Phase, pending turn.Turn, from, vel geom.Vec2, delay time.Duration) Plan {
	next := from.After(delay, vel)
	p := Plan{Delay: delay, From: from, Next: next, Velocity: vel}
	switch {
	case !cfg.Bounds.IsInside(next):
		p.Kind = PlanRebound
	case phase == PhaseCorridor && grid.IsApproachingIntersection(vel, next, cfg.Grid, pending):
		p.Kind = PlanTurn
	case phase == PhaseRealign && grid.IsLeavingCell(vel, from, next, cfg.Grid):
		p.Kind = PlanRealign
	default:
		p.Kind = PlanRespeed
	}
	return p
}

// Plan classifies the next walk step from the current motion state.
func (m *Model) Plan(delay time.Duration) Plan {
	return Classify(m.cfg, m.phase, m.pending, m.helper.CurrentPosition(), m.helper.Velocity(), delay)
}

// walk schedules the next transition and reports the course change.
func (m *Model) walk(delay time.Duration) {
	m.arm(m.Plan(delay))
	m.notifyCourseChange()
}

// arm replaces the scheduled event with p.
func (m *Model) arm(p Plan) {
	m.sched.Cancel(m.event)
	m.plan = p
	m.planAt = m.sched.Now() + p.Delay
	m.armed = true
	m.event = m.sched.ScheduleAfter(p.Delay, func() { m.execute(p) })
}

func (m *Model) execute(p Plan) {
	m.event = 0
	m.armed = false
	switch p.Kind {
	case PlanTurn:
		m.executeTurn(p)
	case PlanRealign:
		m.realign(p)
	case PlanRebound:
		m.rebound(p)
	default:
		m.resume()
	}
}

// resume commits the elapsed motion, re-speeds and walks on.
func (m *Model) resume() {
	m.helper.Update()
	base := m.cfg.Speed.Sample(m.speedSrc)
	var vel geom.Vec2
	if !m.started {
		vel = m.heading.Unit().Scale(base + m.jitter)
		m.started = true
	} else {
		// A re-speed draws again; the first draw is discarded.
		vel = m.respeed(m.helper.Velocity(), m.cfg.Speed.Sample(m.speedSrc))
	}
	m.helper.SetVelocity(vel)
	m.helper.Unpause()
	m.walk(m.cfg.Lookahead)
}

// respeed keeps the direction of vel and sets its magnitude to base plus the
// personal jitter. The thousandths digit is replaced by the pending turn so
// agents with equal speeds drift apart.
func (m *Model) respeed(vel geom.Vec2, base float64) geom.Vec2 {
	s := base + m.jitter
	x1 := int(s * 1000)
	x2 := x1 / 10
	s = s - float64(x1-x2*10)*0.001 + float64(m.pending)*0.001
	if vel.X == 0 {
		if vel.Y > 0 {
			vel.Y = s
		} else {
			vel.Y = -s
		}
		return vel
	}
	if vel.X > 0 {
		vel.X = s
	} else {
		vel.X = -s
	}
	return vel
}

// axes returns pointers to the coordinate along the direction of travel and
// the perpendicular one.
func axes(p *geom.Vec2, vertical bool) (along, across *float64) {
	if vertical {
		return &p.Y, &p.X
	}
	return &p.X, &p.Y
}

func speedOf(vel geom.Vec2) float64 {
	if vel.X != 0 {
		return abs(vel.X)
	}
	return abs(vel.Y)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// setMotion commits a new position and velocity.
func (m *Model) setMotion(pos, vel geom.Vec2) {
	m.helper.SetPosition(pos)
	m.helper.SetVelocity(vel)
	m.helper.Unpause()
}
