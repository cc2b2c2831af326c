package mobility

import (
	"fmt"
	"time"

	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/grid"
	"gridmobility/internal/sim/rng"
	"gridmobility/internal/sim/sched"
	"gridmobility/internal/sim/turn"
)

// Model is a single agent. It is driven entirely by callbacks on its
// scheduler and must not be shared across goroutines.
type Model struct {
	cfg   Config
	sched sched.Scheduler

	helper   *geom.Helper
	speedSrc *rng.Stream
	src      rng.Source

	counters turn.Counters
	pending  turn.Turn
	phase    Phase
	jitter   float64
	heading  grid.Heading

	initialized bool
	started     bool

	event  sched.EventID
	plan   Plan
	planAt time.Duration
	armed  bool

	onCourse   []func(Sample)
	onDecision []func(Decision)
}

// New builds a Model placed at start. The walk begins on Initialize.
func New(cfg Config, s sched.Scheduler, start geom.Vec2) (*Model, error) {
	if cfg.Lookahead == 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mobility config: %w", err)
	}
	if !cfg.Bounds.IsInside(start) {
		return nil, fmt.Errorf("start %v outside bounds %v", start, cfg.Bounds)
	}
	m := &Model{
		cfg:      cfg,
		sched:    s,
		helper:   geom.NewHelper(s),
		speedSrc: rng.NewStream(0, 0),
	}
	m.helper.SetPosition(start)
	return m, nil
}

// AssignStreams binds the speed stream to stream and reserves stream+1.
// It returns the number of streams consumed.
func (m *Model) AssignStreams(seeder rng.Seeder, stream int64) int64 {
	m.speedSrc = seeder.Stream(stream)
	return 2
}

// Initialize derives the initial heading, draws the personal speed jitter,
// seeds the turn counters and the first pending turn, then starts walking.
// src supplies every draw other than speeds.
func (m *Model) Initialize(src rng.Source) {
	if m.initialized {
		return
	}
	m.src = src
	pos := m.helper.CurrentPosition()
	g := m.cfg.Grid

	m.heading = grid.ClassifyDirection(pos, g)
	m.jitter = src.Uniform(-m.cfg.DeltaSpeed, m.cfg.DeltaSpeed)
	if grid.InitialCorridorPhase(pos, g) {
		m.phase = PhaseCorridor
	} else {
		m.phase = PhaseRealign
	}
	m.counters = turn.Seed(src)
	// Lane pick, drawn but not used by the walk.
	src.Uniform(0, float64(g.Lanes)-0.01)
	m.pending = m.counters.Sample(src)

	m.initialized = true
	m.resume()
}

func (m *Model) Config() Config { return m.cfg }

// Position is the extrapolated position, clamped into bounds. It does not
// change the model.
func (m *Model) Position() geom.Vec2 {
	return m.cfg.Bounds.Clamp(m.helper.PositionAt(m.sched.Now()))
}

// SetPosition moves the agent and restarts the walk from scratch.
// It panics if p is outside bounds.
func (m *Model) SetPosition(p geom.Vec2) {
	if !m.cfg.Bounds.IsInside(p) {
		panic(fmt.Sprintf("mobility: position %v outside bounds %v", p, m.cfg.Bounds))
	}
	m.helper.SetPosition(p)
	if !m.initialized {
		return
	}
	m.arm(Plan{Kind: PlanRespeed, From: p, Next: p})
}

// Velocity is zero until Initialize.
func (m *Model) Velocity() geom.Vec2 { return m.helper.Velocity() }

// TurnProbabilities returns the straight, right and left percentages.
func (m *Model) TurnProbabilities() (straight, right, left float64) {
	return m.counters.Probabilities()
}

func (m *Model) PendingTurn() turn.Turn  { return m.pending }
func (m *Model) Phase() Phase            { return m.phase }
func (m *Model) Counters() turn.Counters { return m.counters }
func (m *Model) Jitter() float64         { return m.jitter }

// Planned returns the scheduled plan and when it fires.
func (m *Model) Planned() (Plan, time.Duration, bool) { return m.plan, m.planAt, m.armed }

func (m *Model) OnCourseChange(fn func(Sample)) { m.onCourse = append(m.onCourse, fn) }

func (m *Model) OnDecision(fn func(Decision)) { m.onDecision = append(m.onDecision, fn) }

// Stop cancels the scheduled event. The agent stays where it is.
func (m *Model) Stop() {
	m.sched.Cancel(m.event)
	m.event = 0
	m.armed = false
}

func (m *Model) sample() Sample {
	return Sample{
		Time:     m.sched.Now(),
		Position: m.Position(),
		Velocity: m.Velocity(),
		Phase:    m.phase,
		Pending:  m.pending,
	}
}

func (m *Model) notifyCourseChange() {
	if len(m.onCourse) == 0 {
		return
	}
	s := m.sample()
	for _, fn := range m.onCourse {
		fn(s)
	}
}

func (m *Model) notifyDecision(d Decision) {
	d.Time = m.sched.Now()
	for _, fn := range m.onDecision {
		fn(d)
	}
}
