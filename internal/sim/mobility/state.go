package mobility

import (
	"fmt"
	"time"

	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/grid"
	"gridmobility/internal/sim/rng"
	"gridmobility/internal/sim/turn"
)

// State is everything needed to resume a Model on a fresh scheduler.
type State struct {
	Helper      geom.HelperState `json:"helper"`
	Counters    turn.Counters    `json:"counters"`
	Pending     turn.Turn        `json:"pending"`
	Phase       Phase            `json:"phase"`
	Jitter      float64          `json:"jitter"`
	Heading     grid.Heading     `json:"heading"`
	Initialized bool             `json:"initialized"`
	Started     bool             `json:"started"`
	SpeedStream []byte           `json:"speed_stream"`

	Plan   Plan          `json:"plan"`
	PlanAt time.Duration `json:"plan_at"`
	Armed  bool          `json:"armed"`
}

func (m *Model) State() (State, error) {
	stream, err := m.speedSrc.MarshalBinary()
	if err != nil {
		return State{}, fmt.Errorf("speed stream: %w", err)
	}
	return State{
		Helper:      m.helper.State(),
		Counters:    m.counters,
		Pending:     m.pending,
		Phase:       m.phase,
		Jitter:      m.jitter,
		Heading:     m.heading,
		Initialized: m.initialized,
		Started:     m.started,
		SpeedStream: stream,
		Plan:        m.plan,
		PlanAt:      m.planAt,
		Armed:       m.armed,
	}, nil
}

// Restore loads st and re-arms the pending plan. src replaces the source
// passed to Initialize and must already be positioned where the saved one was.
func (m *Model) Restore(st State, src rng.Source) error {
	if len(st.SpeedStream) > 0 {
		if err := m.speedSrc.UnmarshalBinary(st.SpeedStream); err != nil {
			return err
		}
	}
	if st.Initialized && !st.Counters.Valid() {
		return fmt.Errorf("restore: invalid counters %+v", st.Counters)
	}
	if st.Armed && st.PlanAt < m.sched.Now() {
		return fmt.Errorf("restore: plan at %v is before now %v", st.PlanAt, m.sched.Now())
	}
	m.Stop()
	m.helper.Restore(st.Helper)
	m.counters = st.Counters
	m.pending = st.Pending
	m.phase = st.Phase
	m.jitter = st.Jitter
	m.heading = st.Heading
	m.initialized = st.Initialized
	m.started = st.Started
	m.src = src

	if st.Armed {
		p := st.Plan
		m.plan = p
		m.planAt = st.PlanAt
		m.armed = true
		m.event = m.sched.ScheduleAfter(st.PlanAt-m.sched.Now(), func() { m.execute(p) })
	}
	return nil
}
