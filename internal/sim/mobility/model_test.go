package mobility

import (
	"math"
	"reflect"
	"testing"
	"time"

	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/grid"
	"gridmobility/internal/sim/rng"
	"gridmobility/internal/sim/sched"
	"gridmobility/internal/sim/turn"
)

// scripted returns min+f*(max-min) for each fraction f in order, then rest.
type scripted struct {
	fracs []float64
	rest  float64
}

func (s *scripted) Uniform(min, max float64) float64 {
	f := s.rest
	if len(s.fracs) > 0 {
		f, s.fracs = s.fracs[0], s.fracs[1:]
	}
	return min + f*(max-min)
}

// seeded draws: jitter, straight share, right share, lane, first pending turn.
func seeded(pending float64) *scripted {
	return &scripted{fracs: []float64{0.5, 0.705, 0.68, 0, pending}, rest: 0.1}
}

func singleLaneConfig(size float64) Config {
	return Config{
		Grid:   grid.Grid{Lanes: 1, Intersections: 1, Distance: 500},
		Bounds: geom.NewRectangle(0, size, 0, size),
		Speed:  rng.Constant{Value: 17},
	}
}

type recorder struct {
	samples   []Sample
	decisions []Decision
}

func record(m *Model) *recorder {
	r := &recorder{}
	m.OnCourseChange(func(s Sample) { r.samples = append(r.samples, s) })
	m.OnDecision(func(d Decision) { r.decisions = append(r.decisions, d) })
	return r
}

func newModel(t *testing.T, cfg Config, s *sched.Simulator, start geom.Vec2) *Model {
	t.Helper()
	m, err := New(cfg, s, start)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestStraightThroughIntersectionTriggersOneTurn(t *testing.T) {
	s := sched.New()
	m := newModel(t, singleLaneConfig(1000), s, geom.Vec2{X: 248.5, Y: 10})
	rec := record(m)
	m.Initialize(seeded(0.1))

	if m.Counters() != (turn.Counters{Trials: 100, Straight: 70, Right: 20, Left: 10}) {
		t.Fatalf("seeded counters: %+v", m.Counters())
	}
	if m.PendingTurn() != turn.Straight {
		t.Fatalf("pending=%v", m.PendingTurn())
	}
	if m.Phase() != PhaseCorridor {
		t.Fatalf("single-lane start should be in a corridor, got %v", m.Phase())
	}
	if v := m.Velocity(); v != (geom.Vec2{Y: 17}) {
		t.Fatalf("initial velocity %v", v)
	}

	s.RunUntil(20 * time.Second)

	if len(rec.decisions) != 1 {
		t.Fatalf("decisions=%d: %+v", len(rec.decisions), rec.decisions)
	}
	d := rec.decisions[0]
	if d.Kind != DecisionTurn || d.Turn != turn.Straight {
		t.Fatalf("decision %+v", d)
	}
	if d.Position.Y < 248 || d.Position.Y > 252 {
		t.Fatalf("turn taken at y=%g, want near 250", d.Position.Y)
	}
	if d.Velocity != (geom.Vec2{Y: 17}) {
		t.Fatalf("straight turn changed velocity: %v", d.Velocity)
	}
	if m.Phase() != PhaseRealign {
		t.Fatalf("phase after turn=%v", m.Phase())
	}
	if c := m.Counters(); c.Trials != 101 || c.Straight != 71 {
		t.Fatalf("counters after turn: %+v", c)
	}
	for _, smp := range rec.samples {
		if smp.Velocity.IsZero() || !smp.Velocity.AxisAligned() {
			t.Fatalf("sample at %v has velocity %v", smp.Time, smp.Velocity)
		}
	}
}

func TestRightTurnSwapsAxisOntoLane(t *testing.T) {
	s := sched.New()
	m := newModel(t, singleLaneConfig(1000), s, geom.Vec2{X: 248.5, Y: 10})
	rec := record(m)
	m.Initialize(seeded(0.75))
	if m.PendingTurn() != turn.Right {
		t.Fatalf("pending=%v", m.PendingTurn())
	}

	s.RunUntil(20 * time.Second)

	if len(rec.decisions) != 1 {
		t.Fatalf("decisions=%+v", rec.decisions)
	}
	d := rec.decisions[0]
	if d.Kind != DecisionTurn || d.Turn != turn.Right || d.Next != turn.Straight {
		t.Fatalf("decision %+v", d)
	}
	// Heading south, a right turn heads west on the right-turn lane.
	if d.Velocity != (geom.Vec2{X: -17}) {
		t.Fatalf("velocity after right turn %v", d.Velocity)
	}
	if math.Abs(d.Position.Y-248.5) > 1e-9 {
		t.Fatalf("y after turn=%g, want 248.5", d.Position.Y)
	}
	if d.Position.X > 248.5 || d.Position.X < 248.5-1.8 {
		t.Fatalf("x after turn=%g", d.Position.X)
	}
	if math.Abs(m.Position().X-(d.Position.X-17*(20-d.Time.Seconds()))) > 0.05 {
		t.Fatalf("position %v does not follow westward travel from %v", m.Position(), d.Position)
	}
}

func TestReboundAtCornerIsDeterministic(t *testing.T) {
	for _, tc := range []struct {
		name    string
		vel     geom.Vec2
		pending float64
		side    string
		want    geom.Vec2
	}{
		{"east straight", geom.Vec2{X: 17}, 0.1, "RIGHT", geom.Vec2{X: 99, Y: 97}},
		{"east right", geom.Vec2{X: 17}, 0.75, "RIGHT", geom.Vec2{X: 99, Y: 100}},
		{"south straight", geom.Vec2{Y: 17}, 0.1, "TOP", geom.Vec2{X: 100, Y: 99}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := sched.New()
			m := newModel(t, singleLaneConfig(100), s, geom.Vec2{X: 50, Y: 50})
			rec := record(m)
			m.Initialize(seeded(tc.pending))
			m.Stop()
			m.setMotion(geom.Vec2{X: 100, Y: 100}, tc.vel)
			m.walk(m.cfg.Lookahead)
			if p, _, _ := m.Planned(); p.Kind != PlanRebound {
				t.Fatalf("planned %v", p.Kind)
			}

			s.RunUntil(100 * time.Millisecond)

			if len(rec.decisions) != 1 || rec.decisions[0].Kind != DecisionRebound {
				t.Fatalf("decisions=%+v", rec.decisions)
			}
			d := rec.decisions[0]
			if d.Side != tc.side {
				t.Fatalf("side=%s want %s", d.Side, tc.side)
			}
			if d.Position != tc.want {
				t.Fatalf("position=%v want %v", d.Position, tc.want)
			}
			if !m.cfg.Bounds.IsInside(d.Position) || !m.cfg.Bounds.IsInside(m.Position()) {
				t.Fatalf("left bounds after rebound: %v", d.Position)
			}
			if d.Velocity.X != -tc.vel.X || d.Velocity.Y != -tc.vel.Y {
				t.Fatalf("velocity not reversed: %v", d.Velocity)
			}
			if m.Phase() != PhaseCorridor {
				t.Fatalf("phase=%v", m.Phase())
			}
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	cfg := singleLaneConfig(1000)
	cfg.Lookahead = DefaultLookahead
	down := geom.Vec2{Y: 17}

	if p := Classify(cfg, PhaseCorridor, turn.Straight, geom.Vec2{X: 248.5, Y: 249}, down, DefaultLookahead); p.Kind != PlanTurn {
		t.Fatalf("expected turn, got %v", p.Kind)
	}
	if p := Classify(cfg, PhaseRealign, turn.Straight, geom.Vec2{X: 248.5, Y: 249}, down, DefaultLookahead); p.Kind != PlanRespeed {
		t.Fatalf("realign phase ignores intersections, got %v", p.Kind)
	}
	if p := Classify(cfg, PhaseRealign, turn.Straight, geom.Vec2{X: 248.5, Y: 499.5}, down, DefaultLookahead); p.Kind != PlanRealign {
		t.Fatalf("expected realign, got %v", p.Kind)
	}
	if p := Classify(cfg, PhaseCorridor, turn.Straight, geom.Vec2{X: 248.5, Y: 999.5}, down, DefaultLookahead); p.Kind != PlanRebound {
		t.Fatalf("expected rebound, got %v", p.Kind)
	}
	p := Classify(cfg, PhaseCorridor, turn.Straight, geom.Vec2{X: 10, Y: 10}, geom.Vec2{}, DefaultLookahead)
	if p.Kind != PlanRespeed || p.Next != p.From {
		t.Fatalf("stationary agent: %+v", p)
	}
}

func TestRespeedReplacesThousandthsDigit(t *testing.T) {
	m := &Model{jitter: 0.2345, pending: turn.Left}
	v := m.respeed(geom.Vec2{Y: -5}, 17)
	if v.X != 0 || math.Abs(v.Y+17.2325) > 1e-9 {
		t.Fatalf("respeed=%v", v)
	}
	m.pending = turn.Straight
	v = m.respeed(geom.Vec2{X: 3}, 16)
	if v.Y != 0 || math.Abs(v.X-16.2305) > 1e-9 {
		t.Fatalf("respeed=%v", v)
	}
}

func TestSetPosition(t *testing.T) {
	s := sched.New()
	m := newModel(t, singleLaneConfig(1000), s, geom.Vec2{X: 248.5, Y: 10})
	if !m.Velocity().IsZero() {
		t.Fatalf("velocity before Initialize=%v", m.Velocity())
	}
	m.Initialize(seeded(0.1))
	s.RunUntil(3 * time.Second)

	target := geom.Vec2{X: 600, Y: 700}
	m.SetPosition(target)
	if got := m.Position(); got != target {
		t.Fatalf("position after SetPosition=%v", got)
	}
	if s.Pending() != 1 {
		t.Fatalf("pending events=%d", s.Pending())
	}
	s.RunUntil(3*time.Second + time.Millisecond)
	if m.Velocity().IsZero() {
		t.Fatalf("walk did not restart")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("SetPosition outside bounds did not panic")
		}
	}()
	m.SetPosition(geom.Vec2{X: -1, Y: 5})
}

func TestNewRejectsBadConfig(t *testing.T) {
	s := sched.New()
	cfg := singleLaneConfig(100)
	cfg.Grid.Distance = 0
	if _, err := New(cfg, s, geom.Vec2{}); err == nil {
		t.Fatalf("expected error for zero distance")
	}
	cfg = singleLaneConfig(100)
	cfg.Bounds = geom.NewRectangle(0, 0, 0, 10)
	if _, err := New(cfg, s, geom.Vec2{}); err == nil {
		t.Fatalf("expected error for empty bounds")
	}
	cfg = singleLaneConfig(100)
	cfg.DeltaSpeed = -1
	if _, err := New(cfg, s, geom.Vec2{}); err == nil {
		t.Fatalf("expected error for negative delta speed")
	}
	if _, err := New(singleLaneConfig(100), s, geom.Vec2{X: 200}); err == nil {
		t.Fatalf("expected error for start outside bounds")
	}
}

func multiLaneConfig() Config {
	return Config{
		Grid:       grid.Grid{Lanes: 2, Intersections: 1, Distance: 500},
		Bounds:     geom.NewRectangle(0, 1500, 0, 1500),
		Speed:      rng.Uniform{Min: 16, Max: 18},
		DeltaSpeed: 5.556,
	}
}

func runSeeded(t *testing.T, seed uint64, until time.Duration) ([]Sample, []Decision, *Model) {
	t.Helper()
	s := sched.New()
	m := newModel(t, multiLaneConfig(), s, geom.Vec2{X: 751.5, Y: 40})
	seeder := rng.Seeder{Seed: seed}
	if n := m.AssignStreams(seeder, 0); n != 2 {
		t.Fatalf("AssignStreams=%d", n)
	}
	rec := record(m)
	m.Initialize(seeder.Stream(1000))
	s.RunUntil(until)
	return rec.samples, rec.decisions, m
}

func TestDeterministicTraceAndInvariants(t *testing.T) {
	a, da, m := runSeeded(t, 99, 10*time.Minute)
	b, db, _ := runSeeded(t, 99, 10*time.Minute)
	if !reflect.DeepEqual(a, b) || !reflect.DeepEqual(da, db) {
		t.Fatalf("same seed produced different traces")
	}
	if len(da) == 0 {
		t.Fatalf("no decisions in ten minutes")
	}
	bounds := m.Config().Bounds
	for _, smp := range a {
		if smp.Velocity.IsZero() || !smp.Velocity.AxisAligned() {
			t.Fatalf("sample at %v: velocity %v", smp.Time, smp.Velocity)
		}
		if !bounds.IsInside(smp.Position) {
			t.Fatalf("sample at %v outside bounds: %v", smp.Time, smp.Position)
		}
	}
	for _, d := range da {
		if d.Kind == DecisionRebound && !bounds.IsInside(d.Position) {
			t.Fatalf("rebound left agent outside: %+v", d)
		}
	}
	if !m.Counters().Valid() {
		t.Fatalf("counters invalid: %+v", m.Counters())
	}

	c, _, _ := runSeeded(t, 100, 10*time.Minute)
	if reflect.DeepEqual(a, c) {
		t.Fatalf("different seeds produced identical traces")
	}
}

func TestStateRestoreContinuesTrace(t *testing.T) {
	cfg := multiLaneConfig()
	start := geom.Vec2{X: 751.5, Y: 40}
	seeder := rng.Seeder{Seed: 5}

	sa := sched.New()
	a := newModel(t, cfg, sa, start)
	a.AssignStreams(seeder, 0)
	srcA := seeder.Stream(1000)
	a.Initialize(srcA)
	sa.RunUntil(90 * time.Second)

	st, err := a.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	srcState, err := srcA.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	sb := sched.NewAt(sa.Now())
	b := newModel(t, cfg, sb, start)
	srcB := rng.NewStream(0, 0)
	if err := srcB.UnmarshalBinary(srcState); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if err := b.Restore(st, srcB); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if b.Position() != a.Position() {
		t.Fatalf("restored position %v want %v", b.Position(), a.Position())
	}

	ra, rb := record(a), record(b)
	sa.RunUntil(4 * time.Minute)
	sb.RunUntil(4 * time.Minute)
	if len(ra.samples) == 0 || !reflect.DeepEqual(ra.samples, rb.samples) {
		t.Fatalf("restored model diverged (%d vs %d samples)", len(ra.samples), len(rb.samples))
	}
	if !reflect.DeepEqual(ra.decisions, rb.decisions) {
		t.Fatalf("restored decisions diverged")
	}
}

func twoLaneConfig() Config {
	cfg := singleLaneConfig(1000)
	cfg.Grid.Lanes = 2
	return cfg
}

// armAt replaces the model's motion and plans one lookahead step from it.
func armAt(t *testing.T, m *Model, phase Phase, pending turn.Turn, pos, vel geom.Vec2) Plan {
	t.Helper()
	m.Stop()
	m.phase = phase
	m.pending = pending
	m.setMotion(pos, vel)
	m.walk(m.cfg.Lookahead)
	p, _, _ := m.Planned()
	return p
}

// Lanes 2, distance 500: right-turn thresholds sit 4.5 from the centreline,
// left-turn thresholds 1.5. Each step covers 1.7, overshooting by 0.7.
func TestTurnExecutorPerHeading(t *testing.T) {
	for _, tc := range []struct {
		name    string
		turn    turn.Turn
		from    geom.Vec2
		vel     geom.Vec2
		wantPos geom.Vec2
		wantDir geom.Vec2
	}{
		{"north right", turn.Right, geom.Vec2{X: 260.5, Y: 255.5}, geom.Vec2{Y: -17}, geom.Vec2{X: 261.2, Y: 254.5}, geom.Vec2{X: 1}},
		{"north left", turn.Left, geom.Vec2{X: 260.5, Y: 249.5}, geom.Vec2{Y: -17}, geom.Vec2{X: 259.8, Y: 248.5}, geom.Vec2{X: -1}},
		{"south right", turn.Right, geom.Vec2{X: 260.5, Y: 244.5}, geom.Vec2{Y: 17}, geom.Vec2{X: 259.8, Y: 245.5}, geom.Vec2{X: -1}},
		{"south left", turn.Left, geom.Vec2{X: 260.5, Y: 250.5}, geom.Vec2{Y: 17}, geom.Vec2{X: 261.2, Y: 251.5}, geom.Vec2{X: 1}},
		{"west right", turn.Right, geom.Vec2{X: 255.5, Y: 260.5}, geom.Vec2{X: -17}, geom.Vec2{X: 254.5, Y: 259.8}, geom.Vec2{Y: -1}},
		{"west left", turn.Left, geom.Vec2{X: 249.5, Y: 260.5}, geom.Vec2{X: -17}, geom.Vec2{X: 248.5, Y: 261.2}, geom.Vec2{Y: 1}},
		{"east right", turn.Right, geom.Vec2{X: 244.5, Y: 260.5}, geom.Vec2{X: 17}, geom.Vec2{X: 245.5, Y: 261.2}, geom.Vec2{Y: 1}},
		{"east left", turn.Left, geom.Vec2{X: 250.5, Y: 260.5}, geom.Vec2{X: 17}, geom.Vec2{X: 251.5, Y: 259.8}, geom.Vec2{Y: -1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := sched.New()
			m := newModel(t, twoLaneConfig(), s, geom.Vec2{X: 50, Y: 50})
			m.Initialize(seeded(0.1))
			if p := armAt(t, m, PhaseCorridor, tc.turn, tc.from, tc.vel); p.Kind != PlanTurn {
				t.Fatalf("planned %v, want turn", p.Kind)
			}
			rec := record(m)
			before := m.Counters()

			s.RunUntil(100 * time.Millisecond)

			if len(rec.decisions) != 1 {
				t.Fatalf("decisions=%+v", rec.decisions)
			}
			d := rec.decisions[0]
			if d.Kind != DecisionTurn || d.Turn != tc.turn {
				t.Fatalf("decision %+v", d)
			}
			if math.Abs(d.Position.X-tc.wantPos.X) > 1e-9 || math.Abs(d.Position.Y-tc.wantPos.Y) > 1e-9 {
				t.Fatalf("position=%v want %v", d.Position, tc.wantPos)
			}
			speed := speedOf(d.Velocity)
			if !d.Velocity.AxisAligned() || math.Abs(speed-17) > 0.01 {
				t.Fatalf("velocity=%v", d.Velocity)
			}
			if dir := d.Velocity.Scale(1 / speed); math.Abs(dir.X-tc.wantDir.X) > 1e-12 || math.Abs(dir.Y-tc.wantDir.Y) > 1e-12 {
				t.Fatalf("direction=%v want %v", dir, tc.wantDir)
			}
			if m.Phase() != PhaseRealign {
				t.Fatalf("phase=%v", m.Phase())
			}
			after := m.Counters()
			if after.Trials != before.Trials+1 || !after.Valid() {
				t.Fatalf("counters %+v -> %+v", before, after)
			}
		})
	}
}

func TestRealignMovesOntoPendingLane(t *testing.T) {
	for _, tc := range []struct {
		name    string
		pending turn.Turn
		from    geom.Vec2
		vel     geom.Vec2
		want    geom.Vec2
	}{
		{"south right", turn.Right, geom.Vec2{X: 247, Y: 499.5}, geom.Vec2{Y: 17}, geom.Vec2{X: 245.5, Y: 499.5}},
		{"south left", turn.Left, geom.Vec2{X: 247, Y: 499.5}, geom.Vec2{Y: 17}, geom.Vec2{X: 248.5, Y: 499.5}},
		{"east right", turn.Right, geom.Vec2{X: 499.5, Y: 252}, geom.Vec2{X: 17}, geom.Vec2{X: 499.5, Y: 254.5}},
		{"north left", turn.Left, geom.Vec2{X: 253, Y: 500.5}, geom.Vec2{Y: -17}, geom.Vec2{X: 251.5, Y: 500.5}},
		// Right lanes only pull outward.
		{"south right inside", turn.Right, geom.Vec2{X: 240, Y: 499.5}, geom.Vec2{Y: 17}, geom.Vec2{X: 240, Y: 499.5}},
		{"straight", turn.Straight, geom.Vec2{X: 247, Y: 499.5}, geom.Vec2{Y: 17}, geom.Vec2{X: 247, Y: 499.5}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := sched.New()
			m := newModel(t, twoLaneConfig(), s, geom.Vec2{X: 50, Y: 50})
			m.Initialize(seeded(0.1))
			if p := armAt(t, m, PhaseRealign, tc.pending, tc.from, tc.vel); p.Kind != PlanRealign {
				t.Fatalf("planned %v, want realign", p.Kind)
			}
			rec := record(m)
			before := m.Counters()

			s.RunUntil(100 * time.Millisecond)

			if len(rec.decisions) != 1 || rec.decisions[0].Kind != DecisionRealign {
				t.Fatalf("decisions=%+v", rec.decisions)
			}
			d := rec.decisions[0]
			if d.Position != tc.want {
				t.Fatalf("position=%v want %v", d.Position, tc.want)
			}
			if d.Velocity != tc.vel || m.Velocity() != tc.vel {
				t.Fatalf("realign changed velocity: %v", d.Velocity)
			}
			if m.Phase() != PhaseCorridor || m.PendingTurn() != tc.pending {
				t.Fatalf("phase=%v pending=%v", m.Phase(), m.PendingTurn())
			}
			if m.Counters() != before {
				t.Fatalf("realign touched counters")
			}
		})
	}
}

type countingSpeed struct{ n int }

func (c *countingSpeed) Sample(rng.Source) float64 {
	c.n++
	return 17
}

func TestRespeedDrawsTwice(t *testing.T) {
	cfg := singleLaneConfig(1000)
	speed := &countingSpeed{}
	cfg.Speed = speed
	s := sched.New()
	m := newModel(t, cfg, s, geom.Vec2{X: 248.5, Y: 10})
	m.Initialize(seeded(0.1))
	m.Stop()
	m.setMotion(geom.Vec2{X: 248.5, Y: 100}, geom.Vec2{Y: 17})
	m.started = true

	speed.n = 0
	m.resume()
	if speed.n != 2 {
		t.Fatalf("re-speed drew %d speeds, want 2", speed.n)
	}
	if v := m.Velocity(); math.Abs(v.Y-17) > 0.01 || v.X != 0 {
		t.Fatalf("velocity=%v", v)
	}
}
