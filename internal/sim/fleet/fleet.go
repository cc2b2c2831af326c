// Package fleet runs many independent agents on one discrete-event
// scheduler and groups their output into ticks.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridmobility/internal/persistence/snapshot"
	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/mobility"
	"gridmobility/internal/sim/rng"
	"gridmobility/internal/sim/sched"
)

// Stream numbering. Agent i uses speed streams 2i and 2i+1.
const (
	decisionStreamBase = 1 << 32
	placementStream    = 1 << 40
)

type Config struct {
	Seed     uint64
	Agents   int
	Mobility mobility.Config
	// Starts fixes the start of the first len(Starts) agents; the rest are
	// placed uniformly inside the bounds.
	Starts []geom.Vec2

	TickRateHz         int
	TickStep           time.Duration
	SnapshotEveryTicks int
}

func (c Config) Validate() error {
	if c.Agents < 1 {
		return fmt.Errorf("agents=%d (want >= 1)", c.Agents)
	}
	if len(c.Starts) > c.Agents {
		return fmt.Errorf("%d starts for %d agents", len(c.Starts), c.Agents)
	}
	if c.TickRateHz < 1 {
		return fmt.Errorf("tick rate %d (want >= 1)", c.TickRateHz)
	}
	if c.TickStep <= 0 {
		return fmt.Errorf("tick step %v (want > 0)", c.TickStep)
	}
	return c.Mobility.Validate()
}

type AgentSample struct {
	Agent string `json:"agent"`
	mobility.Sample
}

type AgentDecision struct {
	Agent string `json:"agent"`
	mobility.Decision
}

type TickLogEntry struct {
	Tick      uint64          `json:"tick"`
	TimeNS    int64           `json:"time_ns"`
	Samples   []AgentSample   `json:"samples,omitempty"`
	Decisions []AgentDecision `json:"decisions,omitempty"`
	Digest    string          `json:"digest"`
}

// TickLogger receives every completed tick. Implementations must not block.
type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type agent struct {
	id     string
	index  int
	model  *mobility.Model
	decide *rng.Stream
}

type Fleet struct {
	cfg   Config
	log   *zap.Logger
	runID string

	sim    *sched.Simulator
	agents []*agent
	tick   uint64

	samples   []indexedSample
	decisions []indexedDecision

	tickLoggers  []TickLogger
	snapshotSink chan<- snapshot.SnapshotV1

	stop     chan struct{}
	stopOnce sync.Once
}

type indexedSample struct {
	index int
	AgentSample
}

type indexedDecision struct {
	index int
	AgentDecision
}

type Option func(*Fleet)

func WithLogger(l *zap.Logger) Option {
	return func(f *Fleet) {
		if l != nil {
			f.log = l
		}
	}
}

func WithRunID(id string) Option { return func(f *Fleet) { f.runID = id } }

func AgentID(i int) string { return fmt.Sprintf("A%d", i+1) }

// New places and initializes every agent at simulated time zero.
func New(cfg Config, opts ...Option) (*Fleet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fleet config: %w", err)
	}
	f := newFleet(cfg, sched.New(), opts)
	seeder := rng.Seeder{Seed: cfg.Seed}
	place := seeder.Stream(placementStream)
	b := cfg.Mobility.Bounds
	for i := 0; i < cfg.Agents; i++ {
		start := geom.Vec2{X: place.Uniform(b.XMin(), b.XMax()), Y: place.Uniform(b.YMin(), b.YMax())}
		if i < len(cfg.Starts) {
			start = cfg.Starts[i]
		}
		a, err := f.addAgent(i, start)
		if err != nil {
			return nil, err
		}
		a.model.AssignStreams(seeder, int64(2*i))
		a.decide = seeder.Stream(decisionStreamBase + int64(i))
	}
	for _, a := range f.agents {
		a.model.Initialize(a.decide)
	}
	f.log.Info("fleet ready",
		zap.Int("agents", cfg.Agents),
		zap.Uint64("seed", cfg.Seed),
		zap.Stringer("bounds", cfg.Mobility.Bounds),
	)
	return f, nil
}

func newFleet(cfg Config, sim *sched.Simulator, opts []Option) *Fleet {
	f := &Fleet{
		cfg:  cfg,
		log:  zap.NewNop(),
		sim:  sim,
		stop: make(chan struct{}),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fleet) addAgent(i int, start geom.Vec2) (*agent, error) {
	m, err := mobility.New(f.cfg.Mobility, f.sim, start)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", AgentID(i), err)
	}
	a := &agent{id: AgentID(i), index: i, model: m}
	m.OnCourseChange(func(s mobility.Sample) {
		f.samples = append(f.samples, indexedSample{index: a.index, AgentSample: AgentSample{Agent: a.id, Sample: s}})
	})
	m.OnDecision(func(d mobility.Decision) {
		f.decisions = append(f.decisions, indexedDecision{index: a.index, AgentDecision: AgentDecision{Agent: a.id, Decision: d}})
		if ce := f.log.Check(zap.DebugLevel, "decision"); ce != nil {
			ce.Write(
				zap.String("agent", a.id),
				zap.String("kind", string(d.Kind)),
				zap.Stringer("turn", d.Turn),
				zap.Stringer("next", d.Next),
				zap.String("side", d.Side),
				zap.Stringer("pos", d.Position),
				zap.Duration("t", d.Time),
			)
		}
	})
	f.agents = append(f.agents, a)
	return a, nil
}

func (f *Fleet) SetTickLogger(l TickLogger) { f.tickLoggers = append(f.tickLoggers, l) }

func (f *Fleet) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { f.snapshotSink = ch }

func (f *Fleet) Tick() uint64 { return f.tick }

func (f *Fleet) Now() time.Duration { return f.sim.Now() }

func (f *Fleet) RunID() string { return f.runID }

func (f *Fleet) Config() Config { return f.cfg }

func (f *Fleet) AgentIDs() []string {
	out := make([]string, len(f.agents))
	for i, a := range f.agents {
		out[i] = a.id
	}
	return out
}

// Agent returns the model of agent id. It must only be used from the
// goroutine driving the fleet.
func (f *Fleet) Agent(id string) (*mobility.Model, bool) {
	for _, a := range f.agents {
		if a.id == id {
			return a.model, true
		}
	}
	return nil, false
}

func (f *Fleet) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(f.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.stop:
			return nil
		case <-ticker.C:
			f.StepOnce()
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (f *Fleet) Stop() { f.stopOnce.Do(func() { close(f.stop) }) }

// StepOnce advances simulated time by one tick step and publishes the tick.
func (f *Fleet) StepOnce() (tick uint64, digest string) {
	tick = f.tick
	f.sim.RunUntil(f.sim.Now() + f.cfg.TickStep)

	entry := TickLogEntry{
		Tick:      tick,
		TimeNS:    int64(f.sim.Now()),
		Samples:   f.drainSamples(),
		Decisions: f.drainDecisions(),
	}
	digest = f.stateDigest(tick)
	entry.Digest = digest
	for _, l := range f.tickLoggers {
		if err := l.WriteTick(entry); err != nil {
			f.log.Warn("tick logger", zap.Uint64("tick", tick), zap.Error(err))
		}
	}

	f.tick++

	// Snapshot every N ticks, starting after tick 0.
	if f.snapshotSink != nil && tick != 0 && f.cfg.SnapshotEveryTicks > 0 && tick%uint64(f.cfg.SnapshotEveryTicks) == 0 {
		snap, err := f.ExportSnapshot()
		if err != nil {
			f.log.Error("export snapshot", zap.Uint64("tick", tick), zap.Error(err))
		} else {
			select {
			case f.snapshotSink <- snap:
			default:
				f.log.Warn("snapshot dropped", zap.Uint64("tick", tick))
			}
		}
	}
	return tick, digest
}

func (f *Fleet) drainSamples() []AgentSample {
	if len(f.samples) == 0 {
		return nil
	}
	sort.SliceStable(f.samples, func(i, j int) bool {
		a, b := f.samples[i], f.samples[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.index < b.index
	})
	out := make([]AgentSample, len(f.samples))
	for i, s := range f.samples {
		out[i] = s.AgentSample
	}
	f.samples = f.samples[:0]
	return out
}

func (f *Fleet) drainDecisions() []AgentDecision {
	if len(f.decisions) == 0 {
		return nil
	}
	sort.SliceStable(f.decisions, func(i, j int) bool {
		a, b := f.decisions[i], f.decisions[j]
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.index < b.index
	})
	out := make([]AgentDecision, len(f.decisions))
	for i, d := range f.decisions {
		out[i] = d.AgentDecision
	}
	f.decisions = f.decisions[:0]
	return out
}

var ErrSnapshotMismatch = errors.New("snapshot does not match config")
