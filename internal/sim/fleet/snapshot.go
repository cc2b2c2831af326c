package fleet

import (
	"fmt"
	"time"

	"gridmobility/internal/persistence/snapshot"
	"gridmobility/internal/sim/rng"
	"gridmobility/internal/sim/sched"
)

// ExportSnapshot captures the fleet between ticks. Header.Tick is the next
// tick to run.
func (f *Fleet) ExportSnapshot() (snapshot.SnapshotV1, error) {
	mc := f.cfg.Mobility
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			RunID:   f.runID,
			Tick:    f.tick,
			TimeNS:  int64(f.sim.Now()),
			Agents:  len(f.agents),
		},
		Seed:          f.cfg.Seed,
		TickRate:      f.cfg.TickRateHz,
		TickStepNS:    int64(f.cfg.TickStep),
		Lanes:         mc.Grid.Lanes,
		Intersections: mc.Grid.Intersections,
		Distance:      mc.Grid.Distance,
		Bounds:        [4]float64{mc.Bounds.XMin(), mc.Bounds.XMax(), mc.Bounds.YMin(), mc.Bounds.YMax()},
		DeltaSpeed:    mc.DeltaSpeed,
		LookaheadNS:   int64(mc.Lookahead),
		SnapshotEvery: f.cfg.SnapshotEveryTicks,
		Agents:        make([]snapshot.AgentV1, 0, len(f.agents)),
	}
	for _, a := range f.agents {
		st, err := a.model.State()
		if err != nil {
			return snap, fmt.Errorf("agent %s: %w", a.id, err)
		}
		ds, err := a.decide.MarshalBinary()
		if err != nil {
			return snap, fmt.Errorf("agent %s decision stream: %w", a.id, err)
		}
		snap.Agents = append(snap.Agents, snapshot.AgentV1{ID: a.id, Model: st, DecisionStream: ds})
	}
	return snap, nil
}

// FromSnapshot rebuilds a fleet that continues exactly where snap was taken.
// cfg supplies what the snapshot does not carry, such as the speed
// distribution; its grid and bounds must match the snapshot.
func FromSnapshot(cfg Config, snap snapshot.SnapshotV1, opts ...Option) (*Fleet, error) {
	if snap.Header.Version != snapshot.Version {
		return nil, fmt.Errorf("snapshot version %d: unsupported", snap.Header.Version)
	}
	mc := cfg.Mobility
	if mc.Grid.Lanes != snap.Lanes || mc.Grid.Distance != snap.Distance ||
		mc.Bounds.XMin() != snap.Bounds[0] || mc.Bounds.XMax() != snap.Bounds[1] ||
		mc.Bounds.YMin() != snap.Bounds[2] || mc.Bounds.YMax() != snap.Bounds[3] {
		return nil, fmt.Errorf("%w: grid or bounds differ", ErrSnapshotMismatch)
	}
	cfg.Seed = snap.Seed
	cfg.Agents = len(snap.Agents)
	cfg.Starts = nil
	if snap.LookaheadNS > 0 {
		cfg.Mobility.Lookahead = time.Duration(snap.LookaheadNS)
	}
	cfg.Mobility.DeltaSpeed = snap.DeltaSpeed
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fleet config: %w", err)
	}

	f := newFleet(cfg, sched.NewAt(time.Duration(snap.Header.TimeNS)), opts)
	if f.runID == "" {
		f.runID = snap.Header.RunID
	}
	f.tick = snap.Header.Tick
	for i, as := range snap.Agents {
		a, err := f.addAgent(i, mc.Bounds.Clamp(as.Model.Helper.Position))
		if err != nil {
			return nil, err
		}
		if a.id != as.ID {
			return nil, fmt.Errorf("%w: agent %d is %q, want %q", ErrSnapshotMismatch, i, as.ID, a.id)
		}
		a.decide = rng.NewStream(0, 0)
		if err := a.decide.UnmarshalBinary(as.DecisionStream); err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.id, err)
		}
		if err := a.model.Restore(as.Model, a.decide); err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.id, err)
		}
	}
	return f, nil
}
