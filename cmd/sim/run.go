package main

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	persistlog "gridmobility/internal/persistence/log"
	"gridmobility/internal/persistence/snapshot"
	"gridmobility/internal/sim/fleet"
	"gridmobility/internal/sim/mobility"
	"gridmobility/internal/sim/tuning"
)

type options struct {
	Tuning   tuning.Tuning
	Duration time.Duration
	OutDir   string
	RunID    string
	Logger   *zap.Logger
}

type summary struct {
	RunID       string         `json:"run_id"`
	Seed        uint64         `json:"seed"`
	Ticks       uint64         `json:"ticks"`
	SimTimeS    float64        `json:"sim_time_s"`
	WallTimeMS  int64          `json:"wall_time_ms"`
	FinalDigest string         `json:"final_digest"`
	Samples     int            `json:"samples"`
	Decisions   map[string]int `json:"decisions"`
	Snapshots   []string       `json:"snapshots,omitempty"`
	Agents      []agentSummary `json:"agents"`
}

type agentSummary struct {
	ID       string     `json:"id"`
	Position [2]float64 `json:"pos"`
	Velocity [2]float64 `json:"vel"`
	Phase    string     `json:"phase"`
	Pending  string     `json:"pending"`
	Trials   int        `json:"trials"`
	// Straight, right and left percentages.
	Probabilities [3]float64 `json:"probabilities"`
}

type counter struct {
	samples   int
	decisions map[string]int
}

func (c *counter) WriteTick(e fleet.TickLogEntry) error {
	c.samples += len(e.Samples)
	for _, d := range e.Decisions {
		c.decisions[string(d.Kind)]++
	}
	return nil
}

// run steps a fleet as fast as possible for the configured simulated time.
func run(o options) (summary, error) {
	cfg, err := o.Tuning.Fleet()
	if err != nil {
		return summary{}, err
	}
	if o.Duration <= 0 {
		return summary{}, fmt.Errorf("duration %v: want > 0", o.Duration)
	}
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if o.OutDir == "" {
		cfg.SnapshotEveryTicks = 0
	}

	f, err := fleet.New(cfg, fleet.WithLogger(log), fleet.WithRunID(o.RunID))
	if err != nil {
		return summary{}, err
	}

	c := &counter{decisions: map[string]int{}}
	f.SetTickLogger(c)

	snapCh := make(chan snapshot.SnapshotV1, 1)
	if o.OutDir != "" {
		tickLog := persistlog.NewTickLogger(o.OutDir)
		decisionLog := persistlog.NewDecisionLogger(o.OutDir)
		defer tickLog.Close()
		defer decisionLog.Close()
		f.SetTickLogger(tickLog)
		f.SetTickLogger(decisionLog)
		f.SetSnapshotSink(snapCh)
	}

	sum := summary{RunID: o.RunID, Seed: cfg.Seed}
	start := time.Now()
	end := f.Now() + o.Duration
	for f.Now() < end {
		_, sum.FinalDigest = f.StepOnce()
		select {
		case snap := <-snapCh:
			path := snapshot.PathFor(filepath.Join(o.OutDir, "snapshots"), snap.Header.Tick)
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				return sum, fmt.Errorf("write snapshot: %w", err)
			}
			sum.Snapshots = append(sum.Snapshots, path)
		default:
		}
	}

	sum.Ticks = f.Tick()
	sum.SimTimeS = f.Now().Seconds()
	sum.WallTimeMS = time.Since(start).Milliseconds()
	sum.Samples = c.samples
	sum.Decisions = c.decisions
	for _, id := range f.AgentIDs() {
		m, _ := f.Agent(id)
		sum.Agents = append(sum.Agents, summarize(id, m))
	}
	log.Info("sim done",
		zap.Uint64("ticks", sum.Ticks),
		zap.Float64("sim_time_s", sum.SimTimeS),
		zap.Int64("wall_ms", sum.WallTimeMS),
	)
	return sum, nil
}

func summarize(id string, m *mobility.Model) agentSummary {
	p, v := m.Position(), m.Velocity()
	s, r, l := m.TurnProbabilities()
	return agentSummary{
		ID:            id,
		Position:      [2]float64{p.X, p.Y},
		Velocity:      [2]float64{v.X, v.Y},
		Phase:         m.Phase().String(),
		Pending:       m.PendingTurn().String(),
		Trials:        m.Counters().Trials,
		Probabilities: [3]float64{s, r, l},
	}
}
