package tuning

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gridmobility/internal/sim/fleet"
	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/grid"
	"gridmobility/internal/sim/mobility"
	"gridmobility/internal/sim/rng"
)

var ErrInvalidConfig = errors.New("invalid config")

type Tuning struct {
	Run        Run           `yaml:"run"`
	Grid       grid.Grid     `yaml:"grid"`
	Speed      rng.SpeedSpec `yaml:"speed"`
	DeltaSpeed float64       `yaml:"delta_speed"`
	Lookahead  int           `yaml:"lookahead_ms"`
	Bounds     Bounds        `yaml:"bounds"`
	Starts     []Point       `yaml:"starts,omitempty"`
}

type Run struct {
	Seed               uint64  `yaml:"seed"`
	Agents             int     `yaml:"agents"`
	TickRateHz         int     `yaml:"tick_rate_hz"`
	TimeScale          float64 `yaml:"time_scale"`
	SnapshotEveryTicks int     `yaml:"snapshot_every_ticks"`
}

type Bounds struct {
	XMin float64 `yaml:"x_min"`
	XMax float64 `yaml:"x_max"`
	YMin float64 `yaml:"y_min"`
	YMax float64 `yaml:"y_max"`
}

func (b Bounds) Rectangle() geom.Rectangle {
	return geom.NewRectangle(b.XMin, b.XMax, b.YMin, b.YMax)
}

type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Defaults mirrors the stock model attributes: two lanes, 500 m blocks,
// 16-18 m/s cruising speed and a 100 x 100 area.
func Defaults() Tuning {
	return Tuning{
		Run: Run{
			Seed:               1,
			Agents:             1,
			TickRateHz:         10,
			TimeScale:          1,
			SnapshotEveryTicks: 3000,
		},
		Grid:       grid.Grid{Lanes: 2, Intersections: 1, Distance: 500},
		Speed:      rng.SpeedSpec{Model: "uniform", Min: 16, Max: 18},
		DeltaSpeed: 5.556,
		Lookahead:  100,
		Bounds:     Bounds{XMin: 0, XMax: 100, YMin: 0, YMax: 100},
	}
}

// Load reads path on top of Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if err := t.Grid.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if t.Run.Agents < 1 {
		return fmt.Errorf("%w: run.agents=%d (want >= 1)", ErrInvalidConfig, t.Run.Agents)
	}
	if t.Run.TickRateHz < 1 {
		return fmt.Errorf("%w: run.tick_rate_hz=%d (want >= 1)", ErrInvalidConfig, t.Run.TickRateHz)
	}
	if !(t.Run.TimeScale > 0) {
		return fmt.Errorf("%w: run.time_scale=%g (want > 0)", ErrInvalidConfig, t.Run.TimeScale)
	}
	if t.Run.SnapshotEveryTicks < 0 {
		return fmt.Errorf("%w: run.snapshot_every_ticks=%d", ErrInvalidConfig, t.Run.SnapshotEveryTicks)
	}
	if !(t.DeltaSpeed >= 0) || math.IsInf(t.DeltaSpeed, 0) {
		return fmt.Errorf("%w: delta_speed=%g (want >= 0)", ErrInvalidConfig, t.DeltaSpeed)
	}
	if t.Lookahead < 1 {
		return fmt.Errorf("%w: lookahead_ms=%d (want >= 1)", ErrInvalidConfig, t.Lookahead)
	}
	r := t.Bounds.Rectangle()
	if r.IsEmpty() {
		return fmt.Errorf("%w: bounds %v are empty", ErrInvalidConfig, r)
	}
	if _, err := t.Speed.Build(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for i, p := range t.Starts {
		if !r.IsInside(geom.Vec2{X: p.X, Y: p.Y}) {
			return fmt.Errorf("%w: starts[%d]=(%g,%g) outside bounds %v", ErrInvalidConfig, i, p.X, p.Y, r)
		}
	}
	return nil
}

// Mobility builds the per-agent model configuration.
func (t Tuning) Mobility() (mobility.Config, error) {
	speed, err := t.Speed.Build()
	if err != nil {
		return mobility.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return mobility.Config{
		Grid:       t.Grid,
		Bounds:     t.Bounds.Rectangle(),
		Speed:      speed,
		DeltaSpeed: t.DeltaSpeed,
		Lookahead:  time.Duration(t.Lookahead) * time.Millisecond,
	}, nil
}

// TickInterval is the wall-clock period of the real-time loop.
func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(t.Run.TickRateHz)
}

// TickStep is the simulated time advanced per tick.
func (t Tuning) TickStep() time.Duration {
	return time.Duration(float64(t.TickInterval()) * t.Run.TimeScale)
}

// Fleet builds the fleet configuration for a run.
func (t Tuning) Fleet() (fleet.Config, error) {
	mc, err := t.Mobility()
	if err != nil {
		return fleet.Config{}, err
	}
	starts := make([]geom.Vec2, len(t.Starts))
	for i, p := range t.Starts {
		starts[i] = geom.Vec2{X: p.X, Y: p.Y}
	}
	return fleet.Config{
		Seed:               t.Run.Seed,
		Agents:             t.Run.Agents,
		Mobility:           mc,
		Starts:             starts,
		TickRateHz:         t.Run.TickRateHz,
		TickStep:           t.TickStep(),
		SnapshotEveryTicks: t.Run.SnapshotEveryTicks,
	}, nil
}
