package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gridmobility/internal/sim/rng"
)

func TestLoad_TuningYAML(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tu.Run.Agents != 8 || tu.Grid.Lanes != 2 || tu.Grid.Distance != 500 {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	cfg, err := tu.Mobility()
	if err != nil {
		t.Fatalf("mobility config: %v", err)
	}
	if cfg.Lookahead != 100*time.Millisecond {
		t.Fatalf("lookahead=%v", cfg.Lookahead)
	}
	if _, ok := cfg.Speed.(rng.Uniform); !ok {
		t.Fatalf("speed distribution %T", cfg.Speed)
	}
	if tu.TickInterval() != 100*time.Millisecond || tu.TickStep() != 100*time.Millisecond {
		t.Fatalf("tick interval=%v step=%v", tu.TickInterval(), tu.TickStep())
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if tu.DeltaSpeed != 5.556 || tu.Bounds.XMax != 100 {
		t.Fatalf("defaults changed: %+v", tu)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("run:\n  agents: 3\n  tick_rate_hz: 10\n  time_scale: 4\nspeed:\n  model: constant\n  value: 12\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Run.Agents != 3 || tu.Grid.Distance != 500 {
		t.Fatalf("merge: %+v", tu)
	}
	if tu.TickStep() != 400*time.Millisecond {
		t.Fatalf("time scale not applied: %v", tu.TickStep())
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := map[string]func(*Tuning){
		"lanes":      func(t *Tuning) { t.Grid.Lanes = 0 },
		"distance":   func(t *Tuning) { t.Grid.Distance = -5 },
		"bounds":     func(t *Tuning) { t.Bounds.XMax = t.Bounds.XMin },
		"delta":      func(t *Tuning) { t.DeltaSpeed = -0.1 },
		"agents":     func(t *Tuning) { t.Run.Agents = 0 },
		"speed":      func(t *Tuning) { t.Speed = rng.SpeedSpec{Model: "warp"} },
		"start":      func(t *Tuning) { t.Starts = []Point{{X: 500, Y: 1}} },
		"tick":       func(t *Tuning) { t.Run.TickRateHz = 0 },
		"time_scale": func(t *Tuning) { t.Run.TimeScale = 0 },
	}
	for name, mutate := range cases {
		tu := Defaults()
		mutate(&tu)
		if err := tu.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("grid: [1, 2"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFleetConfig(t *testing.T) {
	tu := Defaults()
	tu.Run.Agents = 3
	tu.Run.TimeScale = 2
	tu.Starts = []Point{{X: 10, Y: 20}}
	cfg, err := tu.Fleet()
	if err != nil {
		t.Fatalf("Fleet: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fleet config invalid: %v", err)
	}
	if cfg.Agents != 3 || cfg.Seed != 1 || cfg.TickStep != 200*time.Millisecond {
		t.Fatalf("unexpected fleet config: %+v", cfg)
	}
	if len(cfg.Starts) != 1 || cfg.Starts[0].X != 10 || cfg.Starts[0].Y != 20 {
		t.Fatalf("starts=%v", cfg.Starts)
	}
}
