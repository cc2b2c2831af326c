package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gridmobility/internal/sim/geom"
	"gridmobility/internal/sim/mobility"
	"gridmobility/internal/sim/turn"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(filepath.Join(dir, "snapshots"), 42)
	if filepath.Base(path) != "42.snap.zst" {
		t.Fatalf("path=%s", path)
	}

	in := SnapshotV1{
		Header:        Header{Version: Version, RunID: "run_1", Tick: 42, TimeNS: int64(4200 * time.Millisecond), Agents: 1},
		Seed:          7,
		TickRate:      10,
		TickStepNS:    int64(100 * time.Millisecond),
		Lanes:         2,
		Intersections: 1,
		Distance:      500,
		Bounds:        [4]float64{0, 100, 0, 100},
		DeltaSpeed:    5.556,
		LookaheadNS:   int64(100 * time.Millisecond),
		Agents: []AgentV1{{
			ID: "A1",
			Model: mobility.State{
				Helper:      geom.HelperState{Position: geom.Vec2{X: 10, Y: 20}, Velocity: geom.Vec2{X: 17}},
				Counters:    turn.Counters{Trials: 100, Straight: 40, Right: 35, Left: 25},
				Pending:     turn.Left,
				Phase:       mobility.PhaseRealign,
				Jitter:      1.25,
				Initialized: true,
				Started:     true,
			},
			DecisionStream: []byte{1, 2, 3},
		}},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h != in.Header {
		t.Fatalf("header=%+v want %+v", h, in.Header)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Seed != 7 || out.Distance != 500 || out.Bounds != in.Bounds || len(out.Agents) != 1 {
		t.Fatalf("snapshot mismatch: %+v", out)
	}
	a := out.Agents[0]
	if a.ID != "A1" || a.Model.Pending != turn.Left || a.Model.Phase != mobility.PhaseRealign {
		t.Fatalf("agent mismatch: %+v", a)
	}
	if a.Model.Counters != in.Agents[0].Model.Counters || a.Model.Helper.Position != (geom.Vec2{X: 10, Y: 20}) {
		t.Fatalf("model state mismatch: %+v", a.Model)
	}
	if string(a.DecisionStream) != "\x01\x02\x03" {
		t.Fatalf("decision stream=%v", a.DecisionStream)
	}
}

func TestReadSnapshot_RejectsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 99, Tick: 1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestReadHeader_NotZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap.zst")
	if err := os.WriteFile(path, []byte("{\"version\":1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHeader(path); err == nil {
		t.Fatalf("expected error for uncompressed file")
	}
}
