package main

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gridmobility/internal/protocol"
	"gridmobility/internal/sim/fleet"
	"gridmobility/internal/sim/mobility"
	"gridmobility/internal/transport/ws"
)

func TestLatestSnapshot(t *testing.T) {
	runDir := t.TempDir()
	if got := latestSnapshot(runDir); got != "" {
		t.Fatalf("empty dir: got %q", got)
	}
	dir := filepath.Join(runDir, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"3000.snap.zst", "12000.snap.zst", "9000.snap.zst", "notes.txt", "x.snap.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got, want := latestSnapshot(runDir), filepath.Join(dir, "12000.snap.zst"); got != want {
		t.Fatalf("latest=%q want %q", got, want)
	}
}

func TestRunStatsAndMetrics(t *testing.T) {
	s := &runStats{agents: 2}
	_ = s.WriteTick(fleet.TickLogEntry{
		Tick:    4,
		TimeNS:  500_000_000,
		Samples: make([]fleet.AgentSample, 3),
		Decisions: []fleet.AgentDecision{
			{Decision: mobility.Decision{Kind: mobility.DecisionTurn}},
			{Decision: mobility.Decision{Kind: mobility.DecisionRebound}},
			{Decision: mobility.Decision{Kind: mobility.DecisionTurn}},
		},
	})
	st := s.summary(1)
	if st.Tick != 5 || st.Samples != 3 || st.Turns != 2 || st.Rebounds != 1 || st.Observers != 1 || st.SimTimeS != 0.5 {
		t.Fatalf("unexpected summary: %+v", st)
	}

	rec := httptest.NewRecorder()
	writeMetrics(rec, "r1", s, ws.NewServer("r1", protocol.RunParams{}), nil)
	body := rec.Body.String()
	for _, want := range []string{
		`gridmobility_tick{run="r1"} 5`,
		`gridmobility_decisions_total{run="r1",kind="turn"} 2`,
		`gridmobility_samples_total{run="r1"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "gridmobility_index_") {
		t.Fatalf("index metrics without an index:\n%s", body)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
