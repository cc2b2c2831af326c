package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gridmobility/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "runs")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		runDir := filepath.Join(base, e.Name())
		latest := latestSnapshot(runDir)
		if latest == "" {
			fmt.Println(e.Name())
			continue
		}
		fmt.Printf("%s latest_snapshot=%s\n", e.Name(), filepath.Base(latest))
	}
}

// snapshotCmd prints a snapshot's header and per-agent state as JSON lines.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (used when -snapshot is empty)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest of -run)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -snapshot or -run")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "runs", *runID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(snap.Header)
	for _, r := range agentRows(snap) {
		printJSON(r)
	}
}

type agentRow struct {
	ID       string     `json:"id"`
	Position [2]float64 `json:"pos"`
	Velocity [2]float64 `json:"vel"`
	Phase    string     `json:"phase"`
	Pending  string     `json:"pending"`
	Trials   int        `json:"trials"`
	Straight int        `json:"straight"`
	Right    int        `json:"right"`
	Left     int        `json:"left"`
}

func agentRows(snap snapshot.SnapshotV1) []agentRow {
	out := make([]agentRow, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		st := a.Model
		out = append(out, agentRow{
			ID:       a.ID,
			Position: [2]float64{st.Helper.Position.X, st.Helper.Position.Y},
			Velocity: [2]float64{st.Helper.Velocity.X, st.Helper.Velocity.Y},
			Phase:    st.Phase.String(),
			Pending:  st.Pending.String(),
			Trials:   st.Counters.Trials,
			Straight: st.Counters.Straight,
			Right:    st.Counters.Right,
			Left:     st.Counters.Left,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func latestSnapshot(runDir string) string {
	dir := filepath.Join(runDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
