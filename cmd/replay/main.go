package main

import (
	"flag"
	"fmt"
	"os"

	"gridmobility/internal/persistence/snapshot"
	"gridmobility/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst to start from (optional; default: tick 0 from tuning)")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed       = flag.Uint64("seed", 0, "override run.seed (0 keeps tuning)")
		agents     = flag.Int("agents", 0, "override run.agents (0 keeps tuning)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if *seed != 0 {
		tune.Run.Seed = *seed
	}
	if *agents > 0 {
		tune.Run.Agents = *agents
		tune.Starts = nil
	}

	if *snapPath != "" {
		h, err := snapshot.ReadHeader(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d run=%s tick=%d time=%.1fs agents=%d\n",
			h.Version, h.RunID, h.Tick, float64(h.TimeNS)/1e9, h.Agents)
	}
	if *eventsDir == "" {
		if *snapPath == "" {
			fmt.Fprintln(os.Stderr, "missing -events")
			os.Exit(2)
		}
		return
	}

	res, err := verify(verifyOptions{
		Tuning:    tune,
		Snapshot:  *snapPath,
		EventsDir: *eventsDir,
		FromTick:  *fromTick,
		ToTick:    *toTick,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d)\n", res.Checked, res.StartTick)
}
