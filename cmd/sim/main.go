package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridmobility/internal/logging"
	"gridmobility/internal/sim/tuning"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		duration   = flag.Duration("duration", 10*time.Minute, "simulated time to run")
		outDir     = flag.String("out", "", "write events/decisions logs and snapshots under this run dir (optional)")
		seed       = flag.Uint64("seed", 0, "override run.seed (0 keeps tuning)")
		agents     = flag.Int("agents", 0, "override run.agents (0 keeps tuning)")
		snapEvery  = flag.Int("snapshot_every", -1, "override run.snapshot_every_ticks (-1 keeps tuning)")
		logLevel   = flag.String("log_level", "warn", "log level")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

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
	if *snapEvery >= 0 {
		tune.Run.SnapshotEveryTicks = *snapEvery
	}

	sum, err := run(options{
		Tuning:   tune,
		Duration: *duration,
		OutDir:   *outDir,
		RunID:    uuid.NewString(),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("sim", zap.Error(err))
		fmt.Fprintln(os.Stderr, "sim:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)
}
