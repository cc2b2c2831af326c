package main

import (
	"errors"
	"fmt"
	"path/filepath"

	persistlog "gridmobility/internal/persistence/log"
	"gridmobility/internal/persistence/snapshot"
	"gridmobility/internal/sim/fleet"
	"gridmobility/internal/sim/tuning"
)

type verifyOptions struct {
	Tuning    tuning.Tuning
	Snapshot  string
	EventsDir string
	FromTick  uint64
	ToTick    uint64
}

type verifyResult struct {
	StartTick uint64
	Checked   uint64
}

var errStop = errors.New("stop")

// verify re-simulates the fleet and compares every logged tick digest.
func verify(o verifyOptions) (verifyResult, error) {
	cfg, err := o.Tuning.Fleet()
	if err != nil {
		return verifyResult{}, err
	}
	cfg.SnapshotEveryTicks = 0

	var f *fleet.Fleet
	if o.Snapshot != "" {
		snap, err := snapshot.ReadSnapshot(o.Snapshot)
		if err != nil {
			return verifyResult{}, fmt.Errorf("read snapshot: %w", err)
		}
		f, err = fleet.FromSnapshot(cfg, snap)
		if err != nil {
			return verifyResult{}, fmt.Errorf("import snapshot: %w", err)
		}
	} else {
		f, err = fleet.New(cfg)
		if err != nil {
			return verifyResult{}, err
		}
	}

	res := verifyResult{StartTick: f.Tick()}
	verifyFrom := o.FromTick
	if verifyFrom == 0 {
		verifyFrom = res.StartTick
	}

	files, err := persistlog.ListFiles(o.EventsDir, "events")
	if err != nil {
		return res, fmt.Errorf("list events: %w", err)
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no events files found in %s", o.EventsDir)
	}

	for _, path := range files {
		err := persistlog.ReadTicks(path, func(entry fleet.TickLogEntry) error {
			if entry.Tick < res.StartTick {
				return nil
			}
			if o.ToTick != 0 && entry.Tick > o.ToTick {
				return errStop
			}
			if entry.Tick != f.Tick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", f.Tick(), entry.Tick, filepath.Base(path))
			}
			tick, got := f.StepOnce()
			if tick >= verifyFrom {
				res.Checked++
				if got != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, got, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return res, err
		}
	}
	return res, nil
}
