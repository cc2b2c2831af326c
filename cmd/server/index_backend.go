package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gridmobility/internal/persistence/indexdb"
	"gridmobility/internal/persistence/snapshot"
	"gridmobility/internal/sim/fleet"
	"gridmobility/internal/sim/tuning"
)

type runtimeIndex interface {
	fleet.TickLogger
	Close() error
	RecordRun(runID string, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	Stats() indexdb.Stats
}

func openRuntimeIndex(runDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("GM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(runDir, "index", "run.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported GM_INDEX_BACKEND: %s", backend)
	}
}
