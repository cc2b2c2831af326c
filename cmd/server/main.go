package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gridmobility/internal/logging"
	persistlog "gridmobility/internal/persistence/log"
	"gridmobility/internal/persistence/snapshot"
	"gridmobility/internal/protocol"
	"gridmobility/internal/sim/fleet"
	"gridmobility/internal/sim/mobility"
	"gridmobility/internal/sim/tuning"
	"gridmobility/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		runID      = flag.String("run", "", "run id (default: new uuid, or the resumed snapshot's run)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		seed       = flag.Uint64("seed", 0, "override run.seed (0 keeps tuning)")
		agents     = flag.Int("agents", 0, "override run.agents (0 keeps tuning)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "resume from the latest snapshot of -run if present (when -snapshot is empty)")

		logLevel  = flag.String("log_level", "info", "log level")
		logFormat = flag.String("log_format", "json", "log format: json or console")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatal("load tuning", zap.String("path", *tuningPath), zap.Error(err))
	}
	if *seed != 0 {
		tune.Run.Seed = *seed
	}
	if *agents > 0 {
		tune.Run.Agents = *agents
		tune.Starts = nil
	}
	fcfg, err := tune.Fleet()
	if err != nil {
		logger.Fatal("fleet config", zap.Error(err))
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	id := strings.TrimSpace(*runID)
	if snapshotToLoad == "" && id != "" && *loadLatest {
		snapshotToLoad = latestSnapshot(filepath.Join(*dataDir, "runs", id))
	}

	var f *fleet.Fleet
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatal("read snapshot", zap.String("path", snapshotToLoad), zap.Error(err))
		}
		if id == "" {
			id = snap.Header.RunID
		}
		if id == "" {
			id = uuid.NewString()
		}
		f, err = fleet.FromSnapshot(fcfg, snap, fleet.WithLogger(logger), fleet.WithRunID(id))
		if err != nil {
			logger.Fatal("resume fleet", zap.Error(err))
		}
		logger.Info("resumed from snapshot",
			zap.String("snapshot", filepath.Base(snapshotToLoad)),
			zap.Uint64("tick", f.Tick()),
		)
	} else {
		if id == "" {
			id = uuid.NewString()
		}
		f, err = fleet.New(fcfg, fleet.WithLogger(logger), fleet.WithRunID(id))
		if err != nil {
			logger.Fatal("fleet", zap.Error(err))
		}
	}
	logger = logger.With(zap.String("run", id))

	runDir := filepath.Join(*dataDir, "runs", id)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		logger.Fatal("run dir", zap.Error(err))
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(runDir, *disableDB)
	if err != nil {
		logger.Fatal("open index backend", zap.Error(err))
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.RecordRun(id, tune); err != nil {
			logger.Warn("index backend: record run", zap.Error(err))
		}
	}

	tickLog := persistlog.NewTickLogger(runDir)
	decisionLog := persistlog.NewDecisionLogger(runDir)
	defer tickLog.Close()
	defer decisionLog.Close()

	cfg := f.Config()
	mc := cfg.Mobility
	obs := ws.NewServer(id, protocol.RunParams{
		Seed:          cfg.Seed,
		TickRateHz:    cfg.TickRateHz,
		Lanes:         mc.Grid.Lanes,
		Intersections: mc.Grid.Intersections,
		Distance:      mc.Grid.Distance,
		Bounds:        [4]float64{mc.Bounds.XMin(), mc.Bounds.XMax(), mc.Bounds.YMin(), mc.Bounds.YMax()},
		Agents:        f.AgentIDs(),
	}, ws.WithLogger(logger))

	stats := &runStats{agents: len(f.AgentIDs())}
	stats.tick.Store(f.Tick())

	f.SetTickLogger(tickLog)
	f.SetTickLogger(decisionLog)
	if idx != nil {
		f.SetTickLogger(idx)
	}
	f.SetTickLogger(obs)
	f.SetTickLogger(stats)

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	f.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := snapshot.PathFor(filepath.Join(runDir, "snapshots"), snap.Header.Tick)
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Error("snapshot write", zap.Error(err))
					continue
				}
				stats.snapshots.Add(1)
				logger.Info("snapshot", zap.Uint64("tick", snap.Header.Tick), zap.String("path", path))
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := f.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("fleet stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, id, stats, obs, idx)
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			RunID string       `json:"run_id"`
			State stateSummary `json:"state"`
		}{
			RunID: id,
			State: stats.summary(obs.Clients()),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/v1/ws", obs.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening",
		zap.String("addr", *addr),
		zap.Int("agents", cfg.Agents),
		zap.Int("tick_rate_hz", cfg.TickRateHz),
		zap.Duration("tick_step", cfg.TickStep),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("ListenAndServe", zap.Error(err))
	}
}

// runStats is a tick logger that keeps counters for /metrics. It is written
// from the fleet goroutine and read from HTTP handlers.
type runStats struct {
	agents    int
	tick      atomic.Uint64
	simTimeNS atomic.Int64
	samples   atomic.Uint64
	turns     atomic.Uint64
	realigns  atomic.Uint64
	rebounds  atomic.Uint64
	snapshots atomic.Uint64
}

func (s *runStats) WriteTick(e fleet.TickLogEntry) error {
	s.tick.Store(e.Tick + 1)
	s.simTimeNS.Store(e.TimeNS)
	s.samples.Add(uint64(len(e.Samples)))
	for _, d := range e.Decisions {
		switch d.Kind {
		case mobility.DecisionTurn:
			s.turns.Add(1)
		case mobility.DecisionRealign:
			s.realigns.Add(1)
		case mobility.DecisionRebound:
			s.rebounds.Add(1)
		}
	}
	return nil
}

type stateSummary struct {
	Tick      uint64  `json:"tick"`
	SimTimeS  float64 `json:"sim_time_s"`
	Agents    int     `json:"agents"`
	Observers int     `json:"observers"`
	Samples   uint64  `json:"samples"`
	Turns     uint64  `json:"turns"`
	Realigns  uint64  `json:"realigns"`
	Rebounds  uint64  `json:"rebounds"`
	Snapshots uint64  `json:"snapshots"`
}

func (s *runStats) summary(observers int) stateSummary {
	return stateSummary{
		Tick:      s.tick.Load(),
		SimTimeS:  time.Duration(s.simTimeNS.Load()).Seconds(),
		Agents:    s.agents,
		Observers: observers,
		Samples:   s.samples.Load(),
		Turns:     s.turns.Load(),
		Realigns:  s.realigns.Load(),
		Rebounds:  s.rebounds.Load(),
		Snapshots: s.snapshots.Load(),
	}
}

func writeMetrics(rw http.ResponseWriter, runID string, s *runStats, obs *ws.Server, idx runtimeIndex) {
	st := s.summary(obs.Clients())

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP gridmobility_tick Next tick to run.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_tick gauge\n")
	fmt.Fprintf(rw, "gridmobility_tick{run=%q} %d\n", runID, st.Tick)

	fmt.Fprintf(rw, "# HELP gridmobility_sim_time_seconds Simulated time.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_sim_time_seconds gauge\n")
	fmt.Fprintf(rw, "gridmobility_sim_time_seconds{run=%q} %.3f\n", runID, st.SimTimeS)

	fmt.Fprintf(rw, "# HELP gridmobility_agents Number of agents.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_agents gauge\n")
	fmt.Fprintf(rw, "gridmobility_agents{run=%q} %d\n", runID, st.Agents)

	fmt.Fprintf(rw, "# HELP gridmobility_observers Connected observers.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_observers gauge\n")
	fmt.Fprintf(rw, "gridmobility_observers{run=%q} %d\n", runID, st.Observers)

	fmt.Fprintf(rw, "# HELP gridmobility_samples_total Course-change samples emitted.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_samples_total counter\n")
	fmt.Fprintf(rw, "gridmobility_samples_total{run=%q} %d\n", runID, st.Samples)

	fmt.Fprintf(rw, "# HELP gridmobility_decisions_total Turn, realign and rebound transitions.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_decisions_total counter\n")
	fmt.Fprintf(rw, "gridmobility_decisions_total{run=%q,kind=%q} %d\n", runID, "turn", st.Turns)
	fmt.Fprintf(rw, "gridmobility_decisions_total{run=%q,kind=%q} %d\n", runID, "realign", st.Realigns)
	fmt.Fprintf(rw, "gridmobility_decisions_total{run=%q,kind=%q} %d\n", runID, "rebound", st.Rebounds)

	fmt.Fprintf(rw, "# HELP gridmobility_snapshots_total Snapshots written.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_snapshots_total counter\n")
	fmt.Fprintf(rw, "gridmobility_snapshots_total{run=%q} %d\n", runID, st.Snapshots)

	if idx == nil {
		return
	}
	is := idx.Stats()
	fmt.Fprintf(rw, "# HELP gridmobility_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "gridmobility_index_queue_depth{run=%q} %d\n", runID, is.QueueDepth)

	fmt.Fprintf(rw, "# HELP gridmobility_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_index_dropped_total counter\n")
	fmt.Fprintf(rw, "gridmobility_index_dropped_total{run=%q,kind=%q} %d\n", runID, "tick", is.DropTickTotal)
	fmt.Fprintf(rw, "gridmobility_index_dropped_total{run=%q,kind=%q} %d\n", runID, "snapshot", is.DropSnapshotTotal)

	fmt.Fprintf(rw, "# HELP gridmobility_index_write_errors_total Index transactions that failed.\n")
	fmt.Fprintf(rw, "# TYPE gridmobility_index_write_errors_total counter\n")
	fmt.Fprintf(rw, "gridmobility_index_write_errors_total{run=%q} %d\n", runID, is.WriteErrorTotal)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
