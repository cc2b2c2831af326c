package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gridmobility/internal/persistence/snapshot"
	"gridmobility/internal/sim/fleet"
	"gridmobility/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     fleet.TickLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick   uint64
	TimeNS int64
	RunID  string
	Path   string
	Seed   uint64
	Agents int
}

// Stats reports the writer queue and what it had to drop.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	WriteErrorTotal   uint64 `json:"write_error_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// A few minutes of ticks at 10 Hz; bursts of turns must not stall the fleet.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			time_ns INTEGER NOT NULL,
			digest TEXT NOT NULL,
			samples INTEGER NOT NULL,
			decisions INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS samples (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			t_ns INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			vx REAL NOT NULL,
			vy REAL NOT NULL,
			phase TEXT NOT NULL,
			pending TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_agent_tick ON samples(agent_id, tick);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			t_ns INTEGER NOT NULL,
			kind TEXT NOT NULL,
			turn TEXT NOT NULL,
			next TEXT NOT NULL,
			side TEXT,
			x REAL NOT NULL,
			y REAL NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_agent_tick ON decisions(agent_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_kind ON decisions(kind, turn);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			time_ns INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			agents INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry fleet.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:   snap.Header.Tick,
		TimeNS: snap.Header.TimeNS,
		RunID:  snap.Header.RunID,
		Path:   path,
		Seed:   snap.Seed,
		Agents: len(snap.Agents),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// RecordRun stores the tuning a run was started with. It writes
// synchronously: runs are recorded once, before the first tick.
func (s *SQLiteIndex) RecordRun(runID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	if runID == "" {
		return fmt.Errorf("empty run id")
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs(run_id,seed,agents,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?,?)`,
		runID, int64(tune.Run.Seed), tune.Run.Agents, digest, string(b), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,time_ns,digest,samples,decisions,raw_json) VALUES(?,?,?,?,?,?)`)
	insertSample, _ := s.db.Prepare(`INSERT OR REPLACE INTO samples(tick,seq,agent_id,t_ns,x,y,vx,vy,phase,pending) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertDecision, _ := s.db.Prepare(`INSERT OR REPLACE INTO decisions(tick,seq,agent_id,t_ns,kind,turn,next,side,x,y) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,time_ns,run_id,path,seed,agents) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertSample, insertDecision, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			if !s.insertTick(tx, r.tick, insertTick, insertSample, insertDecision, &opCount) {
				rollback()
				continue
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.TimeNS,
					sn.RunID,
					sn.Path,
					int64(sn.Seed),
					sn.Agents,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}

func (s *SQLiteIndex) insertTick(tx *sql.Tx, e fleet.TickLogEntry, tickStmt, sampleStmt, decisionStmt *sql.Stmt, ops *int) bool {
	tick := int64(e.Tick)
	if tickStmt != nil {
		b, _ := json.Marshal(e)
		if _, err := tx.Stmt(tickStmt).Exec(tick, e.TimeNS, e.Digest, len(e.Samples), len(e.Decisions), string(b)); err != nil {
			return false
		}
		*ops++
	}
	if sampleStmt != nil {
		st := tx.Stmt(sampleStmt)
		for i, smp := range e.Samples {
			if _, err := st.Exec(
				tick, i, smp.Agent, int64(smp.Time),
				smp.Position.X, smp.Position.Y,
				smp.Velocity.X, smp.Velocity.Y,
				smp.Phase.String(), smp.Pending.String(),
			); err != nil {
				return false
			}
			*ops++
		}
	}
	if decisionStmt != nil {
		st := tx.Stmt(decisionStmt)
		for i, d := range e.Decisions {
			if _, err := st.Exec(
				tick, i, d.Agent, int64(d.Time),
				string(d.Kind), d.Turn.String(), d.Next.String(), d.Side,
				d.Position.X, d.Position.Y,
			); err != nil {
				return false
			}
			*ops++
		}
	}
	return true
}
