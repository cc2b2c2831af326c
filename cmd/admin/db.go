package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type dbQuery struct {
	Limit int
	Agent string
	Kind  string
}

const dbUsage = "usage: admin db [-data ./data] [-run RUN|-db PATH] [-agent A1] [-kind turn] [-limit N] runs|snapshots|ticks|decisions|turns"

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	agent := fs.String("agent", "", "agent_id filter (decisions, turns)")
	kind := fs.String("kind", "", "decision kind filter: turn, realign or rebound (decisions)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "runs", *runID, "index", "run.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	err = runQuery(db, q, dbQuery{Limit: *limit, Agent: strings.TrimSpace(*agent), Kind: strings.TrimSpace(*kind)}, os.Stdout)
	if err == errUnknownQuery {
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, dbUsage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var errUnknownQuery = fmt.Errorf("unknown query")

// runQuery prints the rows of query q as JSON lines to w.
func runQuery(db *sql.DB, q string, opt dbQuery, w io.Writer) error {
	if opt.Limit <= 0 {
		opt.Limit = 20
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,seed,agents,tuning_digest,started_at FROM runs ORDER BY started_at DESC LIMIT ?`, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID     string `json:"run_id"`
				Seed      int64  `json:"seed"`
				Agents    int    `json:"agents"`
				Digest    string `json:"tuning_digest"`
				StartedAt string `json:"started_at"`
			}
			if err := rows.Scan(&r.RunID, &r.Seed, &r.Agents, &r.Digest, &r.StartedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "snapshots":
		rows, err := db.Query(`SELECT tick,time_ns,run_id,path,seed,agents FROM snapshots ORDER BY tick DESC LIMIT ?`, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick   int64  `json:"tick"`
				TimeNS int64  `json:"time_ns"`
				RunID  string `json:"run_id"`
				Path   string `json:"path"`
				Seed   int64  `json:"seed"`
				Agents int    `json:"agents"`
			}
			if err := rows.Scan(&r.Tick, &r.TimeNS, &r.RunID, &r.Path, &r.Seed, &r.Agents); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,time_ns,digest,samples,decisions FROM ticks ORDER BY tick DESC LIMIT ?`, opt.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64  `json:"tick"`
				TimeNS    int64  `json:"time_ns"`
				Digest    string `json:"digest"`
				Samples   int    `json:"samples"`
				Decisions int    `json:"decisions"`
			}
			if err := rows.Scan(&r.Tick, &r.TimeNS, &r.Digest, &r.Samples, &r.Decisions); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "decisions":
		var (
			where []string
			args  []any
		)
		if opt.Agent != "" {
			where = append(where, "agent_id=?")
			args = append(args, opt.Agent)
		}
		if opt.Kind != "" {
			where = append(where, "kind=?")
			args = append(args, opt.Kind)
		}
		stmt := `SELECT tick,seq,agent_id,t_ns,kind,turn,next,COALESCE(side,''),x,y FROM decisions`
		if len(where) > 0 {
			stmt += ` WHERE ` + strings.Join(where, " AND ")
		}
		stmt += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, opt.Limit)

		rows, err := db.Query(stmt, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick  int64   `json:"tick"`
				Seq   int     `json:"seq"`
				Agent string  `json:"agent_id"`
				TNS   int64   `json:"t_ns"`
				Kind  string  `json:"kind"`
				Turn  string  `json:"turn"`
				Next  string  `json:"next"`
				Side  string  `json:"side,omitempty"`
				X     float64 `json:"x"`
				Y     float64 `json:"y"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Agent, &r.TNS, &r.Kind, &r.Turn, &r.Next, &r.Side, &r.X, &r.Y); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()

	case "turns":
		// Executed turns per agent: the empirical counterpart of the
		// reinforced turn probabilities.
		stmt := `SELECT agent_id,
			SUM(CASE WHEN turn='straight' THEN 1 ELSE 0 END),
			SUM(CASE WHEN turn='right' THEN 1 ELSE 0 END),
			SUM(CASE WHEN turn='left' THEN 1 ELSE 0 END)
			FROM decisions WHERE kind='turn'`
		var args []any
		if opt.Agent != "" {
			stmt += ` AND agent_id=?`
			args = append(args, opt.Agent)
		}
		stmt += ` GROUP BY agent_id ORDER BY agent_id`
		rows, err := db.Query(stmt, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Agent    string `json:"agent_id"`
				Straight int    `json:"straight"`
				Right    int    `json:"right"`
				Left     int    `json:"left"`
			}
			if err := rows.Scan(&r.Agent, &r.Straight, &r.Right, &r.Left); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			_ = enc.Encode(r)
		}
		return rows.Err()
	}
	return errUnknownQuery
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
