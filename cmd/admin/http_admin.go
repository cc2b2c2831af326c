package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// runState mirrors the server's /admin/v1/state body.
type runState struct {
	RunID string `json:"run_id"`
	State struct {
		Tick      uint64  `json:"tick"`
		SimTimeS  float64 `json:"sim_time_s"`
		Agents    int     `json:"agents"`
		Observers int     `json:"observers"`
		Samples   uint64  `json:"samples"`
		Turns     uint64  `json:"turns"`
		Realigns  uint64  `json:"realigns"`
		Rebounds  uint64  `json:"rebounds"`
		Snapshots uint64  `json:"snapshots"`
	} `json:"state"`
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	timeout := fs.Duration("timeout", 3*time.Second, "request timeout")
	raw := fs.Bool("json", false, "print the raw JSON body")
	_ = fs.Parse(args)

	st, body, err := fetchState(&http.Client{Timeout: *timeout}, *baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	if *raw {
		fmt.Println(strings.TrimSpace(string(body)))
		return
	}
	writeState(os.Stdout, st)
}

func fetchState(cl *http.Client, baseURL string) (runState, []byte, error) {
	var st runState
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/state"
	resp, err := cl.Get(u)
	if err != nil {
		return st, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return st, nil, err
	}
	if resp.StatusCode/100 != 2 {
		return st, body, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, body, fmt.Errorf("decode: %w", err)
	}
	return st, body, nil
}

func writeState(w io.Writer, st runState) {
	s := st.State
	fmt.Fprintf(w, "run %s tick=%d sim_time=%.1fs agents=%d observers=%d\n",
		st.RunID, s.Tick, s.SimTimeS, s.Agents, s.Observers)
	fmt.Fprintf(w, "samples=%d turns=%d realigns=%d rebounds=%d snapshots=%d\n",
		s.Samples, s.Turns, s.Realigns, s.Rebounds, s.Snapshots)
}
