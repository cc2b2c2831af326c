package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	// Encoding selects TICK frames: "json" (text, default) or "proto"
	// (binary, see MarshalTick).
	Encoding string `json:"encoding,omitempty"`
	MaxQueue int    `json:"max_queue,omitempty"`
	// Agents restricts the stream to these agent ids. Empty means all.
	Agents []string `json:"agents,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	RunID           string    `json:"run_id"`
	Encoding        string    `json:"encoding"`
	Tick            uint64    `json:"tick"`
	Params          RunParams `json:"params"`
}

type RunParams struct {
	Seed          uint64     `json:"seed"`
	TickRateHz    int        `json:"tick_rate_hz"`
	Lanes         int        `json:"lanes"`
	Intersections int        `json:"intersections"`
	Distance      float64    `json:"distance"`
	Bounds        [4]float64 `json:"bounds"` // x_min, x_max, y_min, y_max
	Agents        []string   `json:"agents"`
}

// TICK (server -> client): everything the fleet emitted during one tick.
type TickMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Tick            uint64          `json:"tick"`
	TimeNS          int64           `json:"time_ns"`
	Digest          string          `json:"digest"`
	Samples         []SampleFrame   `json:"samples"`
	Decisions       []DecisionFrame `json:"decisions"`
}

type SampleFrame struct {
	Agent   string     `json:"agent"`
	TimeNS  int64      `json:"t_ns"`
	Pos     [2]float64 `json:"pos"`
	Vel     [2]float64 `json:"vel"`
	Phase   string     `json:"phase"`
	Pending string     `json:"pending"`
}

type DecisionFrame struct {
	Agent  string     `json:"agent"`
	TimeNS int64      `json:"t_ns"`
	Kind   string     `json:"kind"`
	Turn   string     `json:"turn"`
	Next   string     `json:"next"`
	Side   string     `json:"side,omitempty"`
	Pos    [2]float64 `json:"pos"`
	Vel    [2]float64 `json:"vel"`
}

// ERROR (server -> client), sent before the server closes a session.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
