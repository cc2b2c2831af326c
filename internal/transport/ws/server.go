package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridmobility/internal/protocol"
	"gridmobility/internal/sim/fleet"
)

type frame struct {
	binary bool
	b      []byte
}

type client struct {
	id       string
	encoding string
	agents   map[string]bool // nil: all agents
	out      chan frame
}

type Server struct {
	log    *zap.Logger
	params protocol.RunParams
	runID  string

	upgrader     websocket.Upgrader
	maxClients   int
	pingInterval time.Duration
	pongWait     time.Duration

	nextID atomic.Uint64
	tick   atomic.Uint64

	mu      sync.Mutex
	clients map[string]*client
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMaxClients(n int) Option { return func(s *Server) { s.maxClients = n } }

// WithKeepalive sets how often observers are pinged and how long the server
// waits for any frame (pongs included) before dropping one. ping must be
// shorter than wait.
func WithKeepalive(ping, wait time.Duration) Option {
	return func(s *Server) {
		if ping > 0 && wait > ping {
			s.pingInterval = ping
			s.pongWait = wait
		}
	}
}

func NewServer(runID string, params protocol.RunParams, opts ...Option) *Server {
	s := &Server{
		log:    zap.NewNop(),
		params: params,
		runID:  runID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		maxClients:   256,
		pingInterval: 20 * time.Second,
		pongWait:     60 * time.Second,
		clients:      map[string]*client{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		defer s.unregister(c.id)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Observers only listen, so the read deadline is kept alive by pongs.
		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongWait))
		})

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(s.pingInterval)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						writeErr <- err
						_ = conn.Close() // unblocks the reader
						return
					}
				case f := <-c.out:
					typ := websocket.TextMessage
					if f.binary {
						typ = websocket.BinaryMessage
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(typ, f.b); err != nil {
						writeErr <- err
						_ = conn.Close() // unblocks the reader
						return
					}
				}
			}
		}()

		// Reader loop: drives the pong handler and detects the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		}

		cancel()
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Debug("observer left", zap.String("session", c.id))
	}
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "want protocol_version "+protocol.Version)
		return nil
	}
	switch hello.Encoding {
	case "":
		hello.Encoding = protocol.EncodingJSON
	case protocol.EncodingJSON, protocol.EncodingProto:
	default:
		reject(conn, protocol.ErrBadEncoding, fmt.Sprintf("unknown encoding %q", hello.Encoding))
		return nil
	}

	var agents map[string]bool
	if len(hello.Agents) > 0 {
		known := map[string]bool{}
		for _, id := range s.params.Agents {
			known[id] = true
		}
		agents = map[string]bool{}
		for _, id := range hello.Agents {
			if !known[id] {
				reject(conn, protocol.ErrUnknownAgent, id)
				return nil
			}
			agents[id] = true
		}
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	c := &client{
		id:       fmt.Sprintf("S%d", s.nextID.Add(1)),
		encoding: hello.Encoding,
		agents:   agents,
		out:      make(chan frame, maxQ),
	}
	if !s.register(c) {
		reject(conn, protocol.ErrServerBusy, "too many observers")
		return nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       c.id,
		RunID:           s.runID,
		Encoding:        c.encoding,
		Tick:            s.tick.Load(),
		Params:          s.params,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.unregister(c.id)
		return nil
	}
	s.log.Debug("observer joined",
		zap.String("session", c.id),
		zap.String("client", hello.ClientName),
		zap.String("encoding", c.encoding),
		zap.Int("agents", len(agents)),
	)
	return c
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxClients > 0 && len(s.clients) >= s.maxClients {
		return false
	}
	s.clients[c.id] = c
	return true
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// WriteTick fans a tick out to every observer. It never blocks: a slow
// observer loses its oldest queued frame.
func (s *Server) WriteTick(entry fleet.TickLogEntry) error {
	s.tick.Store(entry.Tick + 1)

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	if len(clients) == 0 {
		return nil
	}

	full := TickMessage(entry)
	var jsonFull, protoFull []byte
	for _, c := range clients {
		msg := full
		if c.agents != nil {
			msg = filterTick(full, c.agents)
		}
		var f frame
		switch c.encoding {
		case protocol.EncodingProto:
			if c.agents == nil {
				if protoFull == nil {
					protoFull = protocol.MarshalTick(full)
				}
				f = frame{binary: true, b: protoFull}
			} else {
				f = frame{binary: true, b: protocol.MarshalTick(msg)}
			}
		default:
			if c.agents == nil && jsonFull != nil {
				f = frame{b: jsonFull}
				break
			}
			b, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if c.agents == nil {
				jsonFull = b
			}
			f = frame{b: b}
		}
		sendLatest(c.out, f)
	}
	return nil
}

// TickMessage converts a fleet tick to its observer form.
func TickMessage(e fleet.TickLogEntry) protocol.TickMsg {
	m := protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Tick:            e.Tick,
		TimeNS:          e.TimeNS,
		Digest:          e.Digest,
	}
	if len(e.Samples) > 0 {
		m.Samples = make([]protocol.SampleFrame, len(e.Samples))
		for i, smp := range e.Samples {
			m.Samples[i] = protocol.SampleFrame{
				Agent:   smp.Agent,
				TimeNS:  int64(smp.Time),
				Pos:     [2]float64{smp.Position.X, smp.Position.Y},
				Vel:     [2]float64{smp.Velocity.X, smp.Velocity.Y},
				Phase:   smp.Phase.String(),
				Pending: smp.Pending.String(),
			}
		}
	}
	if len(e.Decisions) > 0 {
		m.Decisions = make([]protocol.DecisionFrame, len(e.Decisions))
		for i, d := range e.Decisions {
			m.Decisions[i] = protocol.DecisionFrame{
				Agent:  d.Agent,
				TimeNS: int64(d.Time),
				Kind:   string(d.Kind),
				Turn:   d.Turn.String(),
				Next:   d.Next.String(),
				Side:   d.Side,
				Pos:    [2]float64{d.Position.X, d.Position.Y},
				Vel:    [2]float64{d.Velocity.X, d.Velocity.Y},
			}
		}
	}
	return m
}

func filterTick(m protocol.TickMsg, agents map[string]bool) protocol.TickMsg {
	out := m
	out.Samples = nil
	out.Decisions = nil
	for _, smp := range m.Samples {
		if agents[smp.Agent] {
			out.Samples = append(out.Samples, smp)
		}
	}
	for _, d := range m.Decisions {
		if agents[d.Agent] {
			out.Decisions = append(out.Decisions, d)
		}
	}
	return out
}

func sendLatest(ch chan frame, f frame) {
	select {
	case ch <- f:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
}

func reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
