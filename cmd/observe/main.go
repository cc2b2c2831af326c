package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gridmobility/internal/logging"
	"gridmobility/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "observe", "client name")
		encoding = flag.String("encoding", protocol.EncodingJSON, "tick encoding: json or proto")
		agents   = flag.String("agents", "", "comma separated agent ids to follow (default: all)")
		samples  = flag.Bool("samples", false, "print every sample, not only decisions")
	)
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Encoding:        *encoding,
		MaxQueue:        16,
	}
	for _, id := range strings.Split(*agents, ",") {
		if id = strings.TrimSpace(id); id != "" {
			hello.Agents = append(hello.Agents, id)
		}
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	// Server pings are answered by gorilla's default handler while reading.
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ == websocket.BinaryMessage {
			tick, err := protocol.UnmarshalTick(msg)
			if err != nil {
				logger.Warn("bad frame", zap.Error(err))
				continue
			}
			printTick(tick, *samples)
			continue
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Info("WELCOME",
				zap.String("session", w.SessionID),
				zap.String("run", w.RunID),
				zap.Uint64("tick", w.Tick),
				zap.Int("agents", len(w.Params.Agents)),
				zap.Float64("distance", w.Params.Distance),
			)
		case protocol.TypeTick:
			var tick protocol.TickMsg
			if err := json.Unmarshal(msg, &tick); err != nil {
				continue
			}
			printTick(tick, *samples)
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			logger.Error("server error", zap.String("code", e.Code), zap.String("message", e.Message))
			return
		}
	}
}

func printTick(t protocol.TickMsg, samples bool) {
	if samples {
		for _, s := range t.Samples {
			fmt.Printf("%d %s t=%.3f pos=(%.2f,%.2f) vel=(%.2f,%.2f) %s next=%s\n",
				t.Tick, s.Agent, float64(s.TimeNS)/1e9, s.Pos[0], s.Pos[1], s.Vel[0], s.Vel[1], s.Phase, s.Pending)
		}
	}
	for _, d := range t.Decisions {
		side := ""
		if d.Side != "" {
			side = " side=" + d.Side
		}
		fmt.Printf("%d %s t=%.3f %s %s -> next=%s at (%.2f,%.2f)%s\n",
			t.Tick, d.Agent, float64(d.TimeNS)/1e9, d.Kind, d.Turn, d.Next, d.Pos[0], d.Pos[1], side)
	}
}
