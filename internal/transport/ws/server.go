// Package ws serves the push feed: one websocket per viewer, carrying
// full-document SESSION frames and MOVE inserts for a single session
// after a HELLO/WELCOME handshake.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"starsteps.app/internal/engine"
	"starsteps.app/internal/protocol"
)

const (
	handshakeWait = 5 * time.Second
	writeWait     = 5 * time.Second
	readWait      = 60 * time.Second
	pingPeriod    = readWait * 9 / 10
	outQueue      = 16
)

type Server struct {
	engine *engine.Engine
	log    *log.Logger

	// Keepalive timing; the feed is one-way, so without server pings an
	// idle viewer would trip the read deadline.
	readWait   time.Duration
	pingPeriod time.Duration

	upgrader websocket.Upgrader
}

func NewServer(e *engine.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		engine:     e,
		log:        logger,
		readWait:   readWait,
		pingPeriod: pingPeriod,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, subID, out := s.handshake(r.Context(), conn)
		if out == nil {
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.engine.Unsubscribe(ctx, sessionID, subID)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. The ping ticker is the keepalive: clients send
		// nothing after HELLO, so their pong replies are the only reads.
		go func() {
			ping := time.NewTicker(s.pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						cancel()
						return
					}
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Pongs refresh the deadline inside their handler
		// because ReadMessage never returns on control frames.
		_ = conn.SetReadDeadline(time.Now().Add(s.readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.readWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.readWait))
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (sessionID string, subID uint64, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", 0, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return "", 0, nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", 0, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return "", 0, nil
	}
	if hello.SessionID == "" || hello.PlayerID == "" {
		closePolicy(conn, "session_id and player_id required")
		return "", 0, nil
	}

	out = make(chan []byte, outQueue)
	subCtx, cancel := context.WithTimeout(ctx, handshakeWait)
	defer cancel()
	subID, doc, found, err := s.engine.Subscribe(subCtx, hello.SessionID, out)
	if err != nil || !found {
		closePolicy(conn, "session not found")
		return "", 0, nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       hello.SessionID,
		PlayerID:        hello.PlayerID,
		Session:         doc,
	}
	if err := writeJSON(conn, welcome); err != nil {
		unsubCtx, cancel2 := context.WithTimeout(context.Background(), time.Second)
		defer cancel2()
		_ = s.engine.Unsubscribe(unsubCtx, hello.SessionID, subID)
		return "", 0, nil
	}
	return hello.SessionID, subID, out
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
