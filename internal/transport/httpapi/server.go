// Package httpapi serves the poll reads and the three game commands over
// plain JSON HTTP. The websocket feed in transport/ws is the push side of
// the same document.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"starsteps.app/internal/engine"
	"starsteps.app/internal/protocol"
)

const requestTimeout = 5 * time.Second

type Server struct {
	engine *engine.Engine
	log    *log.Logger
}

func NewServer(e *engine.Engine, logger *log.Logger) *Server {
	return &Server{engine: e, log: logger}
}

// Register mounts the API on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/sessions/", s.handleSession)
}

func (s *Server) handleSessions(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req protocol.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "invalid json body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	ack, err := s.engine.Create(ctx, req.PlayerID, req.BoardSize)
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err.Error())
		return
	}
	writeAck(rw, ack)
}

func (s *Server) handleSession(rw http.ResponseWriter, r *http.Request) {
	// Patterns:
	//   GET  /v1/sessions/{id}
	//   GET  /v1/sessions/{id}/moves/latest
	//   POST /v1/sessions/{id}/{join|roll|confirm|verify}
	path := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(rw, r)
		return
	}
	sessionID := parts[0]

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGet(ctx, rw, sessionID)
	case len(parts) == 3 && parts[1] == "moves" && parts[2] == "latest" && r.Method == http.MethodGet:
		s.handleLatestMove(ctx, rw, sessionID)
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.handleCommand(ctx, rw, r, sessionID, parts[1])
	default:
		http.NotFound(rw, r)
	}
}

func (s *Server) handleGet(ctx context.Context, rw http.ResponseWriter, sessionID string) {
	doc, move, found, err := s.engine.Get(ctx, sessionID)
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err.Error())
		return
	}
	if !found {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "session not found")
		return
	}
	writeJSON(rw, http.StatusOK, protocol.PollResponse{Session: doc, Move: move})
}

func (s *Server) handleLatestMove(ctx context.Context, rw http.ResponseWriter, sessionID string) {
	_, move, found, err := s.engine.Get(ctx, sessionID)
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err.Error())
		return
	}
	if !found {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "session not found")
		return
	}
	if move == nil {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "no moves yet")
		return
	}
	writeJSON(rw, http.StatusOK, protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Move: move})
}

func (s *Server) handleCommand(ctx context.Context, rw http.ResponseWriter, r *http.Request, sessionID, cmd string) {
	var (
		ack protocol.CommandAck
		err error
	)
	switch cmd {
	case "join":
		var req protocol.JoinRequest
		if !decodeBody(rw, r, &req) {
			return
		}
		ack, err = s.engine.Join(ctx, sessionID, req.PlayerID)
	case "roll":
		var req protocol.RollRequest
		if !decodeBody(rw, r, &req) {
			return
		}
		ack, err = s.engine.Roll(ctx, sessionID, req.PlayerID, req.CmdID)
	case "confirm":
		var req protocol.ConfirmRequest
		if !decodeBody(rw, r, &req) {
			return
		}
		ack, err = s.engine.Confirm(ctx, sessionID, req.PlayerID, req.CmdID)
	case "verify":
		var req protocol.VerifyRequest
		if !decodeBody(rw, r, &req) {
			return
		}
		ack, err = s.engine.Verify(ctx, sessionID, req.PlayerID, req.Accepted, req.CmdID)
	default:
		http.NotFound(rw, r)
		return
	}
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, err.Error())
		return
	}
	writeAck(rw, ack)
}

func decodeBody(rw http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, "invalid json body")
		return false
	}
	return true
}

// writeAck maps a vanished session to 404 so poll clients route it through
// their terminal-latch path; every other decision is a 200 with the ack.
func writeAck(rw http.ResponseWriter, ack protocol.CommandAck) {
	status := http.StatusOK
	if ack.Code == protocol.ErrNotFound {
		status = http.StatusNotFound
	}
	writeJSON(rw, status, ack)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.ErrorMsg{Code: code, Message: msg})
}
