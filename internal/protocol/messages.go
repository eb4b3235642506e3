package protocol

import "starsteps.app/internal/session"

// HELLO (client -> server): subscribe to one session's push feed.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	PlayerID        string `json:"player_id"`
}

// WELCOME (server -> client): subscription accepted, current document attached.
type WelcomeMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	SessionID       string           `json:"session_id"`
	PlayerID        string           `json:"player_id"`
	Session         *session.Session `json:"session"`
}

// SESSION (server -> client): full updated document. Full-state, not a
// delta: applying it is idempotent under duplication and reordering.
type SessionMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Session         *session.Session `json:"session"`
}

// MOVE (server -> client): newly inserted move record.
type MoveMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Move            *session.Move `json:"move"`
}

// ERROR (server -> client) and HTTP error envelope.
type ErrorMsg struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// HTTP command bodies. CmdID is the client-generated idempotency key; the
// engine replays the original ack for a repeated (session, player, cmd_id).
type CreateRequest struct {
	PlayerID  string `json:"player_id"`
	BoardSize int    `json:"board_size,omitempty"`
}

type JoinRequest struct {
	PlayerID string `json:"player_id"`
}

type RollRequest struct {
	PlayerID string `json:"player_id"`
	CmdID    string `json:"cmd_id,omitempty"`
}

type ConfirmRequest struct {
	PlayerID string `json:"player_id"`
	CmdID    string `json:"cmd_id,omitempty"`
}

type VerifyRequest struct {
	PlayerID string `json:"player_id"`
	Accepted bool   `json:"accepted"`
	CmdID    string `json:"cmd_id,omitempty"`
}

// CommandAck is the uniform command response. Rejections carry a code and
// leave Session at the document observed at rejection time so clients can
// resynchronize from it.
type CommandAck struct {
	Accepted  bool             `json:"accepted"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Code      string           `json:"code,omitempty"`
	Message   string           `json:"message,omitempty"`
	Session   *session.Session `json:"session,omitempty"`
	Move      *session.Move    `json:"move,omitempty"`
}

// PollResponse is the point-read body: the document plus the latest move.
type PollResponse struct {
	Session *session.Session `json:"session"`
	Move    *session.Move    `json:"move,omitempty"`
}
