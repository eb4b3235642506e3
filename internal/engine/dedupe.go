package engine

import (
	"time"

	"starsteps.app/internal/protocol"
)

// Commands may carry a client-generated cmd_id. The first decision for a
// (session, player, cmd_id) triple is remembered and replayed verbatim on
// retry, so an at-least-once client never double-applies an effect even when
// its retry would otherwise pass the preconditions again.
const dedupeTTL = 5 * time.Minute

type dedupeKey struct {
	SessionID string
	PlayerID  string
	CmdID     string
}

type dedupeEntry struct {
	Ack     protocol.CommandAck
	Expires time.Time
}

func (e *Engine) checkDedupe(r request) (protocol.CommandAck, bool) {
	if r.cmdID == "" {
		return protocol.CommandAck{}, false
	}
	key := dedupeKey{SessionID: r.sessionID, PlayerID: r.playerID, CmdID: r.cmdID}
	entry, ok := e.dedupe[key]
	if !ok || time.Now().After(entry.Expires) {
		return protocol.CommandAck{}, false
	}
	ack := entry.Ack
	ack.Duplicate = true
	return ack, true
}

func (e *Engine) rememberDedupe(r request, ack protocol.CommandAck) {
	if r.cmdID == "" {
		return
	}
	key := dedupeKey{SessionID: r.sessionID, PlayerID: r.playerID, CmdID: r.cmdID}
	e.dedupe[key] = dedupeEntry{Ack: ack, Expires: time.Now().Add(dedupeTTL)}
}

func (e *Engine) expireDedupe(now time.Time) {
	for k, v := range e.dedupe {
		if now.After(v.Expires) {
			delete(e.dedupe, k)
		}
	}
}
