package engine

import (
	"time"

	"github.com/google/uuid"

	"starsteps.app/internal/board"
	"starsteps.app/internal/persistence/movelog"
	"starsteps.app/internal/protocol"
	"starsteps.app/internal/session"
)

func (e *Engine) handleCreate(r request) response {
	if r.playerID == "" {
		return response{ack: protocol.CommandAck{Code: protocol.ErrBadRequest, Message: "player_id required"}}
	}
	size := r.boardSize
	if size == 0 {
		size = e.cfg.Tuning.BoardSize
	}
	if _, err := board.Side(size); err != nil {
		return response{ack: protocol.CommandAck{Code: protocol.ErrBadRequest, Message: err.Error()}}
	}
	specials := session.GenerateSpecialCells(size, e.cfg.Tuning.StarCells, e.cfg.Tuning.TrapCells, e.cfg.Roller.Intn)
	doc := session.New(uuid.NewString(), r.playerID, size, specials)
	st := &sessionState{doc: doc, subs: make(map[uint64]chan []byte)}
	e.sessions[doc.ID] = st

	e.persist(st)
	e.audit("create", doc.ID, r.playerID, "", protocol.CommandAck{Accepted: true}, doc.Rev)
	return response{ack: protocol.CommandAck{Accepted: true, Session: doc.Clone()}}
}

func (e *Engine) handleJoin(r request) response {
	st, ok := e.sessions[r.sessionID]
	if !ok {
		return response{ack: notFoundAck()}
	}
	before := st.doc.Rev
	err := session.Join(st.doc, r.playerID)
	ack := e.finish(st, "join", r, before, err, nil)
	return response{ack: ack}
}

func (e *Engine) handleCommand(r request) response {
	st, ok := e.sessions[r.sessionID]
	if !ok {
		return response{ack: notFoundAck()}
	}
	if ack, dup := e.checkDedupe(r); dup {
		return response{ack: ack}
	}

	var (
		name string
		err  error
		move *session.Move
	)
	before := st.doc.Rev
	switch r.kind {
	case reqRoll:
		name = "roll"
		var out session.RollOutcome
		out, err = session.ApplyRoll(st.doc, r.playerID, e.cfg.Roller.D6(), e.rules)
		if err == nil {
			e.attachTaskContent(st.doc)
			move = e.recordMove(st, r.playerID, out)
		}
	case reqConfirm:
		name = "confirm"
		err = session.ApplyConfirm(st.doc, r.playerID)
	case reqVerify:
		name = "verify"
		_, err = session.ApplyVerify(st.doc, r.playerID, r.accepted, e.rules)
	}

	ack := e.finish(st, name, r, before, err, move)
	e.rememberDedupe(r, ack)
	return response{ack: ack}
}

// finish persists, broadcasts, and audits one decided command.
func (e *Engine) finish(st *sessionState, name string, r request, beforeRev uint64, err error, move *session.Move) protocol.CommandAck {
	if err != nil {
		ack := protocol.CommandAck{Code: protocol.CodeFor(err), Message: err.Error(), Session: st.doc.Clone()}
		e.audit(name, r.sessionID, r.playerID, r.cmdID, ack, st.doc.Rev)
		return ack
	}
	ack := protocol.CommandAck{Accepted: true, Session: st.doc.Clone(), Move: move}
	if st.doc.Rev != beforeRev {
		e.persist(st)
		e.broadcast(st, move)
	}
	e.audit(name, r.sessionID, r.playerID, r.cmdID, ack, st.doc.Rev)
	return ack
}

// attachTaskContent draws task text for a just-created task instance. An
// empty pool leaves the content absent; that is a tolerated state.
func (e *Engine) attachTaskContent(doc *session.Session) {
	t := doc.PendingTask
	if t == nil || t.Content != nil || e.cfg.Catalog == nil {
		return
	}
	t.Content = e.cfg.Catalog.Draw(t.Type, e.cfg.Roller.Intn)
}

func (e *Engine) recordMove(st *sessionState, playerID string, out session.RollOutcome) *session.Move {
	st.moveSeq++
	m := &session.Move{
		SessionID: st.doc.ID,
		Seq:       st.moveSeq,
		PlayerID:  playerID,
		Dice:      out.Dice,
		From:      out.From,
		To:        out.To,
		CreatedAt: time.Now().UTC(),
	}
	st.lastMove = m
	if e.cfg.Store != nil {
		e.cfg.Store.AppendMove(*m)
	}
	if e.cfg.MoveLog != nil {
		if err := e.cfg.MoveLog.WriteMove(*m); err != nil {
			e.log.Printf("move log %s/%d: %v", m.SessionID, m.Seq, err)
		}
	}
	return m
}

func (e *Engine) persist(st *sessionState) {
	if e.cfg.Store != nil {
		e.cfg.Store.SaveSession(st.doc.Clone())
	}
}

func (e *Engine) audit(name, sessionID, playerID, cmdID string, ack protocol.CommandAck, rev uint64) {
	if e.cfg.Audit == nil {
		return
	}
	err := e.cfg.Audit.WriteCommand(movelog.CommandEntry{
		At:        time.Now().UTC(),
		SessionID: sessionID,
		PlayerID:  playerID,
		Command:   name,
		CmdID:     cmdID,
		Accepted:  ack.Accepted,
		Duplicate: ack.Duplicate,
		Code:      ack.Code,
		Rev:       rev,
	})
	if err != nil {
		e.log.Printf("audit %s %s: %v", name, sessionID, err)
	}
}

func (e *Engine) handleGet(r request) response {
	st, ok := e.sessions[r.sessionID]
	if !ok {
		return response{}
	}
	var move *session.Move
	if st.lastMove != nil {
		m := *st.lastMove
		move = &m
	}
	return response{found: true, doc: st.doc.Clone(), move: move}
}

func notFoundAck() protocol.CommandAck {
	return protocol.CommandAck{Code: protocol.ErrNotFound, Message: "session not found"}
}
