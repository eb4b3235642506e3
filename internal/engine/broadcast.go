package engine

import (
	"encoding/json"

	"starsteps.app/internal/protocol"
	"starsteps.app/internal/session"
)

func (e *Engine) handleSubscribe(r request) response {
	st, ok := e.sessions[r.sessionID]
	if !ok || r.out == nil {
		return response{}
	}
	e.nextSubID++
	st.subs[e.nextSubID] = r.out
	return response{found: true, subID: e.nextSubID, doc: st.doc.Clone()}
}

func (e *Engine) handleUnsubscribe(r request) response {
	if st, ok := e.sessions[r.sessionID]; ok {
		delete(st.subs, r.subID)
	}
	return response{}
}

// broadcast fans the updated document (and any new move record) out to every
// subscriber. Slow subscribers lose their oldest queued frame rather than
// stalling the loop; the document message is full-state, so a dropped frame
// is recovered by the next one or by a poll.
func (e *Engine) broadcast(st *sessionState, move *session.Move) {
	if len(st.subs) == 0 {
		return
	}
	doc, err := json.Marshal(protocol.SessionMsg{
		Type:            protocol.TypeSession,
		ProtocolVersion: protocol.Version,
		Session:         st.doc.Clone(),
	})
	if err != nil {
		e.log.Printf("marshal session %s: %v", st.doc.ID, err)
		return
	}
	var moveMsg []byte
	if move != nil {
		moveMsg, err = json.Marshal(protocol.MoveMsg{
			Type:            protocol.TypeMove,
			ProtocolVersion: protocol.Version,
			Move:            move,
		})
		if err != nil {
			e.log.Printf("marshal move %s/%d: %v", move.SessionID, move.Seq, err)
			moveMsg = nil
		}
	}
	for _, out := range st.subs {
		if moveMsg != nil {
			sendLatest(out, moveMsg)
		}
		sendLatest(out, doc)
	}
}

// sendLatest delivers without blocking, dropping one queued frame if needed.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
