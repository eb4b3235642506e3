package protocol

import (
	"errors"

	"starsteps.app/internal/session"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Session routing.
	ErrNotFound  = "E_NOT_FOUND"
	ErrCompleted = "E_COMPLETED"

	// Command preconditions (stale commands).
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrNotYourTurn = "E_NOT_YOUR_TURN"
	ErrTaskPending = "E_TASK_PENDING"
	ErrNoTask      = "E_NO_TASK"
	ErrWrongPhase  = "E_WRONG_PHASE"
	ErrNotExecutor = "E_NOT_EXECUTOR"
	ErrNotObserver = "E_NOT_OBSERVER"
	ErrSessionFull = "E_SESSION_FULL"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrNotFound:        {},
	ErrCompleted:       {},
	ErrBadRequest:      {},
	ErrNotYourTurn:     {},
	ErrTaskPending:     {},
	ErrNoTask:          {},
	ErrWrongPhase:      {},
	ErrNotExecutor:     {},
	ErrNotObserver:     {},
	ErrSessionFull:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a rule rejection to its wire code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrCompleted):
		return ErrCompleted
	case errors.Is(err, session.ErrNotPlaying):
		return ErrBadRequest
	case errors.Is(err, session.ErrNotYourTurn):
		return ErrNotYourTurn
	case errors.Is(err, session.ErrTaskPending):
		return ErrTaskPending
	case errors.Is(err, session.ErrNoTask):
		return ErrNoTask
	case errors.Is(err, session.ErrWrongPhase):
		return ErrWrongPhase
	case errors.Is(err, session.ErrNotExecutor):
		return ErrNotExecutor
	case errors.Is(err, session.ErrNotObserver):
		return ErrNotObserver
	case errors.Is(err, session.ErrUnknownPlayer):
		return ErrBadRequest
	case errors.Is(err, session.ErrSessionFull):
		return ErrSessionFull
	}
	return ErrInternal
}
