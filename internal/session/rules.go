package session

import "errors"

// Command precondition failures. All are stale-command rejections: the
// document is left untouched and a retry of an already-applied command lands
// here instead of double-applying.
var (
	ErrCompleted     = errors.New("session already completed")
	ErrNotPlaying    = errors.New("session not in playing state")
	ErrNotYourTurn   = errors.New("not this player's turn")
	ErrTaskPending   = errors.New("a task is pending resolution")
	ErrNoTask        = errors.New("no task pending")
	ErrWrongPhase    = errors.New("task not in required phase")
	ErrNotExecutor   = errors.New("player is not the task executor")
	ErrNotObserver   = errors.New("player is not the task observer")
	ErrUnknownPlayer = errors.New("player not in session")
	ErrSessionFull   = errors.New("session already has two players")
)

// TrapPolicy selects how landing on a trap resolves.
type TrapPolicy string

const (
	// TrapPolicyTask creates a trap task (default).
	TrapPolicyTask TrapPolicy = "task"
	// TrapPolicyPenalty moves the player back and passes the turn without a task.
	TrapPolicyPenalty TrapPolicy = "penalty"
)

// Rules are the tuning-derived resolution parameters, fixed per server.
type Rules struct {
	TurnCap          int
	TrapPolicy       TrapPolicy
	TrapPenalty      int // steps back under TrapPolicyPenalty
	CollisionPenalty int // steps back applied to the mover on collision
}

// DefaultRules mirrors the shipped tuning defaults.
func DefaultRules() Rules {
	return Rules{TurnCap: 50, TrapPolicy: TrapPolicyTask, TrapPenalty: 3, CollisionPenalty: 0}
}

// RollOutcome describes what a roll did, for move records and acks.
type RollOutcome struct {
	Dice int
	From int
	To   int // position after clamping and any immediate penalty

	Won         bool
	EndedByCap  bool
	TaskCreated *Task
	TurnPassed  bool
	Penalty     int // immediate move-back applied, if any
}

// Join admits the second participant and starts the game. Re-joining a
// session the player already belongs to is a no-op (retry safe).
func Join(s *Session, playerID string) error {
	if s.Status == StatusCompleted {
		return ErrCompleted
	}
	if playerID == "" {
		return ErrUnknownPlayer
	}
	if s.HasPlayer(playerID) {
		return nil
	}
	if s.Players[1] != "" {
		return ErrSessionFull
	}
	s.Players[1] = playerID
	s.Positions[playerID] = 0
	s.Status = StatusPlaying
	s.CurrentPlayerID = s.Players[0]
	s.touch()
	return nil
}

// ApplyRoll validates and applies a roll with a pre-drawn die value.
// Resolution order: clamp, win, collision, special cell, plain turn pass.
// Any created task starts in the pending phase with the mover as executor.
func ApplyRoll(s *Session, playerID string, die int, r Rules) (RollOutcome, error) {
	var out RollOutcome
	if s.Status == StatusCompleted {
		return out, ErrCompleted
	}
	if s.Status != StatusPlaying {
		return out, ErrNotPlaying
	}
	if !s.HasPlayer(playerID) {
		return out, ErrUnknownPlayer
	}
	if s.CurrentPlayerID != playerID {
		return out, ErrNotYourTurn
	}
	if s.PendingTask != nil {
		return out, ErrTaskPending
	}

	from := s.Positions[playerID]
	to := from + die
	last := s.BoardSize - 1
	if to > last {
		to = last
	}
	out = RollOutcome{Dice: die, From: from, To: to}
	s.Positions[playerID] = to

	if to >= last {
		s.Status = StatusCompleted
		s.Winner = playerID
		s.CurrentPlayerID = ""
		out.Won = true
		s.touch()
		return out, nil
	}

	opp := s.Opponent(playerID)
	if s.Positions[opp] == to {
		out.Penalty = applyPenalty(s, playerID, r.CollisionPenalty)
		out.To = s.Positions[playerID]
		task := &Task{
			Type:       TaskCollision,
			Position:   to,
			ExecutorID: playerID,
			ObserverID: opp,
			Phase:      TaskPending,
			Meta:       TaskMeta{Dice: die, PriorPosition: from, Penalty: out.Penalty},
		}
		s.PendingTask = task
		out.TaskCreated = task
		s.touch()
		return out, nil
	}

	if kind, ok := s.SpecialCells[to]; ok {
		if kind == CellTrap && r.TrapPolicy == TrapPolicyPenalty {
			out.Penalty = applyPenalty(s, playerID, r.TrapPenalty)
			out.To = s.Positions[playerID]
			out.TurnPassed, out.EndedByCap = passTurn(s, r)
			s.touch()
			return out, nil
		}
		task := &Task{
			Type:       TaskType(kind),
			Position:   to,
			ExecutorID: playerID,
			ObserverID: opp,
			Phase:      TaskPending,
			Meta:       TaskMeta{Dice: die, PriorPosition: from},
		}
		s.PendingTask = task
		out.TaskCreated = task
		s.touch()
		return out, nil
	}

	out.TurnPassed, out.EndedByCap = passTurn(s, r)
	s.touch()
	return out, nil
}

// ApplyConfirm moves the pending task to the executed phase.
func ApplyConfirm(s *Session, playerID string) error {
	if s.Status == StatusCompleted {
		return ErrCompleted
	}
	t := s.PendingTask
	if t == nil {
		return ErrNoTask
	}
	if t.ExecutorID != playerID {
		return ErrNotExecutor
	}
	if t.Phase != TaskPending {
		return ErrWrongPhase
	}
	t.Phase = TaskExecuted
	s.touch()
	return nil
}

// VerifyOutcome describes how a verification resolved.
type VerifyOutcome struct {
	Accepted   bool
	Reissued   bool
	TurnPassed bool
	EndedByCap bool
}

// ApplyVerify resolves the executed task. Acceptance clears the task and
// passes the turn. Rejection re-issues the same task instance: the phase
// reverts to pending and the executor retries. Rejecting a task that is
// already pending again is a stale no-op.
func ApplyVerify(s *Session, playerID string, accepted bool, r Rules) (VerifyOutcome, error) {
	var out VerifyOutcome
	if s.Status == StatusCompleted {
		return out, ErrCompleted
	}
	t := s.PendingTask
	if t == nil {
		return out, ErrNoTask
	}
	if t.ObserverID != playerID {
		return out, ErrNotObserver
	}
	if t.Phase != TaskExecuted {
		return out, ErrWrongPhase
	}
	out.Accepted = accepted
	if !accepted {
		t.Phase = TaskPending
		out.Reissued = true
		s.touch()
		return out, nil
	}
	executor := t.ExecutorID
	s.PendingTask = nil
	out.TurnPassed, out.EndedByCap = passTurnFrom(s, executor, r)
	s.touch()
	return out, nil
}

// passTurn advances from the current player.
func passTurn(s *Session, r Rules) (passed, endedByCap bool) {
	return passTurnFrom(s, s.CurrentPlayerID, r)
}

// passTurnFrom hands the turn to from's opponent and increments the counter.
// Exceeding the cap ends the session: the player further along wins, equal
// positions are a draw.
func passTurnFrom(s *Session, from string, r Rules) (passed, endedByCap bool) {
	s.TurnCounter++
	if r.TurnCap > 0 && s.TurnCounter >= r.TurnCap {
		s.Status = StatusCompleted
		s.CurrentPlayerID = ""
		s.Winner = winnerByPosition(s)
		return false, true
	}
	s.CurrentPlayerID = s.Opponent(from)
	return true, false
}

func winnerByPosition(s *Session) string {
	a, b := s.Players[0], s.Players[1]
	switch {
	case s.Positions[a] > s.Positions[b]:
		return a
	case s.Positions[b] > s.Positions[a]:
		return b
	}
	return ""
}

func applyPenalty(s *Session, playerID string, penalty int) int {
	if penalty <= 0 {
		return 0
	}
	pos := s.Positions[playerID]
	moved := penalty
	if moved > pos {
		moved = pos
	}
	s.Positions[playerID] = pos - moved
	return moved
}
