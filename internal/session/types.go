// Package session holds the authoritative Game Session document and the
// pure turn-resolution rules applied to it. All mutation goes through the
// engine; everything here is transport-agnostic.
package session

import "time"

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPlaying   Status = "playing"
	StatusCompleted Status = "completed"
)

// CellKind marks a special board cell.
type CellKind string

const (
	CellStar CellKind = "star"
	CellTrap CellKind = "trap"
)

type TaskType string

const (
	TaskStar      TaskType = "star"
	TaskTrap      TaskType = "trap"
	TaskCollision TaskType = "collision"
)

// TaskPhase is the two-phase resolution state: the executor marks the task
// done, then the observer confirms or rejects.
type TaskPhase string

const (
	TaskPending  TaskPhase = "pending"
	TaskExecuted TaskPhase = "executed"
)

// TaskContent is the drawn task text. Absent content is tolerated (empty
// pool); the executor completes a placeholder obligation.
type TaskContent struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TaskMeta is diagnostic payload only, never used for control flow.
type TaskMeta struct {
	Dice          int `json:"dice"`
	PriorPosition int `json:"prior_position"`
	Penalty       int `json:"penalty,omitempty"`
}

// Task is a pending obligation blocking further rolls until resolved.
type Task struct {
	Type       TaskType     `json:"type"`
	Position   int          `json:"position"`
	ExecutorID string       `json:"executor_id"`
	ObserverID string       `json:"observer_id"`
	Phase      TaskPhase    `json:"phase"`
	Content    *TaskContent `json:"content,omitempty"`
	Meta       TaskMeta     `json:"meta"`
}

// Move is the per-roll record consumed by clients for animation.
type Move struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	PlayerID  string    `json:"player_id"`
	Dice      int       `json:"dice"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the authoritative document, one per match. Rev increases by one
// on every accepted mutation and is the comparison key clients use to decide
// whether an incoming projection replaces their local one.
type Session struct {
	ID              string           `json:"id"`
	Players         [2]string        `json:"players"`
	CurrentPlayerID string           `json:"current_player_id,omitempty"`
	TurnCounter     int              `json:"turn_counter"`
	Status          Status           `json:"status"`
	Positions       map[string]int   `json:"positions"`
	BoardSize       int              `json:"board_size"`
	SpecialCells    map[int]CellKind `json:"special_cells"`
	PendingTask     *Task            `json:"pending_task,omitempty"`
	Winner          string           `json:"winner,omitempty"`
	Rev             uint64           `json:"rev"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// New returns a fresh session in the waiting state with the host placed on
// step 0. The special-cell layout is fixed for the session's lifetime.
func New(id, hostID string, boardSize int, specials map[int]CellKind) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:           id,
		Players:      [2]string{hostID, ""},
		Status:       StatusWaiting,
		Positions:    map[string]int{hostID: 0},
		BoardSize:    boardSize,
		SpecialCells: specials,
		Rev:          1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s
}

// HasPlayer reports whether the player participates in this session.
func (s *Session) HasPlayer(playerID string) bool {
	return playerID != "" && (s.Players[0] == playerID || s.Players[1] == playerID)
}

// Opponent returns the other participant, or "" if unknown.
func (s *Session) Opponent(playerID string) string {
	switch playerID {
	case s.Players[0]:
		return s.Players[1]
	case s.Players[1]:
		return s.Players[0]
	}
	return ""
}

// Clone deep-copies the document so broadcast snapshots never alias the
// engine's live state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Positions = make(map[string]int, len(s.Positions))
	for k, v := range s.Positions {
		c.Positions[k] = v
	}
	c.SpecialCells = make(map[int]CellKind, len(s.SpecialCells))
	for k, v := range s.SpecialCells {
		c.SpecialCells[k] = v
	}
	if s.PendingTask != nil {
		t := *s.PendingTask
		if t.Content != nil {
			tc := *t.Content
			t.Content = &tc
		}
		c.PendingTask = &t
	}
	return &c
}

func (s *Session) touch() {
	s.Rev++
	s.UpdatedAt = time.Now().UTC()
}

// DeriveWinner re-derives the winner from final positions. Clients call this
// after the terminal re-fetch instead of trusting a possibly stale flag.
// Returns "" on a draw or when the session is not completed.
func DeriveWinner(s *Session) string {
	if s == nil || s.Status != StatusCompleted {
		return ""
	}
	a, b := s.Players[0], s.Players[1]
	pa, pb := s.Positions[a], s.Positions[b]
	// Reaching the final step is an outright win regardless of the other
	// position (both cannot be there: the game ends on first arrival).
	switch {
	case pa >= s.BoardSize-1:
		return a
	case pb >= s.BoardSize-1:
		return b
	case pa > pb:
		return a
	case pb > pa:
		return b
	}
	return ""
}
