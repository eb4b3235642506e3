package session

import (
	"errors"
	"reflect"
	"testing"
)

func newPlaying(t *testing.T, specials map[int]CellKind) *Session {
	t.Helper()
	if specials == nil {
		specials = map[int]CellKind{}
	}
	s := New("s1", "alice", 49, specials)
	if err := Join(s, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return s
}

func TestJoinStartsGame(t *testing.T) {
	s := New("s1", "alice", 49, nil)
	if s.Status != StatusWaiting {
		t.Fatalf("status = %s, want waiting", s.Status)
	}
	if err := Join(s, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if s.Status != StatusPlaying {
		t.Fatalf("status = %s, want playing", s.Status)
	}
	if s.CurrentPlayerID != "alice" {
		t.Fatalf("current = %q, want alice", s.CurrentPlayerID)
	}
	if s.Positions["bob"] != 0 {
		t.Fatalf("bob position = %d, want 0", s.Positions["bob"])
	}
}

func TestJoinIdempotentAndFull(t *testing.T) {
	s := newPlaying(t, nil)
	rev := s.Rev
	if err := Join(s, "bob"); err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if s.Rev != rev {
		t.Fatalf("re-join bumped rev %d -> %d", rev, s.Rev)
	}
	if err := Join(s, "carol"); !errors.Is(err, ErrSessionFull) {
		t.Fatalf("third join err = %v, want ErrSessionFull", err)
	}
}

func TestRollPlainPassesTurn(t *testing.T) {
	s := newPlaying(t, nil)
	out, err := ApplyRoll(s, "alice", 3, DefaultRules())
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if out.From != 0 || out.To != 3 || !out.TurnPassed {
		t.Fatalf("outcome = %+v, want from 0 to 3, turn passed", out)
	}
	if s.CurrentPlayerID != "bob" {
		t.Fatalf("current = %q, want bob", s.CurrentPlayerID)
	}
	if s.TurnCounter != 1 {
		t.Fatalf("turn counter = %d, want 1", s.TurnCounter)
	}
	if s.PendingTask != nil {
		t.Fatalf("pending task = %+v, want nil", s.PendingTask)
	}
}

func TestRollPreconditions(t *testing.T) {
	s := newPlaying(t, nil)
	if _, err := ApplyRoll(s, "bob", 2, DefaultRules()); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("off-turn roll err = %v, want ErrNotYourTurn", err)
	}
	if _, err := ApplyRoll(s, "mallory", 2, DefaultRules()); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("unknown player err = %v, want ErrUnknownPlayer", err)
	}
	w := New("s2", "alice", 49, nil)
	if _, err := ApplyRoll(w, "alice", 2, DefaultRules()); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("waiting roll err = %v, want ErrNotPlaying", err)
	}
}

func TestRollRejectionLeavesStateUntouched(t *testing.T) {
	s := newPlaying(t, nil)
	before := *s.Clone()
	if _, err := ApplyRoll(s, "bob", 4, DefaultRules()); err == nil {
		t.Fatal("off-turn roll accepted")
	}
	if !reflect.DeepEqual(before.Positions, s.Positions) || before.Rev != s.Rev {
		t.Fatalf("rejected roll mutated state: %+v vs %+v", before, *s)
	}
}

// boardSize=49, player at 45 rolls 5: clamped to 48, completed, winner set.
func TestRollWinClampsAndCompletes(t *testing.T) {
	s := newPlaying(t, nil)
	s.Positions["alice"] = 45
	out, err := ApplyRoll(s, "alice", 5, DefaultRules())
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if !out.Won || out.To != 48 {
		t.Fatalf("outcome = %+v, want win at 48", out)
	}
	if s.Status != StatusCompleted || s.Winner != "alice" {
		t.Fatalf("status %s winner %q, want completed/alice", s.Status, s.Winner)
	}
	if s.CurrentPlayerID != "" {
		t.Fatalf("current = %q, want empty after completion", s.CurrentPlayerID)
	}
	if _, err := ApplyRoll(s, "bob", 1, DefaultRules()); !errors.Is(err, ErrCompleted) {
		t.Fatalf("post-win roll err = %v, want ErrCompleted", err)
	}
}

// Player at 10 rolls 3 onto a trap: task created, second roll rejected.
func TestRollTrapCreatesTask(t *testing.T) {
	s := newPlaying(t, map[int]CellKind{13: CellTrap})
	s.Positions["alice"] = 10
	out, err := ApplyRoll(s, "alice", 3, DefaultRules())
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	task := out.TaskCreated
	if task == nil || task.Type != TaskTrap || task.Position != 13 {
		t.Fatalf("task = %+v, want trap at 13", task)
	}
	if task.ExecutorID != "alice" || task.ObserverID != "bob" || task.Phase != TaskPending {
		t.Fatalf("task = %+v, want alice executes, bob observes, pending", task)
	}
	if s.CurrentPlayerID != "alice" {
		t.Fatalf("current = %q, want alice while task pending", s.CurrentPlayerID)
	}
	if _, err := ApplyRoll(s, "alice", 2, DefaultRules()); !errors.Is(err, ErrTaskPending) {
		t.Fatalf("roll with pending task err = %v, want ErrTaskPending", err)
	}
}

func TestRollTrapPenaltyPolicy(t *testing.T) {
	r := Rules{TurnCap: 50, TrapPolicy: TrapPolicyPenalty, TrapPenalty: 3}
	s := newPlaying(t, map[int]CellKind{13: CellTrap})
	s.Positions["alice"] = 10
	out, err := ApplyRoll(s, "alice", 3, r)
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if out.TaskCreated != nil {
		t.Fatalf("task = %+v, want none under penalty policy", out.TaskCreated)
	}
	if out.Penalty != 3 || out.To != 10 || s.Positions["alice"] != 10 {
		t.Fatalf("outcome = %+v pos %d, want moved back to 10", out, s.Positions["alice"])
	}
	if s.CurrentPlayerID != "bob" {
		t.Fatalf("current = %q, want bob after penalty", s.CurrentPlayerID)
	}
}

// Both players at 20, mover lands on 20: collision task, mover executes.
func TestRollCollisionCreatesTask(t *testing.T) {
	s := newPlaying(t, nil)
	s.Positions["alice"] = 17
	s.Positions["bob"] = 20
	out, err := ApplyRoll(s, "alice", 3, DefaultRules())
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	task := out.TaskCreated
	if task == nil || task.Type != TaskCollision || task.Position != 20 {
		t.Fatalf("task = %+v, want collision at 20", task)
	}
	if task.ExecutorID != "alice" || task.ObserverID != "bob" {
		t.Fatalf("task = %+v, want alice executor, bob observer", task)
	}
}

func TestRollCollisionPenalty(t *testing.T) {
	r := DefaultRules()
	r.CollisionPenalty = 2
	s := newPlaying(t, nil)
	s.Positions["alice"] = 17
	s.Positions["bob"] = 20
	out, err := ApplyRoll(s, "alice", 3, r)
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if out.Penalty != 2 || s.Positions["alice"] != 18 {
		t.Fatalf("penalty %d pos %d, want 2/18", out.Penalty, s.Positions["alice"])
	}
	if out.TaskCreated == nil || out.TaskCreated.Position != 20 {
		t.Fatalf("task = %+v, want collision task at landed cell", out.TaskCreated)
	}
	if out.TaskCreated.Meta.Penalty != 2 {
		t.Fatalf("meta penalty = %d, want 2", out.TaskCreated.Meta.Penalty)
	}
}

// Collision beats the special-cell check when both apply to the landed cell.
func TestRollCollisionWinsOverSpecialCell(t *testing.T) {
	s := newPlaying(t, map[int]CellKind{20: CellStar})
	s.Positions["alice"] = 17
	s.Positions["bob"] = 20
	out, err := ApplyRoll(s, "alice", 3, DefaultRules())
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if out.TaskCreated == nil || out.TaskCreated.Type != TaskCollision {
		t.Fatalf("task = %+v, want collision", out.TaskCreated)
	}
}

func TestTaskTwoPhaseResolution(t *testing.T) {
	s := newPlaying(t, map[int]CellKind{13: CellStar})
	s.Positions["alice"] = 10
	if _, err := ApplyRoll(s, "alice", 3, DefaultRules()); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}

	// Wrong actors and phases are stale rejections.
	if _, err := ApplyVerify(s, "bob", true, DefaultRules()); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("verify before confirm err = %v, want ErrWrongPhase", err)
	}
	if err := ApplyConfirm(s, "bob"); !errors.Is(err, ErrNotExecutor) {
		t.Fatalf("confirm by observer err = %v, want ErrNotExecutor", err)
	}

	if err := ApplyConfirm(s, "alice"); err != nil {
		t.Fatalf("ApplyConfirm: %v", err)
	}
	if s.PendingTask.Phase != TaskExecuted {
		t.Fatalf("phase = %s, want executed", s.PendingTask.Phase)
	}
	// Duplicate confirm is a no-op rejection.
	rev := s.Rev
	if err := ApplyConfirm(s, "alice"); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("duplicate confirm err = %v, want ErrWrongPhase", err)
	}
	if s.Rev != rev {
		t.Fatalf("duplicate confirm bumped rev")
	}

	if err := ApplyConfirm(s, "alice"); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("confirm in executed phase err = %v, want ErrWrongPhase", err)
	}
	if _, err := ApplyVerify(s, "alice", true, DefaultRules()); !errors.Is(err, ErrNotObserver) {
		t.Fatalf("verify by executor err = %v, want ErrNotObserver", err)
	}

	out, err := ApplyVerify(s, "bob", true, DefaultRules())
	if err != nil {
		t.Fatalf("ApplyVerify: %v", err)
	}
	if !out.Accepted || !out.TurnPassed {
		t.Fatalf("outcome = %+v, want accepted, turn passed", out)
	}
	if s.PendingTask != nil {
		t.Fatalf("pending task survives acceptance")
	}
	if s.CurrentPlayerID != "bob" {
		t.Fatalf("current = %q, want bob (turn never returns to executor)", s.CurrentPlayerID)
	}
	// Duplicate verify is a no-op rejection.
	if _, err := ApplyVerify(s, "bob", true, DefaultRules()); !errors.Is(err, ErrNoTask) {
		t.Fatalf("duplicate verify err = %v, want ErrNoTask", err)
	}
}

func TestVerifyRejectionReissuesTask(t *testing.T) {
	s := newPlaying(t, map[int]CellKind{13: CellStar})
	s.Positions["alice"] = 10
	if _, err := ApplyRoll(s, "alice", 3, DefaultRules()); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if err := ApplyConfirm(s, "alice"); err != nil {
		t.Fatalf("ApplyConfirm: %v", err)
	}
	out, err := ApplyVerify(s, "bob", false, DefaultRules())
	if err != nil {
		t.Fatalf("ApplyVerify: %v", err)
	}
	if !out.Reissued || out.TurnPassed {
		t.Fatalf("outcome = %+v, want reissued without turn pass", out)
	}
	if s.PendingTask == nil || s.PendingTask.Phase != TaskPending {
		t.Fatalf("task = %+v, want same instance back in pending", s.PendingTask)
	}
	// Replaying the rejection is a stale no-op.
	if _, err := ApplyVerify(s, "bob", false, DefaultRules()); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("replayed rejection err = %v, want ErrWrongPhase", err)
	}
	// The executor can run the loop again.
	if err := ApplyConfirm(s, "alice"); err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	if _, err := ApplyVerify(s, "bob", true, DefaultRules()); err != nil {
		t.Fatalf("re-verify: %v", err)
	}
}

func TestTurnCapEndsSession(t *testing.T) {
	r := DefaultRules()
	r.TurnCap = 2
	s := newPlaying(t, nil)
	if _, err := ApplyRoll(s, "alice", 3, r); err != nil {
		t.Fatalf("roll 1: %v", err)
	}
	out, err := ApplyRoll(s, "bob", 2, r)
	if err != nil {
		t.Fatalf("roll 2: %v", err)
	}
	if !out.EndedByCap {
		t.Fatalf("outcome = %+v, want ended by cap", out)
	}
	if s.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", s.Status)
	}
	if s.Winner != "alice" {
		t.Fatalf("winner = %q, want alice (position 3 vs 2)", s.Winner)
	}
}

func TestTurnCapDraw(t *testing.T) {
	r := DefaultRules()
	r.TurnCap = 2
	s := newPlaying(t, nil)
	if _, err := ApplyRoll(s, "alice", 2, r); err != nil {
		t.Fatalf("roll 1: %v", err)
	}
	if _, err := ApplyRoll(s, "bob", 2, r); err != nil {
		t.Fatalf("roll 2: %v", err)
	}
	if s.Status != StatusCompleted || s.Winner != "" {
		t.Fatalf("status %s winner %q, want completed draw", s.Status, s.Winner)
	}
	if got := DeriveWinner(s); got != "" {
		t.Fatalf("DeriveWinner = %q, want draw", got)
	}
}

func TestPositionsStayInRange(t *testing.T) {
	s := newPlaying(t, map[int]CellKind{1: CellTrap})
	r := Rules{TurnCap: 50, TrapPolicy: TrapPolicyPenalty, TrapPenalty: 5}
	// Penalty larger than the position clamps at 0.
	if _, err := ApplyRoll(s, "alice", 1, r); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if got := s.Positions["alice"]; got != 0 {
		t.Fatalf("position = %d, want clamp at 0", got)
	}
	for _, p := range s.Players {
		pos := s.Positions[p]
		if pos < 0 || pos > s.BoardSize-1 {
			t.Fatalf("position %d out of [0,%d]", pos, s.BoardSize-1)
		}
	}
}

func TestDeriveWinnerFromPositions(t *testing.T) {
	s := newPlaying(t, nil)
	s.Positions["alice"] = 45
	if _, err := ApplyRoll(s, "alice", 6, DefaultRules()); err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if got := DeriveWinner(s); got != "alice" {
		t.Fatalf("DeriveWinner = %q, want alice", got)
	}
	// Not completed: no winner regardless of positions.
	s2 := newPlaying(t, nil)
	s2.Positions["alice"] = 40
	if got := DeriveWinner(s2); got != "" {
		t.Fatalf("DeriveWinner on live session = %q, want empty", got)
	}
}
