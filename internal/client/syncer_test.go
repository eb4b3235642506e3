package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"starsteps.app/internal/protocol"
	"starsteps.app/internal/session"
)

type fakeTransport struct {
	mu        sync.Mutex
	doc       *session.Session
	move      *session.Move
	getErr    error
	rollAck   protocol.CommandAck
	rollErr   error
	getCalls  int
	rollCalls int
}

func (f *fakeTransport) Get(ctx context.Context, sessionID string) (*session.Session, *session.Move, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, nil, f.getErr
	}
	return f.doc.Clone(), f.move, nil
}

func (f *fakeTransport) Roll(ctx context.Context, sessionID, playerID, cmdID string) (protocol.CommandAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollCalls++
	return f.rollAck, f.rollErr
}

func (f *fakeTransport) Confirm(ctx context.Context, sessionID, playerID, cmdID string) (protocol.CommandAck, error) {
	return protocol.CommandAck{}, nil
}

func (f *fakeTransport) Verify(ctx context.Context, sessionID, playerID string, accepted bool, cmdID string) (protocol.CommandAck, error) {
	return protocol.CommandAck{}, nil
}

func (f *fakeTransport) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func testDoc(rev uint64, status session.Status) *session.Session {
	return &session.Session{
		ID:              "s1",
		Players:         [2]string{"alice", "bob"},
		CurrentPlayerID: "alice",
		Status:          status,
		Positions:       map[string]int{"alice": 0, "bob": 0},
		BoardSize:       49,
		SpecialCells:    map[int]session.CellKind{},
		Rev:             rev,
	}
}

func fastIntervals() Intervals {
	return Intervals{
		Slow:    5 * time.Millisecond,
		Fast:    5 * time.Millisecond,
		OwnTurn: 5 * time.Millisecond,
		Wait:    5 * time.Millisecond,
		Step:    time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMergeIsRevGated(t *testing.T) {
	s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: &fakeTransport{}})
	s.submit(testDoc(2, session.StatusPlaying), nil)
	s.submit(testDoc(1, session.StatusPlaying), nil) // stale, reordered
	if got := s.Session().Rev; got != 2 {
		t.Fatalf("rev = %d, want 2 (stale candidate applied)", got)
	}
	s.submit(testDoc(2, session.StatusPlaying), nil) // duplicate
	if got := s.Session().Rev; got != 2 {
		t.Fatalf("rev = %d, want 2", got)
	}
	s.submit(testDoc(3, session.StatusPlaying), nil)
	if got := s.Session().Rev; got != 3 {
		t.Fatalf("rev = %d, want 3", got)
	}
}

func TestMoveCallbackDedupedBySeq(t *testing.T) {
	var seen []uint64
	s := NewSyncer(Options{
		SessionID: "s1", PlayerID: "alice", Transport: &fakeTransport{},
		OnMove: func(m session.Move) { seen = append(seen, m.Seq) },
	})
	s.submit(nil, &session.Move{Seq: 1})
	s.submit(nil, &session.Move{Seq: 1}) // push and poll both delivered it
	s.submit(nil, &session.Move{Seq: 2})
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("seen = %v, want [1 2]", seen)
	}
}

func TestNextIntervalSelection(t *testing.T) {
	iv := Intervals{Slow: 30, Fast: 10, OwnTurn: 15, Wait: 20}
	cases := []struct {
		name string
		doc  *session.Session
		want time.Duration
	}{
		{"no document yet", nil, 20},
		{"waiting", testDoc(1, session.StatusWaiting), 30},
		{"own turn", testDoc(1, session.StatusPlaying), 15},
		{"opponent turn", func() *session.Session {
			d := testDoc(1, session.StatusPlaying)
			d.CurrentPlayerID = "bob"
			return d
		}(), 20},
		{"task pending", func() *session.Session {
			d := testDoc(1, session.StatusPlaying)
			d.PendingTask = &session.Task{Phase: session.TaskPending}
			return d
		}(), 10},
	}
	for _, tc := range cases {
		s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: &fakeTransport{}, Intervals: iv})
		s.mu.Lock()
		s.doc = tc.doc
		s.mu.Unlock()
		if got := s.nextInterval(); got != tc.want {
			t.Errorf("%s: interval = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestFailureStreakBacksOff(t *testing.T) {
	ft := &fakeTransport{getErr: errors.New("boom")}
	s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: ft, Intervals: Intervals{Wait: 20}})
	s.pollOnce()
	s.pollOnce()
	if got := s.nextInterval(); got != 60 { // 20 * (1 + streak 2)
		t.Fatalf("interval = %d, want 60", got)
	}
	ft.mu.Lock()
	ft.getErr = nil
	ft.doc = testDoc(1, session.StatusPlaying)
	ft.mu.Unlock()
	s.pollOnce()
	if got := s.nextInterval(); got != 15 { // own turn, streak reset
		t.Fatalf("interval = %d, want 15", got)
	}
}

func TestLatchFreezesNetwork(t *testing.T) {
	done := testDoc(4, session.StatusCompleted)
	done.Positions["alice"] = 48
	done.Winner = "alice"
	ft := &fakeTransport{doc: done}
	s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: ft, Intervals: fastIntervals()})
	s.Start()
	defer s.Close()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("syncer never latched on a completed document")
	}
	if !s.Latched() {
		t.Fatal("Latched() = false after Done")
	}
	if w := s.Winner(); w != "alice" {
		t.Fatalf("winner = %q, want alice", w)
	}

	calls := ft.gets()
	time.Sleep(50 * time.Millisecond)
	if after := ft.gets(); after != calls {
		t.Fatalf("network calls after latch: %d -> %d", calls, after)
	}
	if _, err := s.Roll(context.Background()); !errors.Is(err, ErrLatched) {
		t.Fatalf("Roll after latch = %v, want ErrLatched", err)
	}
	if ft.rollCalls != 0 {
		t.Fatalf("rollCalls = %d, want 0 (refused locally)", ft.rollCalls)
	}
}

func TestVanishedSessionLatches(t *testing.T) {
	ft := &fakeTransport{getErr: ErrNotFound}
	s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: ft, Intervals: fastIntervals()})
	s.Start()
	defer s.Close()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("syncer never latched on a vanished session")
	}
	if !s.Latched() {
		t.Fatal("Latched() = false")
	}
}

func TestPreLatchRefetchAdoptsFinalDocument(t *testing.T) {
	final := testDoc(6, session.StatusCompleted)
	final.Positions["bob"] = 48
	ft := &fakeTransport{doc: final}
	s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: ft})

	// A push frame announces completion at rev 5; the latch re-fetches and
	// lands on the authoritative rev 6.
	stale := testDoc(5, session.StatusCompleted)
	b, _ := json.Marshal(protocol.SessionMsg{Type: protocol.TypeSession, ProtocolVersion: protocol.Version, Session: stale})
	s.handleFrame(b)

	if got := s.Session().Rev; got != 6 {
		t.Fatalf("rev = %d, want refetched 6", got)
	}
	if w := s.Winner(); w != "bob" {
		t.Fatalf("winner = %q, want bob (from final positions)", w)
	}
	if ft.gets() != 1 {
		t.Fatalf("getCalls = %d, want exactly 1 refetch", ft.gets())
	}
}

func TestSuspendStopsPollingResumeResyncs(t *testing.T) {
	ft := &fakeTransport{doc: testDoc(1, session.StatusPlaying)}
	long := Intervals{Slow: time.Hour, Fast: time.Hour, OwnTurn: time.Hour, Wait: time.Hour}
	s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: ft, Intervals: long})
	s.Start()
	defer s.Close()

	time.Sleep(20 * time.Millisecond)
	if ft.gets() != 0 {
		t.Fatalf("getCalls = %d before any timer fired", ft.gets())
	}
	s.Resume()
	waitFor(t, func() bool { return ft.gets() == 1 }, "Resume did not trigger an immediate poll")

	s.Suspend()
	s.Resume() // clears suspension, polls again
	waitFor(t, func() bool { return ft.gets() == 2 }, "second Resume did not poll")
}

func TestCommandMergesAckAndStaleRejectionIsNoOp(t *testing.T) {
	after := testDoc(2, session.StatusPlaying)
	after.CurrentPlayerID = "bob"
	ft := &fakeTransport{
		rollAck: protocol.CommandAck{Accepted: true, Session: after, Move: &session.Move{Seq: 1, PlayerID: "alice"}},
	}
	s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: ft})
	s.submit(testDoc(1, session.StatusPlaying), nil)

	ack, err := s.Roll(context.Background())
	if err != nil || !ack.Accepted {
		t.Fatalf("Roll: ack=%+v err=%v", ack, err)
	}
	if got := s.Session(); got.Rev != 2 || got.CurrentPlayerID != "bob" {
		t.Fatalf("doc = rev %d current %q, want ack merged", got.Rev, got.CurrentPlayerID)
	}

	ft.mu.Lock()
	ft.rollAck = protocol.CommandAck{Accepted: false, Code: protocol.ErrNotYourTurn, Session: after}
	ft.mu.Unlock()
	ack, err = s.Roll(context.Background())
	if err != nil {
		t.Fatalf("stale rejection surfaced as error: %v", err)
	}
	if ack.Accepted || ack.Code != protocol.ErrNotYourTurn {
		t.Fatalf("ack = %+v, want E_NOT_YOUR_TURN no-op", ack)
	}
	if ft.rollCalls != 2 {
		t.Fatalf("rollCalls = %d, want 2 (no auto-retry)", ft.rollCalls)
	}
}

func TestPushFrameConvergesDocument(t *testing.T) {
	ft := &fakeTransport{doc: testDoc(1, session.StatusPlaying)}
	s := NewSyncer(Options{SessionID: "s1", PlayerID: "alice", Transport: ft})

	next := testDoc(3, session.StatusPlaying)
	next.Positions["alice"] = 4
	b, _ := json.Marshal(protocol.SessionMsg{Type: protocol.TypeSession, ProtocolVersion: protocol.Version, Session: next})
	s.handleFrame(b)

	got := s.Session()
	if got.Rev != 3 || got.Positions["alice"] != 4 {
		t.Fatalf("doc = %+v, want pushed rev 3", got)
	}
}
