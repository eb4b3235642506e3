package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"starsteps.app/internal/protocol"
	"starsteps.app/internal/session"
	"starsteps.app/internal/tuning"
)

// Intervals are the adaptive poll periods plus the animation step delay.
type Intervals struct {
	Slow    time.Duration // status != playing
	Fast    time.Duration // task pending
	OwnTurn time.Duration // this player's turn
	Wait    time.Duration // waiting on the opponent
	Step    time.Duration // animation per-step delay
}

// IntervalsFrom converts the server-advertised tuning.
func IntervalsFrom(t tuning.SyncTuning) Intervals {
	return Intervals{
		Slow:    time.Duration(t.PollSlowSec) * time.Second,
		Fast:    time.Duration(t.PollFastSec) * time.Second,
		OwnTurn: time.Duration(t.PollOwnTurnSec) * time.Second,
		Wait:    time.Duration(t.PollWaitSec) * time.Second,
		Step:    time.Duration(t.StepDelayMs) * time.Millisecond,
	}
}

const maxFailStreak = 4

type Options struct {
	SessionID string
	PlayerID  string
	Transport Transport
	Dialer    FeedDialer // nil = poll only
	Intervals Intervals
	Logger    *log.Logger

	// OnUpdate fires after a candidate replaces the local document. Called
	// without internal locks held; the document is a private snapshot.
	OnUpdate func(*session.Session)
	// OnMove fires once per newly observed move record, in seq order as far
	// as the feeds allow.
	OnMove func(session.Move)
}

// Syncer keeps one local projection of one session converged with the
// server: push frames and poll reads feed the same revision-compared merge,
// and the first observation of a terminal state latches everything shut.
type Syncer struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *log.Logger

	wake chan struct{} // forces an immediate poll cycle

	mu          sync.Mutex
	doc         *session.Session
	lastMoveSeq uint64
	failStreak  int
	suspended   bool
	polling     bool
	latched     bool
	latching    bool
}

func NewSyncer(opts Options) *Syncer {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Intervals == (Intervals{}) {
		opts.Intervals = IntervalsFrom(tuning.Defaults().Sync)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		log:    opts.Logger,
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the poll loop and, when a dialer is present, the push loop.
func (s *Syncer) Start() {
	s.wg.Add(1)
	go s.pollLoop()
	if s.opts.Dialer != nil {
		s.wg.Add(1)
		go s.pushLoop()
	}
}

// Close tears the Syncer down unconditionally and waits for its goroutines.
func (s *Syncer) Close() {
	s.cancel()
	s.wg.Wait()
}

// Done is closed once the Syncer has shut down, whether by latch or Close.
func (s *Syncer) Done() <-chan struct{} { return s.ctx.Done() }

// Session returns a snapshot of the current local document, nil before the
// first successful sync.
func (s *Syncer) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Latched reports whether the terminal latch is set.
func (s *Syncer) Latched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latched
}

// Winner re-derives the outcome from the final document.
func (s *Syncer) Winner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.DeriveWinner(s.doc)
}

// Suspend stops the poll timer (background tab, backgrounded process). Push
// frames still merge if the feed stays up.
func (s *Syncer) Suspend() {
	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()
}

// Resume restarts polling with an immediate resync read. A no-op once the
// latch is set.
func (s *Syncer) Resume() {
	s.mu.Lock()
	if s.latched {
		s.mu.Unlock()
		return
	}
	s.suspended = false
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Roll issues a dice-roll command with a fresh idempotency key.
func (s *Syncer) Roll(ctx context.Context) (protocol.CommandAck, error) {
	return s.command(ctx, func(cmdID string) (protocol.CommandAck, error) {
		return s.opts.Transport.Roll(ctx, s.opts.SessionID, s.opts.PlayerID, cmdID)
	})
}

// ConfirmExecution marks the pending task done as its executor.
func (s *Syncer) ConfirmExecution(ctx context.Context) (protocol.CommandAck, error) {
	return s.command(ctx, func(cmdID string) (protocol.CommandAck, error) {
		return s.opts.Transport.Confirm(ctx, s.opts.SessionID, s.opts.PlayerID, cmdID)
	})
}

// VerifyTask resolves the executed task as its observer.
func (s *Syncer) VerifyTask(ctx context.Context, accepted bool) (protocol.CommandAck, error) {
	return s.command(ctx, func(cmdID string) (protocol.CommandAck, error) {
		return s.opts.Transport.Verify(ctx, s.opts.SessionID, s.opts.PlayerID, accepted, cmdID)
	})
}

// command wraps every game command: refused locally after the latch, ack
// document merged on return, stale rejections surfaced but never retried.
func (s *Syncer) command(ctx context.Context, do func(cmdID string) (protocol.CommandAck, error)) (protocol.CommandAck, error) {
	if s.Latched() {
		return protocol.CommandAck{}, ErrLatched
	}
	ack, err := do(uuid.NewString())
	if errors.Is(err, ErrNotFound) {
		s.latch(false)
		return ack, ErrLatched
	}
	if err != nil {
		return ack, err
	}
	if ack.Session != nil {
		s.submit(ack.Session, ack.Move)
	}
	return ack, nil
}

// pollLoop is the single timer goroutine. Each cycle reads the document,
// submits it to the merge and recomputes the interval from what it sees.
func (s *Syncer) pollLoop() {
	defer s.wg.Done()
	for {
		timer := time.NewTimer(s.nextInterval())
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
		s.mu.Lock()
		skip := s.suspended || s.polling || s.latched
		if !skip {
			s.polling = true
		}
		s.mu.Unlock()
		if skip {
			continue
		}
		s.pollOnce()
		s.mu.Lock()
		s.polling = false
		s.mu.Unlock()
	}
}

func (s *Syncer) pollOnce() {
	doc, move, err := s.opts.Transport.Get(s.ctx, s.opts.SessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		// Vanished mid-game: implicit completion.
		s.latch(false)
	case err != nil:
		s.mu.Lock()
		if s.failStreak < maxFailStreak {
			s.failStreak++
		}
		streak := s.failStreak
		s.mu.Unlock()
		if s.ctx.Err() == nil {
			s.log.Printf("poll %s: %v (streak %d)", s.opts.SessionID, err, streak)
		}
	default:
		s.mu.Lock()
		s.failStreak = 0
		s.mu.Unlock()
		s.submit(doc, move)
	}
}

// nextInterval picks the poll period from the last observed document, with a
// failure-streak multiplier on top.
func (s *Syncer) nextInterval() time.Duration {
	s.mu.Lock()
	doc, streak := s.doc, s.failStreak
	s.mu.Unlock()

	iv := s.opts.Intervals
	var d time.Duration
	switch {
	case doc == nil:
		d = iv.Wait
	case doc.Status != session.StatusPlaying:
		d = iv.Slow
	case doc.PendingTask != nil:
		d = iv.Fast
	case doc.CurrentPlayerID == s.opts.PlayerID:
		d = iv.OwnTurn
	default:
		d = iv.Wait
	}
	return d * time.Duration(1+streak)
}

// pushLoop keeps one feed connection alive, reconnecting with backoff. A
// dead feed degrades the Syncer to polling alone, never to an error.
func (s *Syncer) pushLoop() {
	defer s.wg.Done()
	backoff := time.Second
	for s.ctx.Err() == nil {
		feed, err := s.opts.Dialer.Dial(s.ctx, s.opts.SessionID, s.opts.PlayerID)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Printf("push dial %s: %v", s.opts.SessionID, err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second
		s.readFeed(feed)
	}
}

func (s *Syncer) readFeed(feed Feed) {
	defer feed.Close()
	for {
		b, err := feed.Next()
		if err != nil {
			return
		}
		s.handleFrame(b)
		if s.Latched() {
			return
		}
	}
}

func (s *Syncer) handleFrame(b []byte) {
	base, err := protocol.DecodeBase(b)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var msg protocol.WelcomeMsg
		if jsonUnmarshal(b, &msg) && msg.Session != nil {
			s.submit(msg.Session, nil)
		}
	case protocol.TypeSession:
		var msg protocol.SessionMsg
		if jsonUnmarshal(b, &msg) && msg.Session != nil {
			s.submit(msg.Session, nil)
		}
	case protocol.TypeMove:
		var msg protocol.MoveMsg
		if jsonUnmarshal(b, &msg) && msg.Move != nil {
			s.submit(nil, msg.Move)
		}
	}
}

func jsonUnmarshal(b []byte, v any) bool {
	return json.Unmarshal(b, v) == nil
}

// submit is the single merge path for both feeds. Full-state comparison on
// Rev makes it idempotent under duplication and reordering: whichever feed
// observes a change first wins and the other's candidate becomes a no-op.
func (s *Syncer) submit(doc *session.Session, move *session.Move) {
	s.mu.Lock()
	if s.latched {
		s.mu.Unlock()
		return
	}
	var newMove *session.Move
	if move != nil && move.Seq > s.lastMoveSeq {
		s.lastMoveSeq = move.Seq
		newMove = move
	}
	var updated *session.Session
	if doc != nil && (s.doc == nil || doc.Rev > s.doc.Rev) {
		s.doc = doc.Clone()
		updated = s.doc.Clone()
	}
	completed := s.doc != nil && s.doc.Status == session.StatusCompleted
	s.mu.Unlock()

	if newMove != nil && s.opts.OnMove != nil {
		s.opts.OnMove(*newMove)
	}
	if updated != nil && s.opts.OnUpdate != nil {
		s.opts.OnUpdate(updated)
	}
	if completed {
		s.latch(true)
	}
}

// latch performs the terminal transition exactly once: an optional final
// authoritative read so the outcome is derived from final positions, then
// the latched flag, then cancellation of every loop. Nothing touches the
// network after the flag is set.
func (s *Syncer) latch(refetch bool) {
	s.mu.Lock()
	if s.latched || s.latching {
		s.mu.Unlock()
		return
	}
	s.latching = true
	s.mu.Unlock()

	if refetch {
		if doc, move, err := s.opts.Transport.Get(s.ctx, s.opts.SessionID); err == nil && doc != nil {
			s.mu.Lock()
			if s.doc == nil || doc.Rev > s.doc.Rev {
				s.doc = doc.Clone()
			}
			if move != nil && move.Seq > s.lastMoveSeq {
				s.lastMoveSeq = move.Seq
			}
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.latched = true
	final := s.doc.Clone()
	s.mu.Unlock()
	s.cancel()

	if s.opts.OnUpdate != nil && final != nil {
		s.opts.OnUpdate(final)
	}
}
