// Package engine is the command layer: the single goroutine that owns every
// session document and applies the three game commands plus create/join.
// Serializing all mutation through one loop makes each transition conditional
// on the current stored state, which is what keeps client retries safe.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"starsteps.app/internal/catalog"
	"starsteps.app/internal/dice"
	"starsteps.app/internal/persistence/movelog"
	"starsteps.app/internal/protocol"
	"starsteps.app/internal/session"
	"starsteps.app/internal/store"
	"starsteps.app/internal/tuning"
)

// ErrStopped is returned for requests against a stopped engine.
var ErrStopped = errors.New("engine stopped")

type Config struct {
	Tuning  tuning.Tuning
	Roller  *dice.Roller
	Catalog *catalog.Catalog    // optional
	Store   *store.Store        // optional
	MoveLog *movelog.MoveLogger // optional
	Audit   *movelog.AuditLogger
	Logger  *log.Logger
}

type Engine struct {
	cfg   Config
	rules session.Rules
	log   *log.Logger

	req  chan request
	stop chan struct{}

	// Loop-owned state; never touched outside Run.
	sessions  map[string]*sessionState
	dedupe    map[dedupeKey]dedupeEntry
	nextSubID uint64
}

type sessionState struct {
	doc      *session.Session
	lastMove *session.Move
	moveSeq  uint64
	subs     map[uint64]chan []byte
}

type reqKind int

const (
	reqCreate reqKind = iota + 1
	reqJoin
	reqRoll
	reqConfirm
	reqVerify
	reqGet
	reqSubscribe
	reqUnsubscribe
	reqMetrics
)

type request struct {
	kind reqKind

	sessionID string
	playerID  string
	cmdID     string
	boardSize int
	accepted  bool

	out   chan []byte
	subID uint64

	resp chan response
}

type response struct {
	ack     protocol.CommandAck
	found   bool
	doc     *session.Session
	move    *session.Move
	subID   uint64
	metrics Metrics
}

// Metrics is a point-in-time snapshot for the /metrics endpoint.
type Metrics struct {
	Sessions    int
	Playing     int
	Completed   int
	Subscribers int
	QueueDepth  int
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Roller == nil {
		cfg.Roller = dice.NewRoller(cfg.Tuning.Seed)
	}
	return &Engine{
		cfg:      cfg,
		rules:    cfg.Tuning.Rules(),
		log:      logger,
		req:      make(chan request, 64),
		stop:     make(chan struct{}),
		sessions: make(map[string]*sessionState),
		dedupe:   make(map[dedupeKey]dedupeEntry),
	}
}

// Restore loads non-completed sessions from the store before Run starts.
func (e *Engine) Restore(ctx context.Context) error {
	if e.cfg.Store == nil {
		return nil
	}
	docs, err := e.cfg.Store.LoadActiveSessions(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		seq, err := e.cfg.Store.MaxMoveSeq(ctx, doc.ID)
		if err != nil {
			return err
		}
		move, _, err := e.cfg.Store.LatestMove(ctx, doc.ID)
		if err != nil {
			return err
		}
		e.sessions[doc.ID] = &sessionState{
			doc:      doc,
			lastMove: move,
			moveSeq:  seq,
			subs:     make(map[uint64]chan []byte),
		}
	}
	if len(docs) > 0 {
		e.log.Printf("restored %d active sessions", len(docs))
	}
	return nil
}

// Run processes requests until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case r := <-e.req:
			e.handle(r)
		case <-cleanup.C:
			e.expireDedupe(time.Now())
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) handle(r request) {
	var resp response
	switch r.kind {
	case reqCreate:
		resp = e.handleCreate(r)
	case reqJoin:
		resp = e.handleJoin(r)
	case reqRoll, reqConfirm, reqVerify:
		resp = e.handleCommand(r)
	case reqGet:
		resp = e.handleGet(r)
	case reqSubscribe:
		resp = e.handleSubscribe(r)
	case reqUnsubscribe:
		resp = e.handleUnsubscribe(r)
	case reqMetrics:
		resp = e.handleMetrics()
	}
	if r.resp != nil {
		select {
		case r.resp <- resp:
		default:
		}
	}
}

func (e *Engine) send(ctx context.Context, r request) (response, error) {
	r.resp = make(chan response, 1)
	select {
	case e.req <- r:
	case <-e.stop:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-r.resp:
		return resp, nil
	case <-e.stop:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Create starts a new session hosted by playerID. A zero boardSize takes the
// tuning default.
func (e *Engine) Create(ctx context.Context, playerID string, boardSize int) (protocol.CommandAck, error) {
	resp, err := e.send(ctx, request{kind: reqCreate, playerID: playerID, boardSize: boardSize})
	return resp.ack, err
}

// Join admits the second player and starts the match.
func (e *Engine) Join(ctx context.Context, sessionID, playerID string) (protocol.CommandAck, error) {
	resp, err := e.send(ctx, request{kind: reqJoin, sessionID: sessionID, playerID: playerID})
	return resp.ack, err
}

// Roll requests a dice roll for the acting player.
func (e *Engine) Roll(ctx context.Context, sessionID, playerID, cmdID string) (protocol.CommandAck, error) {
	resp, err := e.send(ctx, request{kind: reqRoll, sessionID: sessionID, playerID: playerID, cmdID: cmdID})
	return resp.ack, err
}

// Confirm marks the pending task executed by its executor.
func (e *Engine) Confirm(ctx context.Context, sessionID, playerID, cmdID string) (protocol.CommandAck, error) {
	resp, err := e.send(ctx, request{kind: reqConfirm, sessionID: sessionID, playerID: playerID, cmdID: cmdID})
	return resp.ack, err
}

// Verify resolves the executed task as its observer.
func (e *Engine) Verify(ctx context.Context, sessionID, playerID string, accepted bool, cmdID string) (protocol.CommandAck, error) {
	resp, err := e.send(ctx, request{kind: reqVerify, sessionID: sessionID, playerID: playerID, accepted: accepted, cmdID: cmdID})
	return resp.ack, err
}

// Get is the poll read: current document plus latest move record.
func (e *Engine) Get(ctx context.Context, sessionID string) (*session.Session, *session.Move, bool, error) {
	resp, err := e.send(ctx, request{kind: reqGet, sessionID: sessionID})
	if err != nil {
		return nil, nil, false, err
	}
	return resp.doc, resp.move, resp.found, nil
}

// Subscribe attaches a push-feed channel to the session and returns the
// subscription id plus the current document for the WELCOME message.
func (e *Engine) Subscribe(ctx context.Context, sessionID string, out chan []byte) (uint64, *session.Session, bool, error) {
	resp, err := e.send(ctx, request{kind: reqSubscribe, sessionID: sessionID, out: out})
	if err != nil {
		return 0, nil, false, err
	}
	return resp.subID, resp.doc, resp.found, nil
}

// Unsubscribe detaches a push-feed channel.
func (e *Engine) Unsubscribe(ctx context.Context, sessionID string, subID uint64) error {
	_, err := e.send(ctx, request{kind: reqUnsubscribe, sessionID: sessionID, subID: subID})
	return err
}

// Stats returns a snapshot of loop-owned counters.
func (e *Engine) Stats(ctx context.Context) (Metrics, error) {
	resp, err := e.send(ctx, request{kind: reqMetrics})
	return resp.metrics, err
}

func (e *Engine) handleMetrics() response {
	var m Metrics
	m.Sessions = len(e.sessions)
	m.QueueDepth = len(e.req)
	for _, st := range e.sessions {
		switch st.doc.Status {
		case session.StatusPlaying:
			m.Playing++
		case session.StatusCompleted:
			m.Completed++
		}
		m.Subscribers += len(st.subs)
	}
	return response{metrics: m}
}
