// Package store persists session documents and move records in sqlite so a
// restarted server resumes live matches. Writes go through a single writer
// goroutine; the engine remains the authority for in-flight state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"starsteps.app/internal/session"
)

type Store struct {
	db  *sql.DB
	log *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqMove
	reqBarrier
)

type req struct {
	kind reqKind

	sess *session.Session
	move session.Move
	done chan struct{}
}

func Open(path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:  db,
		log: logger,
		ch:  make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style move log; NORMAL is a fair durability
	// tradeoff for state that the engine re-derives on conflict anyway.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			rev INTEGER NOT NULL,
			status TEXT NOT NULL,
			doc TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);`,
		`CREATE TABLE IF NOT EXISTS moves (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			player_id TEXT NOT NULL,
			dice INTEGER NOT NULL,
			from_pos INTEGER NOT NULL,
			to_pos INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// SaveSession enqueues a durability write for an already-cloned document.
// The rev guard in the upsert keeps replays from rolling the row back.
func (s *Store) SaveSession(doc *session.Session) {
	if s == nil || doc == nil || s.closed.Load() {
		return
	}
	s.ch <- req{kind: reqSession, sess: doc}
}

// AppendMove enqueues a move record insert. Duplicate (session, seq) pairs
// are ignored, which makes replays harmless.
func (s *Store) AppendMove(m session.Move) {
	if s == nil || s.closed.Load() {
		return
	}
	s.ch <- req{kind: reqMove, move: m}
}

// Flush blocks until every write enqueued before the call has been applied.
func (s *Store) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqBarrier, done: done}
	<-done
}

func (s *Store) loop() {
	upsert, _ := s.db.Prepare(`INSERT INTO sessions(id,rev,status,doc,updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET rev=excluded.rev, status=excluded.status, doc=excluded.doc, updated_at=excluded.updated_at
		WHERE excluded.rev > sessions.rev`)
	insertMove, _ := s.db.Prepare(`INSERT OR IGNORE INTO moves(session_id,seq,player_id,dice,from_pos,to_pos,created_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if upsert != nil {
			_ = upsert.Close()
		}
		if insertMove != nil {
			_ = insertMove.Close()
		}
	}()

	for r := range s.ch {
		switch r.kind {
		case reqSession:
			doc, err := json.Marshal(r.sess)
			if err != nil {
				s.logf("marshal session %s: %v", r.sess.ID, err)
				continue
			}
			if _, err := upsert.Exec(r.sess.ID, r.sess.Rev, string(r.sess.Status), string(doc), r.sess.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
				s.logf("save session %s: %v", r.sess.ID, err)
			}
		case reqMove:
			m := r.move
			if _, err := insertMove.Exec(m.SessionID, m.Seq, m.PlayerID, m.Dice, m.From, m.To, m.CreatedAt.Format(time.RFC3339Nano)); err != nil {
				s.logf("append move %s/%d: %v", m.SessionID, m.Seq, err)
			}
		case reqBarrier:
			close(r.done)
		}
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// LoadSession reads one document. The bool reports existence.
func (s *Store) LoadSession(ctx context.Context, id string) (*session.Session, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sessions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc session.Session
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, false, fmt.Errorf("session %s: %w", id, err)
	}
	return &doc, true, nil
}

// LoadActiveSessions returns every non-completed document, for engine resume.
func (s *Store) LoadActiveSessions(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM sessions WHERE status != ?`, string(session.StatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*session.Session
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc session.Session
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, err
		}
		out = append(out, &doc)
	}
	return out, rows.Err()
}

// LatestMove returns the highest-seq move for a session, if any.
func (s *Store) LatestMove(ctx context.Context, sessionID string) (*session.Move, bool, error) {
	var (
		m         session.Move
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, seq, player_id, dice, from_pos, to_pos, created_at
		 FROM moves WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, sessionID).
		Scan(&m.SessionID, &m.Seq, &m.PlayerID, &m.Dice, &m.From, &m.To, &createdAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if ts, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		m.CreatedAt = ts
	}
	return &m, true, nil
}

// MaxMoveSeq returns the last assigned move sequence for a session.
func (s *Store) MaxMoveSeq(ctx context.Context, sessionID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM moves WHERE session_id = ?`, sessionID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
