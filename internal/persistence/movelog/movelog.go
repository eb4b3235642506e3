// Package movelog appends move and command-audit records as hourly-rotated,
// zstd-compressed JSONL files. The sqlite store is the queryable index; these
// files are the raw history.
package movelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"starsteps.app/internal/session"
)

type jsonlZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func newJSONLZstdWriter(baseDir, prefix string) *jsonlZstdWriter {
	return &jsonlZstdWriter{baseDir: baseDir, prefix: prefix}
}

func (w *jsonlZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *jsonlZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *jsonlZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *jsonlZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *jsonlZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// MoveLogger writes one JSONL entry per accepted roll.
type MoveLogger struct{ w *jsonlZstdWriter }

func NewMoveLogger(dataDir string) *MoveLogger {
	return &MoveLogger{w: newJSONLZstdWriter(filepath.Join(dataDir, "moves"), "moves")}
}

func (l *MoveLogger) WriteMove(m session.Move) error { return l.w.Write(m) }
func (l *MoveLogger) Close() error                   { return l.w.Close() }

// CommandEntry is the audit record for every command the engine decided on,
// accepted or rejected.
type CommandEntry struct {
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id"`
	PlayerID  string    `json:"player_id"`
	Command   string    `json:"command"`
	CmdID     string    `json:"cmd_id,omitempty"`
	Accepted  bool      `json:"accepted"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Code      string    `json:"code,omitempty"`
	Rev       uint64    `json:"rev,omitempty"`
}

// AuditLogger writes command audit JSONL entries (compressed).
type AuditLogger struct{ w *jsonlZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: newJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteCommand(e CommandEntry) error { return l.w.Write(e) }
func (l *AuditLogger) Close() error                      { return l.w.Close() }
