// Package client is the synchronization library a participant runs against
// one session: a websocket push feed merged with an adaptive poll loop over
// a single revision-compared document, plus the command calls.
package client

import (
	"context"
	"errors"

	"starsteps.app/internal/protocol"
	"starsteps.app/internal/session"
)

// ErrNotFound reports a vanished session. The Syncer treats it as an
// implicit terminal transition, not a failure.
var ErrNotFound = errors.New("session not found")

// ErrLatched is returned for commands issued after the terminal latch.
var ErrLatched = errors.New("session ended")

// Transport is the HTTP side: the poll read plus the three game commands.
type Transport interface {
	Get(ctx context.Context, sessionID string) (*session.Session, *session.Move, error)
	Roll(ctx context.Context, sessionID, playerID, cmdID string) (protocol.CommandAck, error)
	Confirm(ctx context.Context, sessionID, playerID, cmdID string) (protocol.CommandAck, error)
	Verify(ctx context.Context, sessionID, playerID string, accepted bool, cmdID string) (protocol.CommandAck, error)
}

// Feed is one established push connection. Next blocks until a frame
// arrives or the connection dies.
type Feed interface {
	Next() ([]byte, error)
	Close() error
}

// FeedDialer opens push connections. A nil dialer leaves the Syncer on
// polling alone.
type FeedDialer interface {
	Dial(ctx context.Context, sessionID, playerID string) (Feed, error)
}
