package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"starsteps.app/internal/protocol"
)

// WSDialer opens the websocket push feed and performs the HELLO handshake.
type WSDialer struct {
	URL string // e.g. ws://host:8080/v1/ws
}

// feedReadWait bounds the gap between server pings (sent every ~54s) and
// frames; a silent connection past it is treated as dead and redialed.
const feedReadWait = 90 * time.Second

type wsFeed struct {
	conn    *websocket.Conn
	pending []byte // WELCOME frame, handed to the first Next
}

func (d *WSDialer) Dial(ctx context.Context, sessionID, playerID string) (Feed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, err
	}
	// The read loop blocks inside Next; closing on ctx cancellation is the
	// only way to unblock it.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		PlayerID:        playerID,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, err
	}

	// First frame must be the WELCOME; it flows to the merge like any other
	// full-document frame, so only the type is checked here.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, first, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, err
	}
	base, err := protocol.DecodeBase(first)
	if err != nil || base.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("handshake: expected WELCOME, got %q", base.Type)
	}
	// Server pings keep the idle feed alive; answering them inside the
	// handler refreshes the deadline, since ReadMessage never returns on
	// control frames.
	_ = conn.SetReadDeadline(time.Now().Add(feedReadWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	return &wsFeed{conn: conn, pending: first}, nil
}

func (f *wsFeed) Next() ([]byte, error) {
	if f.pending != nil {
		b := f.pending
		f.pending = nil
		return b, nil
	}
	_, b, err := f.conn.ReadMessage()
	if err == nil {
		_ = f.conn.SetReadDeadline(time.Now().Add(feedReadWait))
	}
	return b, err
}

func (f *wsFeed) Close() error { return f.conn.Close() }
