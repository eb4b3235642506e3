package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"starsteps.app/internal/protocol"
	"starsteps.app/internal/session"
)

// HTTPTransport talks to the httpapi endpoints. It also carries the
// create/join calls the Syncer itself never issues.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *HTTPTransport) Get(ctx context.Context, sessionID string) (*session.Session, *session.Move, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/v1/sessions/"+sessionID, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("get session: status %d", resp.StatusCode)
	}
	var poll protocol.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return nil, nil, err
	}
	return poll.Session, poll.Move, nil
}

func (t *HTTPTransport) Create(ctx context.Context, playerID string, boardSize int) (protocol.CommandAck, error) {
	return t.post(ctx, "/v1/sessions", protocol.CreateRequest{PlayerID: playerID, BoardSize: boardSize})
}

func (t *HTTPTransport) Join(ctx context.Context, sessionID, playerID string) (protocol.CommandAck, error) {
	return t.post(ctx, "/v1/sessions/"+sessionID+"/join", protocol.JoinRequest{PlayerID: playerID})
}

func (t *HTTPTransport) Roll(ctx context.Context, sessionID, playerID, cmdID string) (protocol.CommandAck, error) {
	return t.post(ctx, "/v1/sessions/"+sessionID+"/roll", protocol.RollRequest{PlayerID: playerID, CmdID: cmdID})
}

func (t *HTTPTransport) Confirm(ctx context.Context, sessionID, playerID, cmdID string) (protocol.CommandAck, error) {
	return t.post(ctx, "/v1/sessions/"+sessionID+"/confirm", protocol.ConfirmRequest{PlayerID: playerID, CmdID: cmdID})
}

func (t *HTTPTransport) Verify(ctx context.Context, sessionID, playerID string, accepted bool, cmdID string) (protocol.CommandAck, error) {
	return t.post(ctx, "/v1/sessions/"+sessionID+"/verify", protocol.VerifyRequest{PlayerID: playerID, Accepted: accepted, CmdID: cmdID})
}

func (t *HTTPTransport) post(ctx context.Context, path string, body any) (protocol.CommandAck, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return protocol.CommandAck{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return protocol.CommandAck{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return protocol.CommandAck{}, err
	}
	defer resp.Body.Close()

	var ack protocol.CommandAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return protocol.CommandAck{}, err
	}
	// 404 carries an ack body too; surface the sentinel so callers route it
	// through the latch path.
	if resp.StatusCode == http.StatusNotFound || ack.Code == protocol.ErrNotFound {
		return ack, ErrNotFound
	}
	return ack, nil
}
