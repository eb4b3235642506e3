// Bot plays one session end to end through the sync library: it creates or
// joins a session, keeps a local projection converged via push+poll, and
// reacts to its own turns and task obligations until the game completes.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"starsteps.app/internal/client"
	"starsteps.app/internal/session"
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:8080", "server base url")
		wsURL     = flag.String("ws", "", "push feed url (default: derived from -url)")
		sessionID = flag.String("session", "", "session to join (empty: create a new one)")
		player    = flag.String("player", "bot", "player id")
		boardSize = flag.Int("board", 0, "board size when creating (0: server default)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	transport := client.NewHTTPTransport(*baseURL)

	ctx := context.Background()
	id := *sessionID
	if id == "" {
		ack, err := transport.Create(ctx, *player, *boardSize)
		if err != nil || !ack.Accepted {
			logger.Fatalf("create session: ack=%+v err=%v", ack, err)
		}
		id = ack.Session.ID
		logger.Printf("created session %s, waiting for an opponent", id)
	} else {
		ack, err := transport.Join(ctx, id, *player)
		if err != nil || !ack.Accepted {
			logger.Fatalf("join %s: ack=%+v err=%v", id, ack, err)
		}
		logger.Printf("joined session %s", id)
	}

	feedURL := strings.TrimSpace(*wsURL)
	if feedURL == "" {
		feedURL = strings.Replace(*baseURL, "http", "ws", 1) + "/v1/ws"
	}

	updates := make(chan *session.Session, 16)
	anim := client.NewAnimator(100 * time.Millisecond)
	sc := client.NewSyncer(client.Options{
		SessionID: id,
		PlayerID:  *player,
		Transport: transport,
		Dialer:    &client.WSDialer{URL: feedURL},
		Logger:    logger,
		OnUpdate: func(doc *session.Session) {
			for pid, pos := range doc.Positions {
				anim.Observe(pid, pos)
			}
			select {
			case updates <- doc:
			default:
			}
		},
		OnMove: func(m session.Move) {
			logger.Printf("move #%d: %s rolled %d, %d -> %d", m.Seq, m.PlayerID, m.Dice, m.From, m.To)
		},
	})
	sc.Start()
	defer sc.Close()

	animCtx, animCancel := context.WithCancel(ctx)
	defer animCancel()
	go anim.Run(animCtx, func(pid string, pos int) {
		logger.Printf("  %s steps to %d", pid, pos)
	})

	for {
		select {
		case <-sc.Done():
			final := sc.Session()
			if final == nil {
				logger.Printf("session %s vanished", id)
				return
			}
			if w := sc.Winner(); w != "" {
				logger.Printf("game over after %d turns, winner %s", final.TurnCounter, w)
			} else {
				logger.Printf("game over after %d turns, draw", final.TurnCounter)
			}
			return
		case doc := <-updates:
			act(ctx, logger, sc, doc, *player)
		}
	}
}

// act issues at most one command per observed document; a rejection just
// waits for the next update.
func act(ctx context.Context, logger *log.Logger, sc *client.Syncer, doc *session.Session, me string) {
	if doc.Status != session.StatusPlaying {
		return
	}
	if task := doc.PendingTask; task != nil {
		switch {
		case task.Phase == session.TaskPending && task.ExecutorID == me:
			if task.Content != nil {
				logger.Printf("task (%s): %s", task.Type, task.Content.Text)
			}
			if _, err := sc.ConfirmExecution(ctx); err != nil {
				logger.Printf("confirm: %v", err)
			}
		case task.Phase == session.TaskExecuted && task.ObserverID == me:
			if _, err := sc.VerifyTask(ctx, true); err != nil {
				logger.Printf("verify: %v", err)
			}
		}
		return
	}
	if doc.CurrentPlayerID == me {
		ack, err := sc.Roll(ctx)
		if err != nil {
			logger.Printf("roll: %v", err)
			return
		}
		if !ack.Accepted {
			logger.Printf("roll rejected: %s", ack.Code)
		}
	}
}
