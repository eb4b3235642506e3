package protocol_test

import (
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"starsteps.app/internal/protocol"
	"starsteps.app/internal/session"
)

func init() {
	// The schemas carry https $ids, so relative $refs resolve to https
	// URLs; serve those from the local schemas directory.
	jsonschema.Loaders["https"] = func(url string) (io.ReadCloser, error) {
		return os.Open(filepath.Join("..", "..", "schemas", path.Base(url)))
	}
}

func TestSchemas_ValidateLiveMessages(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(doc); err != nil {
			t.Fatalf("validate: %v\n%s", err, b)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	sessionSchema := compile("session.schema.json")
	moveSchema := compile("move.schema.json")

	doc := session.New("s1", "alice", 49, map[int]session.CellKind{13: session.CellTrap})
	if err := session.Join(doc, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	doc.Positions["alice"] = 10
	out, err := session.ApplyRoll(doc, "alice", 3, session.DefaultRules())
	if err != nil {
		t.Fatalf("ApplyRoll: %v", err)
	}
	if out.TaskCreated == nil {
		t.Fatal("expected trap task for schema sample")
	}

	validate(helloSchema, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		SessionID:       doc.ID,
		PlayerID:        "alice",
	})
	validate(sessionSchema, doc)
	validate(welcomeSchema, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       doc.ID,
		PlayerID:        "alice",
		Session:         doc,
	})
	validate(moveSchema, protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		Move: &session.Move{
			SessionID: doc.ID,
			Seq:       1,
			PlayerID:  "alice",
			Dice:      out.Dice,
			From:      out.From,
			To:        out.To,
		},
	})
}
