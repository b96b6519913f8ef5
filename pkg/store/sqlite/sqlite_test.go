package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/n0ot/teamchat/pkg/store"
	"github.com/n0ot/teamchat/pkg/store/storetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "teamchat.db"))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTempStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("Open accepted a blank path")
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teamchat.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	ctx := context.Background()
	if _, err := s.Append(ctx, store.Message{RoomID: "R1", SenderID: "u1", Content: "persisted"}); err != nil {
		t.Fatalf("Append: %s", err)
	}
	if err := s.MarkRead(ctx, "R1", "u1", 1); err != nil {
		t.Fatalf("MarkRead: %s", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("Reopen: %s", err)
	}
	defer s.Close()

	next, err := s.Append(ctx, store.Message{RoomID: "R1", SenderID: "u2", Content: "after"})
	if err != nil {
		t.Fatalf("Append: %s", err)
	}
	if next.Sequence != 2 {
		t.Errorf("Wanted sequence 2 after reopening, got %d", next.Sequence)
	}
	if seq, _ := s.LastRead(ctx, "R1", "u1"); seq != 1 {
		t.Errorf("Read marker lost on reopen: got %d", seq)
	}
}
