package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestMarkActive_ExactlyOneActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := s.SaveSession(ctx, &Session{ID: id, Name: "Nuova conversazione"}); err != nil {
			t.Fatalf("save session %s: %v", id, err)
		}
	}

	if err := s.MarkActive(ctx, "s1"); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	if err := s.MarkActive(ctx, "s3"); err != nil {
		t.Fatalf("mark active: %v", err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	active := 0
	for _, sess := range sessions {
		if sess.IsActive {
			active++
			if sess.ID != "s3" {
				t.Fatalf("wrong session active: %s", sess.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active session, got %d", active)
	}
}

func TestMessagesRoundTripWithAttachments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, &Session{ID: "s1", Name: "n"}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	msg := apitypes.Message{
		ID:      "m1",
		Type:    apitypes.MessageTypeUser,
		Content: "vedi allegato",
		Attachments: []apitypes.Attachment{
			{ID: "att-1", Filename: "f24.pdf", Size: 1234, Type: "application/pdf"},
		},
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveMessage(ctx, "s1", msg); err != nil {
		t.Fatalf("save message: %v", err)
	}

	got, err := s.MessagesBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if len(got[0].Attachments) != 1 || got[0].Attachments[0].Filename != "f24.pdf" {
		t.Fatalf("attachments lost in round trip: %+v", got[0].Attachments)
	}

	n, err := s.CountMessages(ctx, "s1")
	if err != nil || n != 1 {
		t.Fatalf("count messages: n=%d err=%v", n, err)
	}
}

func TestCurrentSessionIDPersistence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CurrentSessionID(ctx)
	if err != nil {
		t.Fatalf("read empty current id: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty id before any save, got %q", id)
	}

	if err := s.SetCurrentSessionID(ctx, "s42"); err != nil {
		t.Fatalf("set current id: %v", err)
	}
	if err := s.SetCurrentSessionID(ctx, "s43"); err != nil {
		t.Fatalf("overwrite current id: %v", err)
	}

	id, err = s.CurrentSessionID(ctx)
	if err != nil || id != "s43" {
		t.Fatalf("expected s43, got %q err=%v", id, err)
	}

	if err := s.ClearCurrentSessionID(ctx); err != nil {
		t.Fatalf("clear current id: %v", err)
	}
	id, _ = s.CurrentSessionID(ctx)
	if id != "" {
		t.Fatalf("expected empty id after clear, got %q", id)
	}
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, &Session{ID: "s1", Name: "n"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	for i, id := range []string{"m1", "m2"} {
		msg := apitypes.Message{ID: id, Type: apitypes.MessageTypeUser, Content: "x", Timestamp: time.Now().Add(time.Duration(i) * time.Second)}
		if err := s.SaveMessage(ctx, "s1", msg); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	n, err := s.CountMessages(ctx, "s1")
	if err != nil || n != 0 {
		t.Fatalf("messages not removed: n=%d err=%v", n, err)
	}
}
