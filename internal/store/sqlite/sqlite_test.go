package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/casaflow/chatcore/internal/model"
	"github.com/casaflow/chatcore/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessions_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Sessions().Create(ctx, "tenant-1", "Leaky dishwasher")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.SessionID == "" {
		t.Fatal("expected generated session id")
	}

	got, err := s.Sessions().Get(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerID != "tenant-1" || got.Title != "Leaky dishwasher" {
		t.Fatalf("unexpected record: %+v", got)
	}

	_, err = s.Sessions().Get(ctx, "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessions_IsOwnedBy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Sessions().Create(ctx, "tenant-1", "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		name      string
		sessionID string
		ownerID   string
		want      bool
	}{
		{"owner matches", rec.SessionID, "tenant-1", true},
		{"wrong owner", rec.SessionID, "tenant-2", false},
		{"unknown session", "missing", "tenant-1", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ok, err := s.Sessions().IsOwnedBy(ctx, c.sessionID, c.ownerID)
			if err != nil {
				t.Fatalf("isOwnedBy: %v", err)
			}
			if ok != c.want {
				t.Fatalf("expected %v, got %v", c.want, ok)
			}
		})
	}
}

func TestSessions_SetMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.Sessions().Create(ctx, "tenant-1", "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Sessions().SetMetadata(ctx, rec.SessionID, []byte(`{"summary":"x"}`)); err != nil {
		t.Fatalf("setMetadata: %v", err)
	}
	got, err := s.Sessions().Get(ctx, rec.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Metadata) != `{"summary":"x"}` {
		t.Fatalf("metadata not stored: %s", got.Metadata)
	}
	if got.UpdateTime == nil {
		t.Fatal("expected update_time to be set")
	}

	err = s.Sessions().SetMetadata(ctx, "missing", []byte(`{}`))
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func appendReq(sessionID, content, role string) store.AppendMessageRequest {
	return store.AppendMessageRequest{
		SessionID: sessionID,
		MessageID: ulid.Make().String(),
		Content:   content,
		Role:      role,
	}
}

func TestMessages_AppendIdempotentWithinWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Sessions().Create(ctx, "tenant-1", "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := s.Messages().Append(ctx, appendReq(sess.SessionID, "my sink is clogged", "user"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := s.Messages().Append(ctx, appendReq(sess.SessionID, "my sink is clogged", "user"))
	if err != nil {
		t.Fatalf("retry append: %v", err)
	}
	if first.MessageID != second.MessageID {
		t.Fatalf("duplicate append created a new row: %s vs %s", first.MessageID, second.MessageID)
	}

	msgs, err := s.Messages().List(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one stored message, got %d", len(msgs))
	}
}

func TestMessages_AppendOutsideWindowNotDeduped(t *testing.T) {
	now := time.Now()
	s := openTestStore(t)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	sess, err := s.Sessions().Create(ctx, "tenant-1", "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Messages().Append(ctx, appendReq(sess.SessionID, "hello", "user")); err != nil {
		t.Fatalf("append: %v", err)
	}
	now = now.Add(11 * time.Second)
	if _, err := s.Messages().Append(ctx, appendReq(sess.SessionID, "hello", "user")); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.Messages().List(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages outside dedup window, got %d", len(msgs))
	}
}

func TestMessages_ListOrderedAscending(t *testing.T) {
	now := time.Now()
	s := openTestStore(t)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	sess, err := s.Sessions().Create(ctx, "tenant-1", "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if _, err := s.Messages().Append(ctx, appendReq(sess.SessionID, c, "user")); err != nil {
			t.Fatalf("append %q: %v", c, err)
		}
		now = now.Add(time.Second)
	}

	msgs, err := s.Messages().List(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, c := range contents {
		if msgs[i].Content != c {
			t.Fatalf("position %d: expected %q, got %q", i, c, msgs[i].Content)
		}
	}
}

func TestMessages_MetadataAndParentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Sessions().Create(ctx, "tenant-1", "t")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	parent := ulid.Make().String()
	req := store.AppendMessageRequest{
		SessionID: sess.SessionID,
		MessageID: ulid.Make().String(),
		Content:   "reply",
		Role:      "assistant",
		Metadata:  []byte(`{"model":"gpt"}`),
		ParentID:  &parent,
	}
	if _, err := s.Messages().Append(ctx, req); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.Messages().List(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := msgs[0]
	if string(got.Metadata) != `{"model":"gpt"}` {
		t.Fatalf("metadata lost: %s", got.Metadata)
	}
	if got.ParentID == nil || *got.ParentID != parent {
		t.Fatalf("parent lost: %v", got.ParentID)
	}
}
