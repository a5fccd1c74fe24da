package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateMessageAssignsIdentityAndStatus(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.CreateMessage(context.Background(), NewMessage{
		SenderID: 1, RecipientID: 2, Content: "hi", Type: "text",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("no message id assigned")
	}
	if rec.Status != StatusSent {
		t.Fatalf("status = %q, want %q", rec.Status, StatusSent)
	}
	if rec.Timestamp == 0 {
		t.Fatal("no timestamp assigned")
	}
}

func TestCreateMessageReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.CreateMessage(context.Background(), NewMessage{
		SenderID: 1, RecipientID: 2, Content: "hi", Type: "text",
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	rec.Status = "MANGLED"
	fresh, err := s.UpdateStatus(context.Background(), rec.ID, StatusDelivered)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if fresh.Status != StatusDelivered {
		t.Fatalf("status = %q, caller mutation leaked into the store", fresh.Status)
	}
}

func TestUpdateStatusUnknownMessage(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.UpdateStatus(context.Background(), "missing", StatusRead)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestConversationRollup(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	tick := 0
	s.Clock = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()

	for _, m := range []NewMessage{
		{SenderID: 1, RecipientID: 2, Content: "a", Type: "text"},
		{SenderID: 1, RecipientID: 2, Content: "b", Type: "text"},
		{SenderID: 3, RecipientID: 2, Content: "c", Type: "text"},
	} {
		if _, err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	convs, err := s.ListConversations(ctx, 2)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("conversations = %d, want 2", len(convs))
	}
	// most recent first
	if convs[0].PeerID != 3 || convs[0].LastContent != "c" {
		t.Fatalf("convs[0] = %+v, want peer 3 last 'c'", convs[0])
	}
	if convs[1].PeerID != 1 || convs[1].LastContent != "b" || convs[1].UnreadCount != 2 {
		t.Fatalf("convs[1] = %+v, want peer 1 last 'b' unread 2", convs[1])
	}

	total, err := s.TotalUnreadCount(ctx, 2)
	if err != nil {
		t.Fatalf("TotalUnreadCount: %v", err)
	}
	if total != 3 {
		t.Fatalf("total unread = %d, want 3", total)
	}

	// the sender holds no unread for their own messages
	senderTotal, err := s.TotalUnreadCount(ctx, 1)
	if err != nil {
		t.Fatalf("TotalUnreadCount: %v", err)
	}
	if senderTotal != 0 {
		t.Fatalf("sender unread = %d, want 0", senderTotal)
	}
}

func TestMarkConversationRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.CreateMessage(ctx, NewMessage{SenderID: 1, RecipientID: 2, Content: "m", Type: "text"}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
	if err := s.MarkConversationRead(ctx, 2, 1); err != nil {
		t.Fatalf("MarkConversationRead: %v", err)
	}
	total, err := s.TotalUnreadCount(ctx, 2)
	if err != nil {
		t.Fatalf("TotalUnreadCount: %v", err)
	}
	if total != 0 {
		t.Fatalf("total unread = %d, want 0", total)
	}

	// unknown peer is a no-op
	if err := s.MarkConversationRead(ctx, 2, 99); err != nil {
		t.Fatalf("MarkConversationRead unknown peer: %v", err)
	}
}

func TestGroupMessageRollup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateMessage(ctx, NewMessage{SenderID: 1, GroupID: "g1", Content: "hi all", Type: "text"}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	convs, err := s.ListConversations(ctx, 2)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].GroupID != "g1" || convs[0].PeerID != 0 {
		t.Fatalf("convs = %+v, want one group conversation g1", convs)
	}
	// group sends carry no per-user unread bookkeeping here
	total, err := s.TotalUnreadCount(ctx, 2)
	if err != nil {
		t.Fatalf("TotalUnreadCount: %v", err)
	}
	if total != 0 {
		t.Fatalf("total unread = %d, want 0", total)
	}
}

func TestCreateMessageHonorsContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.CreateMessage(ctx, NewMessage{SenderID: 1, RecipientID: 2, Content: "hi"}); err == nil {
		t.Fatal("want error for canceled context")
	}
}
