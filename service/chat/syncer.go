package chat

import (
	"context"

	"github.com/gorilla/websocket"

	"IMCore/logger"
	"IMCore/service/storage"
)

// Syncer recomputes and pushes a user's conversation list and unread
// counters after state changes. Pushes are full replacements, last value
// wins, so a missed or reordered push self-corrects on the next trigger.
// A disconnected user is a no-op: their view is rebuilt lazily over the
// REST surface on the next connect, not buffered here.
type Syncer struct {
	registry  *Registry
	lifecycle *Lifecycle
	store     storage.MessageStore
}

func NewSyncer(registry *Registry, lifecycle *Lifecycle, store storage.MessageStore) *Syncer {
	return &Syncer{registry: registry, lifecycle: lifecycle, store: store}
}

// PushConversations recomputes the full conversation list and pushes it
// to the user's live connection, if any.
func (s *Syncer) PushConversations(ctx context.Context, userID int64) error {
	c, ok := s.registry.Lookup(userID)
	if !ok || c.State() != StateActive {
		return nil
	}
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return err
	}
	total, err := s.store.TotalUnreadCount(ctx, userID)
	if err != nil {
		return err
	}
	s.push(c, BuildConversationList(convs, total))
	return nil
}

// PushUnreadCount pushes the user's total unread counter.
func (s *Syncer) PushUnreadCount(ctx context.Context, userID int64) error {
	c, ok := s.registry.Lookup(userID)
	if !ok || c.State() != StateActive {
		return nil
	}
	total, err := s.store.TotalUnreadCount(ctx, userID)
	if err != nil {
		return err
	}
	s.push(c, BuildUnreadCount(total))
	return nil
}

func (s *Syncer) push(c *Conn, f OutboundFrame) {
	if err := c.WriteFrame(f); err != nil {
		logger.Warnf("[syncer] push failed user=%d conn=%s err=%v", c.UserID(), c.ID(), err)
		s.lifecycle.CloseConn(c, websocket.CloseGoingAway, "write failed")
	}
}
