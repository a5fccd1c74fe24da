package chat

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"IMCore/logger"
)

// PresenceSink receives best-effort ONLINE/OFFLINE mirror updates so
// out-of-process services can see who is connected. Failures are logged,
// never propagated: the registry stays the single authority.
type PresenceSink interface {
	Online(ctx context.Context, userID int64) error
	Offline(ctx context.Context, userID int64) error
}

// NoopPresence is used when no mirror backend is configured.
type NoopPresence struct{}

func (NoopPresence) Online(context.Context, int64) error  { return nil }
func (NoopPresence) Offline(context.Context, int64) error { return nil }

// retireConn forces a connection out of circulation: one winner moves it
// to CLOSING, drops its registry entry (only if it still owns one), and
// closes the socket. The removed flag gates the single OFFLINE broadcast.
func retireConn(reg *Registry, c *Conn, code int, reason string) (userID int64, removed bool) {
	if !c.beginClosing() {
		return 0, false
	}
	userID, removed = reg.Unregister(c)
	c.sendCloseSignal(code, reason)
	c.finalize()
	return userID, removed
}

// Relay fans out typing and presence signals. It holds no state of its
// own: typing is a single best-effort unicast, presence a best-effort
// broadcast over a registry snapshot.
type Relay struct {
	registry *Registry
	mirror   PresenceSink
}

func NewRelay(registry *Registry, mirror PresenceSink) *Relay {
	if mirror == nil {
		mirror = NoopPresence{}
	}
	return &Relay{registry: registry, mirror: mirror}
}

// Typing delivers a typing indicator to the recipient if connected. A
// disconnected recipient drops the signal silently: missed typing
// indicators are inconsequential, so there is no queue and no retry.
// It reports whether the signal reached a live connection.
func (r *Relay) Typing(senderID, recipientID int64, senderName string, isTyping bool) bool {
	c, ok := r.registry.Lookup(recipientID)
	if !ok || c.State() != StateActive {
		return false
	}
	if err := c.WriteFrame(BuildTypingPush(senderID, senderName, isTyping)); err != nil {
		logger.Warnf("[relay] typing write failed user=%d conn=%s err=%v", recipientID, c.ID(), err)
		r.evict(c)
		return false
	}
	return true
}

// Presence broadcasts the user's ONLINE/OFFLINE state to every other
// active connection. The registry is snapshotted first so concurrent
// unregisters cannot corrupt the iteration, and each write is independent:
// one dead peer is evicted without aborting delivery to the rest.
func (r *Relay) Presence(userID int64, status string) {
	r.mirrorPresence(userID, status)

	frame := BuildUserStatusBroadcast(userID, status)
	var failed []*Conn
	for _, c := range r.registry.Snapshot() {
		if c.UserID() == userID || c.State() != StateActive {
			continue
		}
		if err := c.WriteFrame(frame); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		logger.Warnf("[relay] presence write failed user=%d conn=%s", c.UserID(), c.ID())
		r.evict(c)
	}
}

// evict tears down a connection whose write failed and lets its peers
// know it went offline, if it still owned its registry entry.
func (r *Relay) evict(c *Conn) {
	if uid, removed := retireConn(r.registry, c, websocket.CloseGoingAway, "write failed"); removed {
		r.Presence(uid, StatusOffline)
	}
}

func (r *Relay) mirrorPresence(userID int64, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if status == StatusOnline {
		err = r.mirror.Online(ctx, userID)
	} else {
		err = r.mirror.Offline(ctx, userID)
	}
	if err != nil {
		logger.Warnf("[relay] presence mirror failed user=%d status=%s err=%v", userID, status, err)
	}
}
