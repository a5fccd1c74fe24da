package chat

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	errs "IMCore/tools/errs"
)

// ConnState is the connection lifecycle state machine:
// CONNECTING -> AUTHENTICATED -> ACTIVE -> CLOSING -> CLOSED.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// wsLink is the write surface of a websocket connection. It exists so the
// write path can be exercised without a live socket.
type wsLink interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live duplex channel. It is owned by the lifecycle manager;
// the session registry only references it. Frame writes are serialized by
// a per-connection mutex so concurrent senders cannot interleave frames,
// and every write carries a bounded deadline so a slow client cannot
// stall its writers indefinitely.
type Conn struct {
	id           string
	link         wsLink
	remote       net.Addr
	createdAt    time.Time
	writeTimeout time.Duration

	userID     atomic.Int64
	state      atomic.Int32
	lastActive atomic.Int64 // unix millis

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	c := &Conn{
		id:           id,
		link:         ws,
		remote:       ws.RemoteAddr(),
		createdAt:    time.Now(),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	c.Touch()
	return c
}

func (c *Conn) ID() string           { return c.id }
func (c *Conn) Remote() net.Addr     { return c.remote }
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// UserID returns the owning user, or 0 while unauthenticated.
func (c *Conn) UserID() int64 { return c.userID.Load() }

func (c *Conn) setUserID(id int64) { c.userID.Store(id) }

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

// beginAuthenticating claims the CONNECTING -> AUTHENTICATED transition.
// It fails once the connection is past CONNECTING, so a close that raced
// ahead cannot be resurrected by a late activation.
func (c *Conn) beginAuthenticating() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated))
}

// promoteActive claims AUTHENTICATED -> ACTIVE, failing if a close took
// the connection in between.
func (c *Conn) promoteActive() bool {
	return c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive))
}

// beginClosing wins the right to tear the connection down. Exactly one
// caller gets true, which keeps unregistration and the presence OFFLINE
// broadcast idempotent.
func (c *Conn) beginClosing() bool {
	for {
		cur := c.state.Load()
		if ConnState(cur) >= StateClosing {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateClosing)) {
			return true
		}
	}
}

// Touch records activity for the stale-connection reaper.
func (c *Conn) Touch() { c.lastActive.Store(time.Now().UnixMilli()) }

func (c *Conn) LastActive() time.Time {
	return time.UnixMilli(c.lastActive.Load())
}

// WriteFrame serializes and writes one outbound frame under the write
// lock with a bounded deadline.
func (c *Conn) WriteFrame(f OutboundFrame) error {
	if c.State() >= StateClosing {
		return errs.ErrTransport.WrapMsg("connection closed", "conn", c.id)
	}
	data, err := f.MarshalJSON()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.link.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.link.WriteMessage(websocket.TextMessage, data)
}

// sendCloseSignal best-effort writes a close control frame. Used for the
// normal-closure signal on session eviction and on graceful teardown.
func (c *Conn) sendCloseSignal(code int, reason string) {
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.link.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}

func (c *Conn) ping() error {
	deadline := time.Now().Add(c.writeTimeout)
	return c.link.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
}

// finalize closes the socket and marks the state machine CLOSED. Safe to
// call more than once.
func (c *Conn) finalize() {
	c.doneOnce.Do(func() {
		_ = c.link.Close()
		c.setState(StateClosed)
		close(c.done)
	})
}

// Done is closed once the connection is fully torn down; the per-conn
// pinger exits on it.
func (c *Conn) Done() <-chan struct{} { return c.done }
