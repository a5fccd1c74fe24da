package chat

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func offlineBroadcasts(t *testing.T, link *fakeLink, userID int64) int {
	t.Helper()
	n := 0
	for _, f := range link.ofType(t, FrameUserStatusBroadcast) {
		if f["userId"] == float64(userID) && f["status"] == StatusOffline {
			n++
		}
	}
	return n
}

func onlineBroadcasts(t *testing.T, link *fakeLink, userID int64) int {
	t.Helper()
	n := 0
	for _, f := range link.ofType(t, FrameUserStatusBroadcast) {
		if f["userId"] == float64(userID) && f["status"] == StatusOnline {
			n++
		}
	}
	return n
}

func TestActivatePromotesAndAnnounces(t *testing.T) {
	c := newCore(t)
	_, peerLink := c.activeConn("p", 2)

	conn, _ := newFakeConn("a")
	c.lifecycle.Track(conn)
	if !c.lifecycle.Activate(conn, 1) {
		t.Fatal("Activate refused a live connection")
	}

	if conn.State() != StateActive {
		t.Fatalf("state = %v, want ACTIVE", conn.State())
	}
	if conn.UserID() != 1 {
		t.Fatalf("userID = %d, want 1", conn.UserID())
	}
	if got, _ := c.registry.Lookup(1); got != conn {
		t.Fatal("registry does not hold the activated connection")
	}
	if onlineBroadcasts(t, peerLink, 1) != 1 {
		t.Fatal("peer missed the ONLINE broadcast")
	}
}

func TestActivateAfterCloseIsRejected(t *testing.T) {
	c := newCore(t)
	_, peerLink := c.activeConn("p", 2)

	conn, _ := newFakeConn("a")
	c.lifecycle.Track(conn)
	c.lifecycle.CloseConn(conn, websocket.CloseGoingAway, "ping failed")

	if c.lifecycle.Activate(conn, 5) {
		t.Fatal("Activate resurrected a closed connection")
	}
	if conn.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", conn.State())
	}
	if _, ok := c.registry.Lookup(5); ok {
		t.Fatal("closed connection ended up registered")
	}
	if got := onlineBroadcasts(t, peerLink, 5); got != 0 {
		t.Fatalf("ONLINE broadcasts = %d, want 0", got)
	}
	if c.lifecycle.TrackedCount() != 1 {
		t.Fatalf("tracked = %d, want 1", c.lifecycle.TrackedCount())
	}
}

func TestCloseConnBroadcastsOfflineExactlyOnce(t *testing.T) {
	c := newCore(t)
	conn, _ := c.activeConn("a", 1)
	_, peerLink := c.activeConn("p", 2)

	c.lifecycle.CloseConn(conn, websocket.CloseNormalClosure, "test")
	c.lifecycle.CloseConn(conn, websocket.CloseNormalClosure, "test again")

	if got := offlineBroadcasts(t, peerLink, 1); got != 1 {
		t.Fatalf("OFFLINE broadcasts = %d, want exactly 1", got)
	}
	if conn.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", conn.State())
	}
	if c.lifecycle.TrackedCount() != 1 {
		t.Fatalf("tracked = %d, want 1", c.lifecycle.TrackedCount())
	}
}

func TestSupersededSessionProducesNoOffline(t *testing.T) {
	c := newCore(t)
	oldConn, _ := c.activeConn("old", 1)
	_, peerLink := c.activeConn("p", 2)

	newConn2, _ := c.activeConn("new", 1)

	if got, _ := c.registry.Lookup(1); got != newConn2 {
		t.Fatal("new session did not take over the registry slot")
	}
	if oldConn.State() != StateClosed {
		t.Fatalf("old state = %v, want CLOSED", oldConn.State())
	}
	if got := offlineBroadcasts(t, peerLink, 1); got != 0 {
		t.Fatalf("OFFLINE broadcasts = %d, want 0 on supersede", got)
	}
	if got := onlineBroadcasts(t, peerLink, 1); got != 1 {
		t.Fatalf("ONLINE broadcasts = %d, want 1 (second activation only)", got)
	}

	// the superseded handle's own close path stays silent too
	c.lifecycle.CloseConn(oldConn, websocket.CloseNormalClosure, "late close")
	if got := offlineBroadcasts(t, peerLink, 1); got != 0 {
		t.Fatalf("OFFLINE broadcasts after late close = %d, want 0", got)
	}
}

func TestSweepReapsUnauthenticatedAfterTimeout(t *testing.T) {
	c := newCore(t)
	conn, link := newFakeConn("anon")
	c.lifecycle.Track(conn)

	// inside the window: untouched
	c.lifecycle.sweepOnce(time.Now())
	if conn.State() != StateConnecting {
		t.Fatalf("state = %v, want CONNECTING", conn.State())
	}

	// past the auth window: closed and untracked
	c.lifecycle.sweepOnce(time.Now().Add(2 * time.Hour))
	if conn.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", conn.State())
	}
	if !link.closed {
		t.Fatal("socket not closed")
	}
	if c.lifecycle.TrackedCount() != 0 {
		t.Fatalf("tracked = %d, want 0", c.lifecycle.TrackedCount())
	}
}

func TestSweepReapsStaleActiveConn(t *testing.T) {
	c := newCore(t)
	conn, _ := c.activeConn("a", 1)
	_, peerLink := c.activeConn("p", 2)

	conn.lastActive.Store(time.Now().Add(-time.Hour).UnixMilli())
	c.lifecycle.sweepOnce(time.Now())

	if conn.State() != StateClosed {
		t.Fatalf("state = %v, want CLOSED", conn.State())
	}
	if _, ok := c.registry.Lookup(1); ok {
		t.Fatal("stale conn still registered")
	}
	if got := offlineBroadcasts(t, peerLink, 1); got != 1 {
		t.Fatalf("OFFLINE broadcasts = %d, want 1", got)
	}
}

func TestCloseTearsDownEverything(t *testing.T) {
	c := newCore(t)
	conn1, _ := c.activeConn("a", 1)
	conn2, _ := c.activeConn("b", 2)

	c.lifecycle.Close()

	for _, conn := range []*Conn{conn1, conn2} {
		if conn.State() != StateClosed {
			t.Fatalf("conn %s state = %v, want CLOSED", conn.ID(), conn.State())
		}
	}
	if c.registry.Count() != 0 {
		t.Fatalf("registry count = %d, want 0", c.registry.Count())
	}
	if c.lifecycle.TrackedCount() != 0 {
		t.Fatalf("tracked = %d, want 0", c.lifecycle.TrackedCount())
	}
}
