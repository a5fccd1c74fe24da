package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"IMCore/logger"
	"IMCore/tools/safe"
)

// LifecycleConf tunes the lifecycle manager.
type LifecycleConf struct {
	AuthTimeout time.Duration    // max time in CONNECTING before the reaper closes the conn
	StaleAfter  time.Duration    // no read activity for this long means the conn is dead
	SweepEvery  time.Duration    // reaper interval
	Clock       func() time.Time // injectable for tests; nil => time.Now
}

func (c *LifecycleConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 60 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 150 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
}

// Lifecycle owns every connection from accept to teardown. It drives the
// state machine, tracks unauthenticated connections the registry does not
// know yet, and runs the reaper that guarantees dead handles never
// accumulate even when a close event is missed.
type Lifecycle struct {
	mu    sync.Mutex
	conns map[string]*Conn

	conf     LifecycleConf
	registry *Registry
	relay    *Relay

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewLifecycle(conf LifecycleConf, registry *Registry, relay *Relay) *Lifecycle {
	conf.norm()
	l := &Lifecycle{
		conns:    make(map[string]*Conn),
		conf:     conf,
		registry: registry,
		relay:    relay,
		stopCh:   make(chan struct{}),
	}
	safe.Go(l.sweeper)
	return l
}

// Track registers a freshly accepted connection in CONNECTING state.
func (l *Lifecycle) Track(c *Conn) {
	l.mu.Lock()
	l.conns[c.id] = c
	l.mu.Unlock()
}

func (l *Lifecycle) untrack(id string) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

// TrackedCount reports how many connections the manager currently owns,
// authenticated or not.
func (l *Lifecycle) TrackedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Activate moves a connection with resolved identity through
// AUTHENTICATED into ACTIVE: it claims the user's registry slot (evicting
// any previous session) and fires the ONLINE presence broadcast. A
// superseded predecessor is finished off here without an OFFLINE
// broadcast, since the user never actually left.
//
// Both state transitions are CAS-guarded, so a close that races in (read
// error, ping failure, reaper) always sticks: activation reports false and
// a connection that already reached CLOSING is never registered, never
// announced, and never pulled back to ACTIVE.
func (l *Lifecycle) Activate(c *Conn, userID int64) bool {
	c.setUserID(userID)
	if !c.beginAuthenticating() {
		logger.Infof("[lifecycle] activation lost to close conn=%s user=%d", c.ID(), userID)
		return false
	}

	if evicted := l.registry.Register(userID, c); evicted != nil {
		logger.Infof("[lifecycle] session superseded user=%d old=%s new=%s", userID, evicted.ID(), c.ID())
		evicted.finalize()
		l.untrack(evicted.ID())
	}

	if !c.promoteActive() {
		// a close won between registration and promotion; take the
		// entry back out in case the close path unregistered first
		l.registry.Unregister(c)
		l.untrack(c.id)
		return false
	}

	c.Touch()
	l.relay.Presence(userID, StatusOnline)
	return true
}

// CloseConn drives ACTIVE -> CLOSING -> CLOSED. Exactly one caller wins
// the transition, so unregistration and the OFFLINE broadcast happen at
// most once per connection no matter how many paths race here (read loop
// error, reaper, eviction on failed write).
func (l *Lifecycle) CloseConn(c *Conn, code int, reason string) {
	userID, removed := retireConn(l.registry, c, code, reason)
	l.untrack(c.id)
	if removed {
		logger.Infof("[lifecycle] closed conn=%s user=%d reason=%s", c.id, userID, reason)
		l.relay.Presence(userID, StatusOffline)
	}
}

// Close shuts the manager down and tears every connection down without
// per-user OFFLINE broadcasts; the process is going away entirely.
func (l *Lifecycle) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })

	l.mu.Lock()
	conns := make([]*Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.conns = make(map[string]*Conn)
	l.mu.Unlock()

	for _, c := range conns {
		c.beginClosing()
		l.registry.Unregister(c)
		c.sendCloseSignal(websocket.CloseGoingAway, "server shutdown")
		c.finalize()
	}
}

func (l *Lifecycle) sweeper() {
	t := time.NewTicker(l.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case now := <-t.C:
			l.sweepOnce(now)
		}
	}
}

// sweepOnce collects victims under the lock and closes them outside it.
func (l *Lifecycle) sweepOnce(now time.Time) {
	type victim struct {
		c      *Conn
		reason string
	}
	var victims []victim

	l.mu.Lock()
	for id, c := range l.conns {
		switch {
		case c.State() == StateClosed:
			delete(l.conns, id)
		case c.State() == StateClosing:
			victims = append(victims, victim{c, "stuck closing"})
		case c.State() < StateActive && now.Sub(c.CreatedAt()) > l.conf.AuthTimeout:
			victims = append(victims, victim{c, "auth timeout"})
		case now.Sub(c.LastActive()) > l.conf.StaleAfter:
			victims = append(victims, victim{c, "stale"})
		}
	}
	l.mu.Unlock()

	for _, v := range victims {
		if v.c.State() == StateClosing {
			// missed close event; just finish the teardown
			v.c.finalize()
			l.untrack(v.c.id)
			continue
		}
		logger.Infof("[lifecycle] reaping conn=%s user=%d reason=%s", v.c.id, v.c.UserID(), v.reason)
		l.CloseConn(v.c, websocket.CloseGoingAway, v.reason)
	}
}
