package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"IMCore/service/notify"
	"IMCore/service/storage"
)

// fakeLink is an in-memory wsLink so the write path can be driven without
// a socket. Writes can be made to fail to exercise eviction behavior.
type fakeLink struct {
	mu       sync.Mutex
	frames   [][]byte
	controls []int
	fail     bool
	closed   bool
}

func (l *fakeLink) WriteMessage(mt int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("link down")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	l.frames = append(l.frames, cp)
	return nil
}

func (l *fakeLink) WriteControl(mt int, data []byte, deadline time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("link down")
	}
	l.controls = append(l.controls, mt)
	return nil
}

func (l *fakeLink) SetWriteDeadline(t time.Time) error { return nil }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) setFail(v bool) {
	l.mu.Lock()
	l.fail = v
	l.mu.Unlock()
}

type wireFrame map[string]any

func (l *fakeLink) sent(t *testing.T) []wireFrame {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]wireFrame, 0, len(l.frames))
	for _, raw := range l.frames {
		var f wireFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("bad frame on wire: %v", err)
		}
		out = append(out, f)
	}
	return out
}

func (l *fakeLink) ofType(t *testing.T, ft FrameType) []wireFrame {
	t.Helper()
	var out []wireFrame
	for _, f := range l.sent(t) {
		if f["type"] == string(ft) {
			out = append(out, f)
		}
	}
	return out
}

func newFakeConn(id string) (*Conn, *fakeLink) {
	l := &fakeLink{}
	c := &Conn{
		id:           id,
		link:         l,
		createdAt:    time.Now(),
		writeTimeout: time.Second,
		done:         make(chan struct{}),
	}
	c.Touch()
	return c, l
}

// core wires a full pipeline over the in-memory store with the sweeper
// effectively disabled, so tests drive sweeps explicitly.
type core struct {
	registry  *Registry
	relay     *Relay
	lifecycle *Lifecycle
	dispatch  *Dispatch
	syncer    *Syncer
	store     *storage.MemoryStore
}

func newCore(t *testing.T) *core {
	return newCoreWith(t, storage.NewMemoryStore(), notify.Noop{})
}

func newCoreWith(t *testing.T, store storage.MessageStore, notifier notify.Notifier) *core {
	t.Helper()
	reg := NewRegistry()
	relay := NewRelay(reg, NoopPresence{})
	lc := NewLifecycle(LifecycleConf{SweepEvery: time.Hour}, reg, relay)
	t.Cleanup(lc.Close)

	mem, _ := store.(*storage.MemoryStore)
	return &core{
		registry:  reg,
		relay:     relay,
		lifecycle: lc,
		dispatch:  NewDispatch(reg, lc, store, notifier, time.Second),
		syncer:    NewSyncer(reg, lc, store),
		store:     mem,
	}
}

// activeConn tracks and activates a fake connection for the user.
func (c *core) activeConn(id string, userID int64) (*Conn, *fakeLink) {
	conn, link := newFakeConn(id)
	c.lifecycle.Track(conn)
	c.lifecycle.Activate(conn, userID)
	return conn, link
}

type captureNotifier struct {
	mu     sync.Mutex
	stored []*storage.MessageRecord
}

func (n *captureNotifier) MessageStored(_ context.Context, rec *storage.MessageRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stored = append(n.stored, rec)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.stored)
}

// failingStore wraps the memory store and fails CreateMessage on demand.
type failingStore struct {
	*storage.MemoryStore
	failCreate bool
	creates    int
}

func (s *failingStore) CreateMessage(ctx context.Context, msg storage.NewMessage) (*storage.MessageRecord, error) {
	s.creates++
	if s.failCreate {
		return nil, errors.New("store down")
	}
	return s.MemoryStore.CreateMessage(ctx, msg)
}
