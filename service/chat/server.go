package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"IMCore/global/config"
	"IMCore/logger"
	"IMCore/service/notify"
	"IMCore/service/storage"
	"IMCore/tools/errs"
	"IMCore/tools/ids"
	"IMCore/tools/safe"
)

// Server composes the delivery core and exposes the websocket endpoint.
// Construction is strictly top-down: registry, then relay, then
// lifecycle, then dispatch and syncer, so no component ever holds a
// half-built collaborator.
type Server struct {
	conf      config.AppConfig
	identity  *Identity
	registry  *Registry
	relay     *Relay
	lifecycle *Lifecycle
	dispatch  *Dispatch
	syncer    *Syncer
	upgrader  websocket.Upgrader
}

func NewServer(conf config.AppConfig, store storage.MessageStore,
	notifier notify.Notifier, mirror PresenceSink) *Server {
	registry := NewRegistry()
	relay := NewRelay(registry, mirror)
	lifecycle := NewLifecycle(LifecycleConf{
		AuthTimeout: conf.AuthTimeout,
		StaleAfter:  2 * conf.PongTimeout,
		SweepEvery:  conf.SweepEvery,
	}, registry, relay)
	dispatch := NewDispatch(registry, lifecycle, store, notifier, conf.PersistWindow)
	syncer := NewSyncer(registry, lifecycle, store)

	return &Server{
		conf:      conf,
		identity:  NewIdentity(conf.JwtSecret),
		registry:  registry,
		relay:     relay,
		lifecycle: lifecycle,
		dispatch:  dispatch,
		syncer:    syncer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Registry() *Registry   { return s.registry }
func (s *Server) Relay() *Relay         { return s.relay }
func (s *Server) Lifecycle() *Lifecycle { return s.lifecycle }
func (s *Server) Dispatch() *Dispatch   { return s.dispatch }
func (s *Server) Syncer() *Syncer       { return s.syncer }

// Routes mounts the websocket endpoint and a health probe.
func (s *Server) Routes(r *gin.Engine) {
	r.GET(s.conf.WSPath, s.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": s.registry.Count(),
		})
	})
}

// Close tears down every connection and stops the reaper.
func (s *Server) Close() { s.lifecycle.Close() }

// HandleWS upgrades the request and runs the connection to completion:
// identity resolution, activation (or AUTH_REQUEST), the pinger, and the
// read loop. The handler returns only when the connection is done.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed remote=%s err=%v", c.Request.RemoteAddr, err)
		return
	}

	conn := newConn(ids.GenerateString(), ws, s.conf.WriteTimeout)
	s.lifecycle.Track(conn)

	ws.SetReadLimit(s.conf.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongTimeout))
	})

	if uid, rerr := s.identity.FromRequest(c.Request); rerr == nil {
		s.activate(conn, uid, false)
	} else {
		// No credentials on the upgrade: hold the connection open and ask
		// for an in-band AUTH frame. The reaper closes it if none arrives
		// within the auth timeout.
		if werr := conn.WriteFrame(BuildAuthRequest()); werr != nil {
			s.lifecycle.CloseConn(conn, websocket.CloseGoingAway, "write failed")
			return
		}
	}

	safe.Go(func() { s.pinger(conn) })
	s.readLoop(conn, ws)
}

// activate promotes the connection to ACTIVE and acknowledges it:
// CONNECTION for credentials resolved at connect time, AUTH_SUCCESS for
// an in-band AUTH frame.
func (s *Server) activate(conn *Conn, userID int64, viaAuthFrame bool) {
	if !s.lifecycle.Activate(conn, userID) {
		return
	}

	ack := BuildConnection(conn.ID())
	if viaAuthFrame {
		ack = BuildAuthSuccess(userID)
	}
	if err := conn.WriteFrame(ack); err != nil {
		logger.Warnf("[ws] ack write failed conn=%s err=%v", conn.ID(), err)
	}
	logger.Infof("[ws] session active user=%d conn=%s remote=%v", userID, conn.ID(), conn.Remote())
}

func (s *Server) pinger(conn *Conn) {
	t := time.NewTicker(s.conf.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-conn.Done():
			return
		case <-t.C:
			if err := conn.ping(); err != nil {
				s.lifecycle.CloseConn(conn, websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// readLoop is the connection's single reader. It decodes each frame into
// the closed inbound vocabulary and routes it; leaving the loop for any
// reason funnels the connection through the normal close path exactly once.
func (s *Server) readLoop(conn *Conn, ws *websocket.Conn) {
	defer s.lifecycle.CloseConn(conn, websocket.CloseNormalClosure, "read closed")

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived):
				logger.Infof("[ws] peer closed conn=%s err=%v", conn.ID(), err)
			case isTimeout(err):
				logger.Infof("[ws] read timeout conn=%s err=%v", conn.ID(), err)
			default:
				logger.Infof("[ws] read error conn=%s err=%v", conn.ID(), err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		conn.Touch()

		in, derr := DecodeInbound(data)
		if derr != nil {
			// Every handled frame produces a side effect or an ERROR,
			// never a silent drop.
			msg := "invalid frame"
			if ce, ok := errs.CodeOf(derr); ok {
				msg = ce.Msg
			}
			logger.Debugf("[ws] decode failed conn=%s err=%v", conn.ID(), derr)
			if werr := conn.WriteFrame(BuildError(msg)); werr != nil {
				return
			}
			continue
		}
		s.route(conn, in)
	}
}

func (s *Server) route(conn *Conn, in Inbound) {
	switch f := in.(type) {
	case AuthFrame:
		s.handleAuth(conn, f)

	case PingFrame:
		s.writeBestEffort(conn, BuildPong())

	case SendMessageCommand:
		s.dispatch.Send(conn, f)

	case TypingSignal:
		if !s.requireActive(conn) {
			return
		}
		if s.relay.Typing(conn.UserID(), f.RecipientID, f.SenderName, f.IsTyping) {
			s.writeBestEffort(conn, BuildTypingResponse(f.RecipientID))
		}

	case UserStatusUpdate:
		if !s.requireActive(conn) {
			return
		}
		status := f.Status
		if status != StatusOnline && status != StatusOffline {
			s.writeBestEffort(conn, BuildError("invalid status"))
			return
		}
		s.relay.Presence(conn.UserID(), status)
		s.writeBestEffort(conn, BuildUserStatusResponse(status))

	case GetConversationsFrame:
		if !s.requireActive(conn) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.conf.PersistWindow)
		err := s.syncer.PushConversations(ctx, conn.UserID())
		cancel()
		if err != nil {
			logger.Errorf("[ws] conversations query failed user=%d err=%v", conn.UserID(), err)
			s.writeBestEffort(conn, BuildError("failed to load conversations"))
		}
	}
}

func (s *Server) handleAuth(conn *Conn, f AuthFrame) {
	if conn.State() >= StateActive {
		// Re-auth on a live session is acknowledged, not re-registered.
		s.writeBestEffort(conn, BuildAuthSuccess(conn.UserID()))
		return
	}
	uid, err := s.identity.FromAuthFrame(f)
	if err != nil {
		// Kept open: the client may retry until the auth timeout reaps it.
		s.writeBestEffort(conn, BuildError("authentication failed"))
		return
	}
	s.activate(conn, uid, true)
}

func (s *Server) requireActive(conn *Conn) bool {
	if conn.State() != StateActive || conn.UserID() == 0 {
		s.writeBestEffort(conn, BuildError("not authenticated"))
		return false
	}
	return true
}

func (s *Server) writeBestEffort(conn *Conn, f OutboundFrame) {
	if err := conn.WriteFrame(f); err != nil {
		logger.Debugf("[ws] write failed conn=%s type=%s err=%v", conn.ID(), f.Type, err)
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
