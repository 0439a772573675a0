// Package gateway is the voice transport: one websocket per session carrying
// speaker control messages and per-speaker PCM.
package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/voice-recap/internal/session"
)

// Router is the part of the session manager the gateway needs.
type Router interface {
	Attach(key string, conn session.Connection) (*session.Session, error)
	Route(key string, ev session.Event) error
}

// Gateway accepts voice connections at /ws/voice/:key.
type Gateway struct {
	router Router
	logger *zap.Logger
}

// New creates a gateway routing into router.
func New(router Router, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		router: router,
		logger: logger.With(zap.String("component", "gateway")),
	}
}

// Register mounts the websocket route on app.
func (g *Gateway) Register(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/voice/:key", websocket.New(g.Handle))
}

// socketConn is the session's view of the websocket. Close may be called by
// the finalizer while Handle is still reading; Handle's deferred Close runs
// through the same once, so the socket is never touched after Handle returns.
type socketConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
}

func newSocketConn(ws *websocket.Conn) *socketConn {
	return &socketConn{ws: ws, closed: make(chan struct{})}
}

func (s *socketConn) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(v)
}

// Close sends a normal close frame and closes the socket once.
func (s *socketConn) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finalized"),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.ws.Close()
	})
	return err
}

func (s *socketConn) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type statusMessage struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handle reads frames until the socket fails or the session releases it.
func (g *Gateway) Handle(c *websocket.Conn) {
	key := c.Params("key")
	conn := newSocketConn(c)
	defer conn.Close()

	logger := g.logger.With(zap.String("session_key", key))

	s, err := g.router.Attach(key, conn)
	if err != nil {
		logger.Warn("rejecting voice connection", zap.Error(err))
		_ = conn.writeJSON(statusMessage{Type: "error", Error: err.Error()})
		return
	}
	logger = logger.With(zap.String("session_id", s.ID()))
	logger.Info("voice connection established")
	_ = conn.writeJSON(statusMessage{Type: "attached", Session: s.ID()})

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if conn.isClosed() {
				logger.Debug("voice connection released by session")
				return
			}
			logger.Info("voice connection lost", zap.Error(err))
			g.route(logger, key, session.Event{Kind: session.EventDisconnect})
			return
		}

		ev, err := decodeFrame(messageType, message)
		if err != nil {
			logger.Debug("dropping frame", zap.Error(err))
			if errors.Is(err, ErrBadFrame) {
				_ = conn.writeJSON(statusMessage{Type: "error", Error: err.Error()})
			}
			continue
		}
		if !g.route(logger, key, ev) {
			return
		}
	}
}

// route reports false once the session no longer accepts events.
func (g *Gateway) route(logger *zap.Logger, key string, ev session.Event) bool {
	err := g.router.Route(key, ev)
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrClosed):
		logger.Debug("session no longer accepting events", zap.String("event", ev.Kind.String()))
		return false
	default:
		logger.Warn("routing event failed", zap.String("event", ev.Kind.String()), zap.Error(err))
		return true
	}
}
