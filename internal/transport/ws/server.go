// Package ws serves observer sessions over websockets.
package ws

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/gsitechorg/open-belex-debug/internal/adapter/sourceview"
	"github.com/gsitechorg/open-belex-debug/internal/codec"
	"github.com/gsitechorg/open-belex-debug/internal/domain"
	"github.com/gsitechorg/open-belex-debug/internal/eventqueue"
	"github.com/gsitechorg/open-belex-debug/internal/service"
)

// Relay is the part of the service sessions drive.
type Relay interface {
	AwaitUnit(ctx context.Context) (domain.Unit, error)
	Restart()
	LoadFile(ctx context.Context, path string) (string, error)
	Shutdown()
}

// Options configures a Server.
type Options struct {
	// ShutdownOnDisconnect shuts the relay down when the last session
	// leaves.
	ShutdownOnDisconnect bool
	MaxMessageSize       int64
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	PingInterval         time.Duration
	Logger               *slog.Logger
}

// Server handles WebSocket connections.
type Server struct {
	relay    Relay
	hub      *Hub
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(relay Relay, hub *Hub, opts Options) *Server {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = opts.ReadTimeout * 9 / 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		relay:  relay,
		hub:    hub,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The observer UI may be served from anywhere.
				return true
			},
		},
	}
}

// Hub returns the session hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HandleWebSocket handles WebSocket upgrade and session lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	wireCodec, err := codec.ByName(c.QueryParam("codec"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return err
	}
	conn.SetReadLimit(s.opts.MaxMessageSize)

	sess := s.hub.NewSession(conn, wireCodec, s.opts.WriteTimeout)
	s.hub.Register(sess)

	if err := sess.Send(Envelope{
		Type:      TypeHelloAck,
		Ts:        time.Now().UnixMilli(),
		SessionID: sess.ID,
		Data:      HelloAckData{Codec: wireCodec.Name()},
	}); err != nil {
		s.disconnect(sess)
		return nil
	}

	go s.pingPump(sess)
	go s.readPump(sess)
	return nil
}

// readPump reads commands until the connection fails.
func (s *Server) readPump(sess *Session) {
	defer s.disconnect(sess)

	_ = sess.Conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	sess.Conn.SetPongHandler(func(string) error {
		return sess.Conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	for {
		_, message, err := sess.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", "session_id", sess.ID, "error", err)
			}
			return
		}
		_ = sess.Conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		s.handleMessage(sess, message)
	}
}

func (s *Server) pingPump(sess *Session) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Context().Done():
			return
		case <-ticker.C:
			if err := sess.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.disconnect(sess)
				return
			}
		}
	}
}

// handleMessage dispatches incoming commands.
func (s *Server) handleMessage(sess *Session, data []byte) {
	var cmd Command
	if err := sess.Codec.Unmarshal(data, &cmd); err != nil {
		s.sendError(sess, "", ErrorCodeInvalidMessage, "invalid message")
		return
	}

	switch cmd.Type {
	case TypeAwaitAppEvent:
		// Served off the read loop so restart stays responsive while the
		// request waits for the program.
		go s.handleAwaitAppEvent(sess, cmd)
	case TypeRestart:
		s.logger.Info("restart requested", "session_id", sess.ID)
		s.relay.Restart()
	case TypeLoadFile:
		go s.handleLoadFile(sess, cmd)
	default:
		s.sendError(sess, cmd.RequestID, ErrorCodeUnknownType, "unknown message type: "+cmd.Type)
	}
}

func (s *Server) handleAwaitAppEvent(sess *Session, cmd Command) {
	unit, err := s.relay.AwaitUnit(sess.Context())
	if err != nil {
		if errors.Is(err, eventqueue.ErrShutdown) {
			s.sendError(sess, cmd.RequestID, ErrorCodeShutdown, "relay is shutting down")
			s.disconnect(sess)
			return
		}
		if sess.Context().Err() == nil {
			s.sendError(sess, cmd.RequestID, ErrorCodeInternalError, err.Error())
		}
		return
	}

	env := Envelope{
		Type:      TypeAppEvent,
		Ts:        time.Now().UnixMilli(),
		RequestID: cmd.RequestID,
		Data:      unit.Serialize(),
	}
	for _, failed := range s.hub.Broadcast(env) {
		s.disconnect(failed)
	}
}

func (s *Server) handleLoadFile(sess *Session, cmd Command) {
	if cmd.Data.Path == "" {
		s.sendError(sess, cmd.RequestID, ErrorCodeInvalidMessage, "path is required")
		return
	}

	html, err := s.relay.LoadFile(sess.Context(), cmd.Data.Path)
	if err != nil {
		code := ErrorCodeInternalError
		switch {
		case errors.Is(err, sourceview.ErrForbidden):
			code = ErrorCodeForbidden
		case errors.Is(err, fs.ErrNotExist):
			code = ErrorCodeNotFound
		case errors.Is(err, service.ErrSourceViewDisabled):
			code = ErrorCodeUnavailable
		}
		s.sendError(sess, cmd.RequestID, code, err.Error())
		return
	}

	if err := sess.Send(Envelope{
		Type:      TypeFileLoad,
		Ts:        time.Now().UnixMilli(),
		RequestID: cmd.RequestID,
		Data:      []any{cmd.Data.Path, html},
	}); err != nil {
		s.disconnect(sess)
	}
}

// sendError sends an error frame to one session.
func (s *Server) sendError(sess *Session, requestID, code, message string) {
	err := sess.Send(Envelope{
		Type:      TypeError,
		Ts:        time.Now().UnixMilli(),
		RequestID: requestID,
		Data:      ErrorData{Code: code, Message: message},
	})
	if err != nil {
		s.disconnect(sess)
	}
}

// disconnect drops a session. A failed write counts as a disconnect.
func (s *Server) disconnect(sess *Session) {
	removed, remaining := s.hub.Unregister(sess)
	if !removed {
		return
	}
	_ = sess.Conn.Close()
	if remaining == 0 && s.opts.ShutdownOnDisconnect {
		s.logger.Info("last session disconnected, shutting down")
		s.relay.Shutdown()
	}
}
