package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gsitechorg/open-belex-debug/internal/codec"
)

// Session is one connected observer.
type Session struct {
	ID    string
	Conn  *websocket.Conn
	Codec codec.Codec

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	writeTimeout time.Duration
}

// Context is cancelled when the session disconnects.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Send encodes v with the session's codec and writes one frame.
func (s *Session) Send(v any) error {
	data, err := s.Codec.Marshal(v)
	if err != nil {
		return err
	}
	messageType := websocket.TextMessage
	if s.Codec.Binary() {
		messageType = websocket.BinaryMessage
	}
	return s.WriteMessage(messageType, data)
}

// WriteMessage writes a message to the connection with proper locking.
func (s *Session) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		_ = s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.Conn.WriteMessage(messageType, data)
}

// Hub tracks connected sessions and broadcasts to them.
type Hub struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// NewSession wraps conn in a session. It is not registered yet.
func (h *Hub) NewSession(conn *websocket.Conn, c codec.Codec, writeTimeout time.Duration) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           "sess_" + uuid.New().String()[:8],
		Conn:         conn,
		Codec:        c,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
	}
}

// Register adds a session.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Info("session connected", "session_id", s.ID, "codec", s.Codec.Name(), "sessions", n)
}

// Unregister removes a session and reports whether it was registered and
// how many sessions remain.
func (h *Hub) Unregister(s *Session) (bool, int) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	n := len(h.sessions)
	h.mu.Unlock()
	if ok {
		s.cancel()
		h.logger.Info("session disconnected", "session_id", s.ID, "sessions", n)
	}
	return ok, n
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast sends v to every session and returns the sessions whose
// write failed.
func (h *Hub) Broadcast(v any) []*Session {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var failed []*Session
	for _, s := range targets {
		if err := s.Send(v); err != nil {
			h.logger.Warn("broadcast write failed", "session_id", s.ID, "error", err)
			failed = append(failed, s)
		}
	}
	return failed
}
