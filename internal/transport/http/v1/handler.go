// Package v1 provides the HTTP handlers of the trace API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gsitechorg/open-belex-debug/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// SessionCounter reports connected observer sessions.
type SessionCounter interface {
	Count() int
}

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	sessions SessionCounter
}

// NewHandler creates a new handler. sessions may be nil.
func NewHandler(service *service.Service, sessions SessionCounter) *Handler {
	return &Handler{
		service:  service,
		sessions: sessions,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Relay state and control
	e.GET("/v1/state", h.GetState)
	e.POST("/v1/restart", h.Restart)

	// Recorded traces
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

type stateResponse struct {
	service.Snapshot
	Sessions  int  `json:"sessions"`
	Recording bool `json:"recording"`
}

// GetState reports the run state and queue fill.
// GET /v1/state
func (h *Handler) GetState(c echo.Context) error {
	resp := stateResponse{
		Snapshot:  h.service.State(),
		Recording: h.service.Recording(),
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Count()
	}
	return c.JSON(http.StatusOK, resp)
}

// Restart re-runs the program, for scripts without a websocket.
// POST /v1/restart
func (h *Handler) Restart(c echo.Context) error {
	h.service.Restart()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "restarting"})
}
