// Package v1 provides HTTP handlers for the assistant API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/conversation"
	"github.com/xiaot623/csassistant/internal/service"
)

// ConnectionCounter reports live WebSocket connections.
type ConnectionCounter interface {
	GetConnectionCount() int
	GetSessionCount() int
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	conns   ConnectionCounter
	logger  *zap.Logger
}

// NewHandler creates a new handler. conns may be nil.
func NewHandler(service *service.Service, conns ConnectionCounter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: service,
		conns:   conns,
		logger:  logger,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Legacy chat API
	e.POST("/api/chat", h.Chat)
	e.POST("/api/clear_chat", h.ClearChat)

	// Conversation API
	e.GET("/v1/sessions/:session_id/messages", h.GetMessages)
	e.POST("/v1/sessions/:session_id/messages", h.SubmitMessage)
	e.DELETE("/v1/sessions/:session_id/messages", h.ClearMessages)
	e.PUT("/v1/sessions/:session_id/messages/:message_id", h.EditMessage)
	e.POST("/v1/sessions/:session_id/messages/:message_id/feedback", h.SubmitFeedback)
	e.POST("/v1/sessions/:session_id/cancel", h.CancelReply)
	e.GET("/v1/sessions/:session_id/export", h.Export)
	e.GET("/v1/sessions/:session_id/history", h.GetHistory)
	e.GET("/v1/sessions/:session_id/theme", h.GetTheme)
	e.PUT("/v1/sessions/:session_id/theme", h.SetTheme)

	e.GET("/v1/topics", h.GetTopics)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "healthy",
		"version": "0.1.0",
	}
	if h.conns != nil {
		resp["connections"] = h.conns.GetConnectionCount()
		resp["sessions"] = h.conns.GetSessionCount()
	}
	return c.JSON(http.StatusOK, resp)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// serviceError maps conversation errors to status codes.
func (h *Handler) serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrBlankInput),
		errors.Is(err, conversation.ErrNotUserMessage),
		errors.Is(err, service.ErrNotAssistantMessage):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrMessageNotFound):
		return errorJSON(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAwaitingReply):
		return errorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRejected):
		return errorJSON(c, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("request_failed", zap.String("path", c.Path()), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
}
