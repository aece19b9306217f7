package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/csassistant/internal/domain"
)

// HeaderSessionID selects the conversation for the legacy chat API.
const HeaderSessionID = "X-Session-ID"

// DefaultSessionID is used when HeaderSessionID is absent.
const DefaultSessionID = "default"

// Chat answers a single message without touching any conversation.
// POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	res := h.service.Select(req.Message)
	return c.JSON(http.StatusOK, domain.ChatResponse{
		Response:  res.Text,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}

// ClearChat resets the conversation named by the X-Session-ID header.
// POST /api/clear_chat
func (h *Handler) ClearChat(c echo.Context) error {
	sessionID := c.Request().Header.Get(HeaderSessionID)
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	ctx := c.Request().Context()
	if err := h.service.Session(ctx, sessionID).Clear(ctx); err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(http.StatusOK, domain.ClearChatResponse{
		Status:  "success",
		Message: "Chat cleared",
	})
}
