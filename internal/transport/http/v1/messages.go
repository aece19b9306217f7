package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/csassistant/internal/domain"
)

func messageIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	return id, err == nil
}

// GetMessages returns a session's conversation.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	ctrl := h.service.Session(c.Request().Context(), sessionID)

	return c.JSON(http.StatusOK, domain.ConversationResponse{
		SessionID: sessionID,
		Messages:  ctrl.Snapshot(),
		State:     ctrl.State(),
	})
}

// SubmitMessage appends a user message; the reply arrives asynchronously.
// POST /v1/sessions/:session_id/messages
func (h *Handler) SubmitMessage(c echo.Context) error {
	var req domain.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	ctrl := h.service.Session(ctx, c.Param("session_id"))
	msg, err := ctrl.Submit(ctx, req.Text)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(http.StatusAccepted, domain.SubmitResponse{
		Message: msg,
		State:   ctrl.State(),
	})
}

// EditMessage rewrites a user message and regenerates its reply when needed.
// PUT /v1/sessions/:session_id/messages/:message_id
func (h *Handler) EditMessage(c echo.Context) error {
	id, ok := messageIDParam(c)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid message_id")
	}

	var req domain.EditRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	res, err := h.service.Session(ctx, c.Param("session_id")).EditAndRegenerate(ctx, id, req.Text)
	if err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(http.StatusOK, domain.EditResponse{
		Message:      res.Message,
		Regenerating: res.Truncated,
	})
}

// ClearMessages resets a session's conversation.
// DELETE /v1/sessions/:session_id/messages
func (h *Handler) ClearMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()
	ctrl := h.service.Session(ctx, sessionID)
	if err := ctrl.Clear(ctx); err != nil {
		return h.serviceError(c, err)
	}

	return c.JSON(http.StatusOK, domain.ConversationResponse{
		SessionID: sessionID,
		Messages:  ctrl.Snapshot(),
		State:     ctrl.State(),
	})
}

// CancelReply drops a pending reply.
// POST /v1/sessions/:session_id/cancel
func (h *Handler) CancelReply(c echo.Context) error {
	ctrl := h.service.Session(c.Request().Context(), c.Param("session_id"))
	cancelled := ctrl.Cancel()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"cancelled": cancelled,
		"state":     ctrl.State(),
	})
}

// SubmitFeedback rates an assistant reply.
// POST /v1/sessions/:session_id/messages/:message_id/feedback
func (h *Handler) SubmitFeedback(c echo.Context) error {
	id, ok := messageIDParam(c)
	if !ok {
		return errorJSON(c, http.StatusBadRequest, "invalid message_id")
	}

	var req domain.FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	fb, err := h.service.Feedback(c.Request().Context(), c.Param("session_id"), id, req.Helpful)
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, fb)
}
