package v1

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/csassistant/internal/domain"
)

// Export downloads the transcript as a text file.
// GET /v1/sessions/:session_id/export
func (h *Handler) Export(c echo.Context) error {
	name, transcript := h.service.Export(c.Request().Context(), c.Param("session_id"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.String(http.StatusOK, transcript)
}

// GetHistory lists recent submissions, newest first.
// GET /v1/sessions/:session_id/history
func (h *Handler) GetHistory(c echo.Context) error {
	ctx := c.Request().Context()
	history, err := h.service.Session(ctx, c.Param("session_id")).SearchHistory(ctx)
	if err != nil {
		return h.serviceError(c, err)
	}
	if history == nil {
		history = []string{}
	}
	return c.JSON(http.StatusOK, domain.HistoryResponse{History: history})
}

// GetTheme returns the session's theme.
// GET /v1/sessions/:session_id/theme
func (h *Handler) GetTheme(c echo.Context) error {
	theme, err := h.service.Theme(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, domain.ThemeResponse{Theme: theme})
}

// SetTheme stores the session's theme.
// PUT /v1/sessions/:session_id/theme
func (h *Handler) SetTheme(c echo.Context) error {
	var req domain.ThemeRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	theme, err := domain.ParseTheme(req.Theme)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	if err := h.service.SetTheme(c.Request().Context(), c.Param("session_id"), theme); err != nil {
		return h.serviceError(c, err)
	}
	return c.JSON(http.StatusOK, domain.ThemeResponse{Theme: theme})
}

// GetTopics lists the catalog, knowledge topics and quick questions.
// GET /v1/topics
func (h *Handler) GetTopics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Topics())
}
