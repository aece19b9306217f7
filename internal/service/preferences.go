package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/conversation"
	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/export"
	"github.com/xiaot623/csassistant/internal/repository"
)

// DefaultTheme applies until the user picks one.
const DefaultTheme = domain.ThemeDark

var ErrNotAssistantMessage = errors.New("only assistant replies can be rated")

// Theme returns the stored theme for a session.
func (s *Service) Theme(ctx context.Context, sessionID string) (domain.Theme, error) {
	raw, found, err := s.sessionStorage(sessionID).GetItem(ctx, repository.KeyTheme)
	if err != nil {
		return "", fmt.Errorf("failed to read theme: %w", err)
	}
	if !found {
		return DefaultTheme, nil
	}
	theme, err := domain.ParseTheme(raw)
	if err != nil {
		s.logger.Warn("theme_invalid", zap.String("session_id", sessionID), zap.String("value", raw))
		return DefaultTheme, nil
	}
	return theme, nil
}

// SetTheme stores the theme for a session.
func (s *Service) SetTheme(ctx context.Context, sessionID string, theme domain.Theme) error {
	if _, err := domain.ParseTheme(string(theme)); err != nil {
		return err
	}
	if err := s.sessionStorage(sessionID).SetItem(ctx, repository.KeyTheme, string(theme)); err != nil {
		return fmt.Errorf("failed to save theme: %w", err)
	}
	return nil
}

// ToggleTheme flips the stored theme and returns the new value.
func (s *Service) ToggleTheme(ctx context.Context, sessionID string) (domain.Theme, error) {
	current, err := s.Theme(ctx, sessionID)
	if err != nil {
		return "", err
	}
	next := current.Toggle()
	if err := s.SetTheme(ctx, sessionID, next); err != nil {
		return "", err
	}
	return next, nil
}

// Feedback records whether an assistant reply was helpful.
func (s *Service) Feedback(ctx context.Context, sessionID string, messageID int64, helpful bool) (domain.Feedback, error) {
	c := s.Session(ctx, sessionID)
	msg, ok := c.Message(messageID)
	if !ok {
		return domain.Feedback{}, fmt.Errorf("%w: %d", conversation.ErrMessageNotFound, messageID)
	}
	if msg.Role != domain.RoleAssistant {
		return domain.Feedback{}, fmt.Errorf("%w: %d", ErrNotAssistantMessage, messageID)
	}

	fb := domain.Feedback{
		SessionID: sessionID,
		MessageID: messageID,
		Helpful:   helpful,
		CreatedAt: s.now(),
	}
	s.metrics.Feedback(helpful)
	s.logger.Info("feedback_recorded",
		zap.String("session_id", sessionID),
		zap.Int64("message_id", messageID),
		zap.Bool("helpful", helpful),
		zap.String("topic", msg.Topic),
	)
	return fb, nil
}

// Export renders a session's transcript and its download name.
func (s *Service) Export(ctx context.Context, sessionID string) (name, transcript string) {
	c := s.Session(ctx, sessionID)
	return export.FileName(s.now()), export.Transcript(c.Snapshot())
}
