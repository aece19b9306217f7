package tui

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiaot623/csassistant/internal/domain"
)

// Styles holds the lipgloss styles for one theme.
type Styles struct {
	Title     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Meta      lipgloss.Style
	UserText  lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style
	Help      lipgloss.Style
	Editing   lipgloss.Style
}

// NewStyles returns the palette for theme.
func NewStyles(theme domain.Theme) Styles {
	accent, user, muted, text, danger := lipgloss.Color("#7D56F4"), lipgloss.Color("#04B575"), lipgloss.Color("#626262"), lipgloss.Color("#FAFAFA"), lipgloss.Color("#FF5F87")
	if theme == domain.ThemeLight {
		accent, user, muted, text, danger = lipgloss.Color("#5A3FC0"), lipgloss.Color("#007A4D"), lipgloss.Color("#8A8A8A"), lipgloss.Color("#1A1A1A"), lipgloss.Color("#D7005F")
	}

	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1),
		User:      lipgloss.NewStyle().Bold(true).Foreground(user),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Meta:      lipgloss.NewStyle().Foreground(muted).Italic(true),
		UserText:  lipgloss.NewStyle().Foreground(text).PaddingLeft(2),
		Status:    lipgloss.NewStyle().Foreground(muted),
		Error:     lipgloss.NewStyle().Foreground(danger),
		Help:      lipgloss.NewStyle().Foreground(muted),
		Editing:   lipgloss.NewStyle().Foreground(danger).Bold(true),
	}
}

// newRenderer builds the markdown renderer for assistant replies.
func newRenderer(theme domain.Theme, width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(string(theme)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}
