package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/xiaot623/csassistant/internal/domain"
)

const helpLine = "enter send • ctrl+o quick question • ctrl+e edit last • esc cancel • ctrl+↑/↓ pick reply • ctrl+g/ctrl+r rate • alt+y copy reply • ctrl+l clear • ctrl+t theme • ctrl+s save • ctrl+y copy all • ctrl+c quit"

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("CS Assistant"))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.editing != 0 {
		b.WriteString(m.styles.Editing.Render(fmt.Sprintf("editing #%d", m.editing)))
		b.WriteString("\n")
	}
	b.WriteString(m.textarea.View())
	b.WriteString("\n")

	switch {
	case m.status != "" && m.statusErr:
		b.WriteString(m.styles.Error.Render(m.status))
	case m.status != "":
		b.WriteString(m.styles.Status.Render(m.status))
	default:
		b.WriteString(m.styles.Help.Render(helpLine))
	}
	return b.String()
}

func (m Model) renderTranscript() string {
	messages := m.ctrl.Snapshot()
	now := m.now()

	blocks := make([]string, 0, len(messages)+1)
	for _, msg := range messages {
		blocks = append(blocks, m.renderMessage(msg, now))
	}
	if m.ctrl.State() == domain.StateAwaitingReply {
		blocks = append(blocks, m.spinner.View()+m.styles.Meta.Render(" Thinking..."))
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) renderMessage(msg domain.Message, now time.Time) string {
	label := m.styles.Assistant.Render("Assistant")
	if msg.IsUser() {
		label = m.styles.User.Render("You")
	}

	meta := humanize.RelTime(msg.CreatedAt, now, "ago", "from now")
	if msg.EditedAt != nil {
		meta += ", edited"
	}
	if msg.Topic != "" {
		meta += " · " + msg.Topic
	}
	if helpful, ok := m.rated[msg.ID]; ok {
		if helpful {
			meta += " · helpful"
		} else {
			meta += " · not helpful"
		}
	}
	if m.selected != 0 && msg.ID == m.selected {
		label = "▸ " + label
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, label, " ", m.styles.Meta.Render(meta))

	var body string
	switch {
	case msg.IsUser():
		body = m.styles.UserText.Width(max(m.viewport.Width-2, 10)).Render(msg.Text)
	case m.renderer != nil:
		rendered, err := m.renderer.Render(msg.Text)
		if err != nil {
			body = msg.Text
		} else {
			body = strings.TrimRight(rendered, "\n")
		}
	default:
		body = msg.Text
	}
	return header + "\n" + body
}
