// Package tui is the terminal chat interface of csa.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/conversation"
	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/export"
	"github.com/xiaot623/csassistant/internal/service"
)

const (
	composerHeight = 3
	chromeHeight   = 4
	eventBuffer    = 64
)

// Options configures the terminal UI.
type Options struct {
	// SessionID selects the conversation; service.LocalSession by default.
	SessionID string
	// ExportDir receives ctrl+s transcripts.
	ExportDir string
	// Output receives the OSC 52 fallback when no system clipboard exists.
	Output io.Writer
	Logger *zap.Logger
}

type eventMsg domain.Event

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx  context.Context
	svc  *service.Service
	ctrl *service.Controller

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   Styles
	theme    domain.Theme

	events      chan domain.Event
	unsubscribe func()

	editing   int64
	quick     []string
	quickIdx  int
	selected  int64 // 0 follows the latest reply
	rated     map[int64]bool
	status    string
	statusErr bool
	width     int
	height    int
	ready     bool

	exportDir string
	output    io.Writer
	copyText  func(text string, fallback io.Writer) (export.Method, error)
	now       func() time.Time
	logger    *zap.Logger
}

// New builds the chat model and subscribes it to the conversation.
func New(ctx context.Context, svc *service.Service, opts Options) Model {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	ctrl := svc.Session(ctx, opts.SessionID)
	theme, err := svc.Theme(ctx, opts.SessionID)
	if err != nil {
		logger.Warn("theme_unreadable", zap.Error(err))
		theme = service.DefaultTheme
	}

	ta := textarea.New()
	ta.Placeholder = "Ask me anything... (Enter to send, Alt+Enter for newline)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(composerHeight)
	ta.SetWidth(80)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter")
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	events := make(chan domain.Event, eventBuffer)
	unsubscribe := ctrl.Subscribe(func(e domain.Event) {
		select {
		case events <- e:
		default:
			// The view re-reads the snapshot on the next event it does get.
		}
	})

	m := Model{
		ctx:         ctx,
		svc:         svc,
		ctrl:        ctrl,
		textarea:    ta,
		viewport:    viewport.New(80, 20),
		spinner:     sp,
		styles:      NewStyles(theme),
		theme:       theme,
		renderer:    newRenderer(theme, 76),
		events:      events,
		unsubscribe: unsubscribe,
		quick:       svc.Topics().QuickQuestions,
		rated:       make(map[int64]bool),
		exportDir:   opts.ExportDir,
		output:      output,
		copyText:    export.Copy,
		now:         time.Now,
		logger:      logger,
	}
	m.refresh()
	return m
}

// Run starts the program and blocks until the user quits.
func Run(ctx context.Context, svc *service.Service, opts Options) error {
	m := New(ctx, svc, opts)
	defer m.unsubscribe()

	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func waitForEvent(ch <-chan domain.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitForEvent(m.events))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case eventMsg:
		if msg.Type == domain.EventTypeConversationCleared {
			m.resetSelection()
		}
		m.refresh()
		return m, waitForEvent(m.events)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.ctrl.State() == domain.StateAwaitingReply {
			m.refresh()
		}
		return m, cmd

	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.Cancel()
		return m, tea.Quit, true

	case "enter":
		m.send()
		return m, nil, true

	case "ctrl+e":
		last, ok := m.ctrl.LastUserMessage()
		if !ok {
			m.setStatus("Nothing to edit yet", true)
			return m, nil, true
		}
		m.editing = last.ID
		m.textarea.SetValue(last.Text)
		m.textarea.CursorEnd()
		m.setStatus(fmt.Sprintf("Editing message #%d (esc to cancel)", last.ID), false)
		return m, nil, true

	case "esc":
		switch {
		case m.editing != 0:
			m.editing = 0
			m.textarea.Reset()
			m.setStatus("Edit cancelled", false)
		case m.ctrl.Cancel():
			m.setStatus("Reply cancelled", false)
		}
		m.refresh()
		return m, nil, true

	case "ctrl+l":
		if err := m.ctrl.Clear(m.ctx); err != nil {
			m.setStatus("Clear failed: "+err.Error(), true)
		} else {
			m.resetSelection()
			m.setStatus("Conversation cleared", false)
		}
		m.refresh()
		return m, nil, true

	case "ctrl+t":
		next, err := m.svc.ToggleTheme(m.ctx, m.ctrl.SessionID())
		if err != nil {
			m.setStatus("Theme not saved: "+err.Error(), true)
			return m, nil, true
		}
		m.applyTheme(next)
		m.setStatus(fmt.Sprintf("Theme: %s", next), false)
		return m, nil, true

	case "ctrl+s":
		path, err := export.WriteFile(m.exportDir, m.ctrl.Snapshot(), m.now())
		if err != nil {
			m.setStatus("Export failed: "+err.Error(), true)
		} else {
			m.setStatus("Saved "+path, false)
		}
		return m, nil, true

	case "ctrl+y":
		m.copyToClipboard(export.Transcript(m.ctrl.Snapshot()), "transcript")
		return m, nil, true

	case "alt+y":
		reply, ok := m.selectedReply()
		if !ok {
			m.setStatus("No reply to copy yet", true)
			return m, nil, true
		}
		m.copyToClipboard(reply.Text, fmt.Sprintf("reply #%d", reply.ID))
		return m, nil, true

	case "ctrl+o":
		if len(m.quick) == 0 {
			m.setStatus("No quick questions available", true)
			return m, nil, true
		}
		n := m.quickIdx % len(m.quick)
		m.quickIdx++
		m.textarea.SetValue(m.quick[n])
		m.textarea.CursorEnd()
		m.setStatus(fmt.Sprintf("Quick question %d/%d (enter to ask, ctrl+o for the next one)", n+1, len(m.quick)), false)
		return m, nil, true

	case "ctrl+up":
		m.moveSelection(-1)
		return m, nil, true

	case "ctrl+down":
		m.moveSelection(1)
		return m, nil, true

	case "ctrl+g":
		m.rate(true)
		return m, nil, true

	case "ctrl+r":
		m.rate(false)
		return m, nil, true
	}
	return m, nil, false
}

// send submits the composer, or applies the pending edit.
func (m *Model) send() {
	text := m.textarea.Value()

	var err error
	if m.editing != 0 {
		var res conversation.EditResult
		res, err = m.ctrl.EditAndRegenerate(m.ctx, m.editing, text)
		if err == nil {
			m.editing = 0
			if res.Truncated {
				m.setStatus("Message edited, regenerating reply", false)
			} else {
				m.setStatus("Message edited", false)
			}
		}
	} else {
		_, err = m.ctrl.Submit(m.ctx, text)
		if err == nil {
			m.setStatus("", false)
		}
	}

	switch {
	case err == nil:
		m.textarea.Reset()
	case errors.Is(err, service.ErrBlankInput):
		// Enter on an empty composer does nothing.
	default:
		m.setStatus(err.Error(), true)
	}
	m.refresh()
}

func (m *Model) copyToClipboard(text, what string) {
	method, err := m.copyText(text, m.output)
	if err != nil {
		m.logger.Warn("copy_failed", zap.String("what", what), zap.Error(err))
		m.setStatus("Copy failed: "+err.Error(), true)
		return
	}
	m.setStatus(fmt.Sprintf("Copied %s (%s)", what, method), false)
}

// replies returns the assistant messages in order.
func (m Model) replies() []domain.Message {
	var out []domain.Message
	for _, msg := range m.ctrl.Snapshot() {
		if !msg.IsUser() {
			out = append(out, msg)
		}
	}
	return out
}

// selectedReply is the reply rate and copy act on: the selected one while it
// still exists, otherwise the latest.
func (m Model) selectedReply() (domain.Message, bool) {
	replies := m.replies()
	if len(replies) == 0 {
		return domain.Message{}, false
	}
	for _, r := range replies {
		if r.ID == m.selected {
			return r, true
		}
	}
	return replies[len(replies)-1], true
}

func (m *Model) moveSelection(delta int) {
	replies := m.replies()
	if len(replies) == 0 {
		m.setStatus("No replies yet", true)
		return
	}
	cur, _ := m.selectedReply()
	i := 0
	for j, r := range replies {
		if r.ID == cur.ID {
			i = j
		}
	}
	i = min(max(i+delta, 0), len(replies)-1)
	m.selected = replies[i].ID
	m.setStatus(fmt.Sprintf("Reply #%d selected (ctrl+g helpful, ctrl+r not helpful, alt+y copy)", m.selected), false)
	m.refresh()
}

func (m *Model) rate(helpful bool) {
	reply, ok := m.selectedReply()
	if !ok {
		m.setStatus("No reply to rate yet", true)
		return
	}
	if _, err := m.svc.Feedback(m.ctx, m.ctrl.SessionID(), reply.ID, helpful); err != nil {
		m.setStatus("Feedback failed: "+err.Error(), true)
		return
	}
	m.rated[reply.ID] = helpful
	m.setStatus("Thanks for your feedback!", false)
	m.refresh()
}

func (m *Model) resetSelection() {
	m.editing = 0
	m.selected = 0
	m.rated = make(map[int64]bool)
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

func (m *Model) applyTheme(theme domain.Theme) {
	m.theme = theme
	m.styles = NewStyles(theme)
	m.renderer = newRenderer(theme, m.viewport.Width-4)
	m.refresh()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.textarea.SetWidth(width)
	m.viewport.Width = width
	m.viewport.Height = max(height-composerHeight-chromeHeight, 3)
	m.renderer = newRenderer(m.theme, width-4)
	m.ready = true
	m.refresh()
}

// refresh re-renders the transcript from the controller's snapshot.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if atBottom || m.ctrl.State() == domain.StateAwaitingReply {
		m.viewport.GotoBottom()
	}
}
