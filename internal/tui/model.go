// Package tui is a terminal front end for a single conversation controller.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/ashureev/vryxia/internal/domain"
)

// Controller is the part of session.Controller the UI drives.
type Controller interface {
	SetDraft(text string)
	Send() bool
	ToggleChatMode() bool
	Snapshot() domain.SessionState
}

// Options configures a Model.
type Options struct {
	Name     string
	Styles   *Styles
	Renderer *glamour.TermRenderer // nil renders replies as plain text
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctrl   Controller
	events <-chan domain.Event

	name     string
	styles   Styles
	renderer *glamour.TermRenderer

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	state    domain.SessionState
	width    int
	height   int
	quitting bool
}

// New creates the chat model. events must carry the controller's events.
func New(ctrl Controller, events <-chan domain.Event, opts Options) Model {
	styles := DefaultStyles()
	if opts.Styles != nil {
		styles = *opts.Styles
	}
	if opts.Name == "" {
		opts.Name = "Vryxia"
	}

	ti := textinput.New()
	ti.Placeholder = "Ketik pesan... (Enter kirim, Ctrl+T mode chat, Ctrl+C keluar)"
	ti.Prompt = "│ "
	ti.PromptStyle = styles.Prompt
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Marker

	m := Model{
		ctrl:     ctrl,
		events:   events,
		name:     opts.Name,
		styles:   styles,
		renderer: opts.Renderer,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		state:    ctrl.Snapshot(),
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForEvent(m.events))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-5, 3)
		m.refresh()
		return m, nil

	case eventMsg:
		m.state = m.ctrl.Snapshot()
		m.refresh()
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "ctrl+t":
		m.ctrl.ToggleChatMode()
		m.state = m.ctrl.Snapshot()
		return m, nil

	case "enter":
		m.ctrl.SetDraft(m.input.Value())
		if m.ctrl.Send() {
			m.input.Reset()
		}
		m.state = m.ctrl.Snapshot()
		m.refresh()
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.ctrl.SetDraft(after)
	}
	return m, cmd
}

// refresh re-renders the transcript into the viewport and scrolls to the end.
func (m *Model) refresh() {
	var b strings.Builder
	for i, msg := range m.state.Transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessage(msg domain.Message) string {
	if msg.Sender == domain.SenderUser {
		return m.styles.User.Render("Kamu:") + " " + msg.Text
	}

	body := msg.Text
	if m.renderer != nil {
		if out, err := m.renderer.Render(msg.Text); err == nil {
			body = strings.Trim(out, "\n")
		}
	}
	return m.styles.Assistant.Render(m.name+":") + " " + body
}

func (m Model) status() string {
	switch {
	case m.state.Pending:
		return m.spinner.View() + m.styles.Marker.Render(" ?") + m.styles.Status.Render(fmt.Sprintf(" %s sedang berpikir...", m.name))
	case m.state.RecentlyReplied:
		return m.styles.Marker.Render("💡") + m.styles.Status.Render(" balasan baru")
	default:
		return ""
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "Sampai jumpa!\n"
	}

	header := m.styles.Header.Render(m.name)
	if m.state.ChatModeActive {
		header += " " + m.styles.ChatMode.Render("mode chat")
	}

	return strings.Join([]string{
		header,
		m.viewport.View(),
		m.status(),
		m.input.View(),
		m.styles.Help.Render("enter kirim • ctrl+t mode chat • ctrl+c keluar"),
	}, "\n")
}

var _ tea.Model = Model{}
