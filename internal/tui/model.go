// Package tui is the terminal chat view over a chat.Session.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/seedbank/internal/chat"
)

// Conversation is the part of chat.Session the view drives.
type Conversation interface {
	Submit(ctx context.Context, message string) (chat.Turn, error)
	Transcript() []chat.Turn
	ThreadID() string
}

type replyMsg struct {
	err error
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	conv     Conversation
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	pending  int
	status   string
	ready    bool
}

// New creates a chat screen. timeout bounds each turn.
func New(conv Conversation, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the seeded collection and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		conv:     conv,
		timeout:  timeout,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "New conversation. Ctrl+C to quit.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		h := msg.Height - bh - ih - 3 // header, input line, status
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, h)
		m.refresh()
		return m, nil

	case replyMsg:
		m.pending--
		if msg.err != nil {
			m.status = "Request failed. You can retry."
		} else {
			m.status = "Thread " + m.conv.ThreadID()
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.pending++
			m.status = "Thinking..."
			cmd := m.submit(text)
			// The command records the user turn when it runs; show it now.
			m.refreshWith(text)
			return m, cmd
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit(text string) tea.Cmd {
	conv, timeout := m.conv, m.timeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		_, err := conv.Submit(ctx, text)
		return replyMsg{err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("seedbank chat")
	body := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + body + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(Render(m.conv.Transcript(), m.viewport.Width))
	m.viewport.GotoBottom()
}

// refreshWith renders the transcript plus a user line that has not been
// recorded yet.
func (m *Model) refreshWith(pendingUser string) {
	turns := m.conv.Transcript()
	if n := len(turns); n == 0 || turns[n-1].Role != chat.RoleUser || turns[n-1].Text != pendingUser {
		turns = append(turns, chat.Turn{Role: chat.RoleUser, Text: pendingUser})
	}
	m.viewport.SetContent(Render(turns, m.viewport.Width))
	m.viewport.GotoBottom()
}

// Render formats a transcript for display.
func Render(turns []chat.Turn, width int) string {
	if len(turns) == 0 {
		return hintStyle.Render("No messages yet.")
	}
	wrap := lipgloss.NewStyle()
	if width > 4 {
		wrap = wrap.Width(width - 4)
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		switch t.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("you: "))
		case chat.RoleAssistant:
			b.WriteString(botStyle.Render("bot: "))
		default:
			b.WriteString(errorStyle.Render("!!! "))
		}
		b.WriteString(wrap.Render(t.Text))
	}
	return b.String()
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)
