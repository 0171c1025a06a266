package transcript

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"node.town/scribe/realtime"
)

var barStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#FFFDF5")).
	Background(lipgloss.Color("#25A065")).
	Padding(0, 1)

type streamEnded struct{}

// Model is a full-screen view of a live transcript. It reads messages
// until the channel is closed.
type Model struct {
	viewport   viewport.Model
	transcript *Transcript
	logEntries []string
	messages   <-chan realtime.Message
	title      string
	ready      bool
	showLog    bool
	ended      bool
}

func NewModel(title string, messages <-chan realtime.Message) Model {
	return Model{
		transcript: New(),
		logEntries: []string{},
		messages:   messages,
		title:      title,
	}
}

func (m Model) Transcript() *Transcript {
	return m.transcript
}

func (m Model) Init() tea.Cmd {
	return waitForMessage(m.messages)
}

func waitForMessage(messages <-chan realtime.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-messages
		if !ok {
			return streamEnded{}
		}
		return msg
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "tab":
			m.showLog = !m.showLog
			m.viewport.SetContent(m.contentView())
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}

	case realtime.Message:
		m.transcript.Apply(msg)
		m.logEntries = append(m.logEntries, logEntry(msg))
		m.viewport.SetContent(m.contentView())
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForMessage(m.messages))

	case streamEnded:
		m.ended = true
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Connecting..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m Model) headerView() string {
	title := barStyle.Render(m.title)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line)
}

func (m Model) footerView() string {
	text := "Press q to quit, Tab to switch views"
	if m.ended {
		text = "Stream ended. " + text
	}
	info := barStyle.Render(text)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m Model) contentView() string {
	if m.showLog {
		return m.logView()
	}
	return m.transcript.Render()
}

func (m Model) logView() string {
	var content strings.Builder
	for _, entry := range m.logEntries {
		content.WriteString(entry)
		content.WriteString("\n")
	}
	return content.String()
}

func logEntry(msg realtime.Message) string {
	prefix := "TMP"
	if msg.IsFinal() {
		prefix = "FIN"
	}
	return fmt.Sprintf("%s %d %q", prefix, len(msg.Text), msg.Text)
}
