package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

const maxLogLines = 5000

// logsTabModel shows lines captured by the LogHook.
type logsTabModel struct {
	hook       *LogHook
	viewport   viewport.Model
	lines      []logLine
	autoScroll bool
	// threshold hides entries less severe than it.
	threshold log.Level
	width     int
	ready     bool
}

type logLineMsg logLine

func newLogsTabModel(hook *LogHook) logsTabModel {
	return logsTabModel{hook: hook, autoScroll: true, threshold: log.TraceLevel}
}

func (m logsTabModel) Init() tea.Cmd {
	if m.hook == nil {
		return nil
	}
	return m.waitForLog
}

func (m logsTabModel) waitForLog() tea.Msg {
	line, ok := <-m.hook.lines()
	if !ok {
		return nil
	}
	return logLineMsg(line)
}

func (m logsTabModel) Update(msg tea.Msg) (logsTabModel, tea.Cmd) {
	switch msg := msg.(type) {
	case localeChangedMsg:
		m.refresh()
		return m, nil
	case logLineMsg:
		m.lines = append(m.lines, logLine(msg))
		if len(m.lines) > maxLogLines {
			m.lines = m.lines[len(m.lines)-maxLogLines:]
		}
		m.refresh()
		return m, m.waitForLog
	case tea.KeyMsg:
		switch msg.String() {
		case "a":
			m.autoScroll = !m.autoScroll
			m.refresh()
			return m, nil
		case "c":
			m.lines = nil
			m.refresh()
			return m, nil
		case "1", "2", "3", "4":
			m.threshold = map[string]log.Level{"1": log.TraceLevel, "2": log.InfoLevel, "3": log.WarnLevel, "4": log.ErrorLevel}[msg.String()]
			m.refresh()
			return m, nil
		}
		wasAtBottom := m.viewport.AtBottom()
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		if wasAtBottom && !m.viewport.AtBottom() {
			m.autoScroll = false
		} else if m.viewport.AtBottom() {
			m.autoScroll = true
		}
		return m, cmd
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *logsTabModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.render())
	if m.autoScroll {
		m.viewport.GotoBottom()
	}
}

func (m *logsTabModel) SetSize(w, h int) {
	m.width = w
	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = h
	}
	m.refresh()
}

func (m logsTabModel) View() string {
	if !m.ready {
		return T("loading")
	}
	return m.viewport.View()
}

// visible returns the lines at or above the threshold severity.
func (m logsTabModel) visible() []logLine {
	out := make([]logLine, 0, len(m.lines))
	for _, line := range m.lines {
		if line.level <= m.threshold {
			out = append(out, line)
		}
	}
	return out
}

func (m logsTabModel) render() string {
	var sb strings.Builder

	scroll := successStyle.Render(T("logs_auto_scroll"))
	if !m.autoScroll {
		scroll = warningStyle.Render(T("logs_paused"))
	}
	filter := "ALL"
	if m.threshold < log.DebugLevel {
		filter = strings.ToUpper(m.threshold.String()) + "+"
	}
	visible := m.visible()
	sb.WriteString(titleStyle.Render(fmt.Sprintf(" %s  %s  %s: %s  %s: %d",
		T("logs_title"), scroll, T("logs_filter"), filter, T("logs_lines"), len(visible))))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render(T("logs_help")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")

	if len(visible) == 0 {
		sb.WriteString(subtitleStyle.Render(T("logs_waiting")))
		return sb.String()
	}
	for _, line := range visible {
		sb.WriteString(levelStyle(line.level).Render(line.text))
		sb.WriteString("\n")
	}
	return sb.String()
}

func levelStyle(level log.Level) lipgloss.Style {
	switch {
	case level <= log.ErrorLevel:
		return logErrorStyle
	case level == log.WarnLevel:
		return logWarnStyle
	case level == log.InfoLevel:
		return logInfoStyle
	default:
		return logDebugStyle
	}
}
