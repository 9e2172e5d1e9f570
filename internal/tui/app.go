package tui

import (
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	tabAccount = iota
	tabLogs
)

// localeChangedMsg is broadcast to all tabs when the user toggles locale.
type localeChangedMsg struct{}

// App is the root bubbletea model.
type App struct {
	activeTab int
	tabs      []string

	account accountTabModel
	logs    logsTabModel

	unsubscribe func()

	width  int
	height int
	ready  bool
}

// NewApp creates the root model. hook may be nil, which hides the logs tab.
func NewApp(ctrl Controller, hook *LogHook) App {
	events, unsubscribe := ctrl.Subscribe()
	app := App{
		activeTab:   tabAccount,
		account:     newAccountTabModel(ctrl, events),
		logs:        newLogsTabModel(hook),
		unsubscribe: unsubscribe,
	}
	app.refreshTabs()
	return app
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.account.Init(), a.logs.Init())
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		contentH := a.height - 4
		if contentH < 1 {
			contentH = 1
		}
		a.account.SetSize(a.width, contentH)
		a.logs.SetSize(a.width, contentH)
		return a, nil

	case tea.KeyMsg:
		if !a.account.Capturing() {
			switch msg.String() {
			case "ctrl+c", "q":
				a.unsubscribe()
				return a, tea.Quit
			case "L":
				ToggleLocale()
				a.refreshTabs()
				var cmdAccount, cmdLogs tea.Cmd
				a.account, cmdAccount = a.account.Update(localeChangedMsg{})
				a.logs, cmdLogs = a.logs.Update(localeChangedMsg{})
				return a, tea.Batch(cmdAccount, cmdLogs)
			case "tab", "shift+tab":
				if len(a.tabs) > 1 {
					a.activeTab = (a.activeTab + 1) % len(a.tabs)
				}
				return a, nil
			}
		} else if msg.String() == "ctrl+c" {
			a.unsubscribe()
			return a, tea.Quit
		}
		var cmd tea.Cmd
		if a.activeTab == tabLogs {
			a.logs, cmd = a.logs.Update(msg)
		} else {
			a.account, cmd = a.account.Update(msg)
		}
		return a, cmd

	case logLineMsg:
		var cmd tea.Cmd
		a.logs, cmd = a.logs.Update(msg)
		return a, cmd
	}

	// Coordinator results, notifications and spinner ticks belong to the
	// account tab whichever tab is visible.
	var cmd tea.Cmd
	a.account, cmd = a.account.Update(msg)
	if a.activeTab == tabLogs {
		var cmdLogs tea.Cmd
		a.logs, cmdLogs = a.logs.Update(msg)
		cmd = tea.Batch(cmd, cmdLogs)
	}
	return a, cmd
}

func (a *App) refreshTabs() {
	names := TabNames()
	if a.logs.hook == nil {
		names = names[:1]
	}
	a.tabs = names
	if a.activeTab >= len(a.tabs) {
		a.activeTab = len(a.tabs) - 1
	}
}

func (a App) View() string {
	if !a.ready {
		return T("initializing_tui")
	}
	var sb strings.Builder
	sb.WriteString(a.renderTabBar())
	sb.WriteString("\n")
	if a.activeTab == tabLogs {
		sb.WriteString(a.logs.View())
	} else {
		sb.WriteString(a.account.View())
	}
	sb.WriteString("\n")
	sb.WriteString(a.renderStatusBar())
	return sb.String()
}

func (a App) renderTabBar() string {
	tabs := make([]string, 0, len(a.tabs))
	for i, name := range a.tabs {
		if i == a.activeTab {
			tabs = append(tabs, tabActiveStyle.Render(name))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(name))
		}
	}
	return tabBarStyle.Width(a.width).Render(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
}

func (a App) renderStatusBar() string {
	left := strings.TrimRight(T("status_left"), " ")
	right := strings.TrimRight(T("status_right"), " ")

	width := a.width
	if width < 1 {
		width = 1
	}
	// statusBarStyle pads one cell on each side.
	contentWidth := width - 2
	if contentWidth < 0 {
		contentWidth = 0
	}
	if lipgloss.Width(left) > contentWidth {
		left = fitStringWidth(left, contentWidth)
		right = ""
	}
	remaining := contentWidth - lipgloss.Width(left)
	if lipgloss.Width(right) > remaining {
		right = fitStringWidth(right, remaining)
	}
	gap := contentWidth - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func fitStringWidth(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(text) <= maxWidth {
		return text
	}
	var out strings.Builder
	for _, r := range text {
		if lipgloss.Width(out.String()+string(r)) > maxWidth {
			break
		}
		out.WriteRune(r)
	}
	return out.String()
}

// Run starts the TUI and blocks until the user quits. output defaults to os.Stdout.
func Run(ctrl Controller, hook *LogHook, output io.Writer) error {
	if output == nil {
		output = os.Stdout
	}
	p := tea.NewProgram(NewApp(ctrl, hook), tea.WithAltScreen(), tea.WithOutput(output))
	_, err := p.Run()
	return err
}
