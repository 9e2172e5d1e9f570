package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
	sdkauth "github.com/aquila-desktop/aquila-auth/sdk/auth"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const actionTimeout = 30 * time.Second

// Controller is the login coordinator surface the TUI drives.
type Controller interface {
	StartLogin(ctx context.Context) (string, error)
	CancelLogin(ctx context.Context) error
	SubmitCallbackURL(ctx context.Context, rawURL string) error
	Logout(ctx context.Context) error
	Refresh(ctx context.Context) error
	Status(ctx context.Context) (sdkauth.Status, error)
	Subscribe() (<-chan sdkauth.Notification, func())
}

type statusMsg struct {
	status sdkauth.Status
	err    error
}

type notificationMsg sdkauth.Notification

type eventsClosedMsg struct{}

type actionMsg struct {
	op  string
	err error
}

type copiedMsg struct{ err error }

// clipboardWrite is replaced in tests.
var clipboardWrite = clipboard.WriteAll

// accountTabModel shows the session and drives login, logout and refresh.
type accountTabModel struct {
	ctrl    Controller
	events  <-chan sdkauth.Notification
	status  sdkauth.Status
	spinner spinner.Model
	input   textinput.Model
	pasting bool
	message string
	msgKind string
	width   int
	height  int
}

func newAccountTabModel(ctrl Controller, events <-chan sdkauth.Notification) accountTabModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorPrimary)

	ti := textinput.New()
	ti.CharLimit = 4096
	ti.Prompt = T("callback_prompt")

	return accountTabModel{ctrl: ctrl, events: events, spinner: sp, input: ti}
}

func (m accountTabModel) Init() tea.Cmd {
	return tea.Batch(m.fetchStatus, m.waitForNotification, m.spinner.Tick)
}

func (m accountTabModel) fetchStatus() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	st, err := m.ctrl.Status(ctx)
	return statusMsg{status: st, err: err}
}

func (m accountTabModel) waitForNotification() tea.Msg {
	if m.events == nil {
		return nil
	}
	n, ok := <-m.events
	if !ok {
		return eventsClosedMsg{}
	}
	return notificationMsg(n)
}

// run executes a coordinator call off the UI goroutine.
func (m accountTabModel) run(op string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{op: op, err: fn(ctx)}
	}
}

func (m *accountTabModel) setMessage(kind, text string) {
	m.msgKind = kind
	m.message = text
}

func (m accountTabModel) Update(msg tea.Msg) (accountTabModel, tea.Cmd) {
	switch msg := msg.(type) {
	case localeChangedMsg:
		m.input.Prompt = T("callback_prompt")
		return m, nil

	case statusMsg:
		if msg.err != nil {
			m.setMessage("error", fmt.Sprintf(T("action_failed"), coreauth.GetUserFriendlyMessage(msg.err)))
			return m, nil
		}
		m.status = msg.status
		return m, nil

	case notificationMsg:
		n := sdkauth.Notification(msg)
		switch n.Kind {
		case sdkauth.KindPending:
			m.status.Pending = true
			m.status.AttemptID = n.AttemptID
			m.status.AuthURL = n.AuthURL
			m.setMessage("", "")
		case sdkauth.KindSucceeded:
			name := ""
			if n.Profile != nil {
				name = n.Profile.DisplayName()
			}
			m.setMessage("success", fmt.Sprintf(T("login_succeeded"), name))
		case sdkauth.KindFailed:
			m.setMessage("error", fmt.Sprintf(T("login_failed"), n.Reason))
		case sdkauth.KindLoggedOut:
			m.setMessage("warning", T("logged_out"))
		}
		if n.Terminal() {
			m.pasting = false
			m.input.Blur()
		}
		return m, tea.Batch(m.fetchStatus, m.waitForNotification)

	case eventsClosedMsg:
		m.setMessage("warning", T("events_closed"))
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.setMessage("error", fmt.Sprintf(T("action_failed"), coreauth.GetUserFriendlyMessage(msg.err)))
		} else {
			switch msg.op {
			case "refresh":
				m.setMessage("success", T("refreshed"))
			case "callback":
				m.setMessage("", T("callback_sent"))
			}
		}
		return m, m.fetchStatus

	case copiedMsg:
		if msg.err != nil {
			m.setMessage("error", fmt.Sprintf(T("copy_failed"), msg.err.Error()))
		} else {
			m.setMessage("success", T("copied"))
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.pasting {
			return m.updatePaste(msg)
		}
		switch msg.String() {
		case "l":
			return m, m.run("login", func(ctx context.Context) error {
				_, err := m.ctrl.StartLogin(ctx)
				return err
			})
		case "x":
			return m, m.run("cancel", m.ctrl.CancelLogin)
		case "o":
			return m, m.run("logout", m.ctrl.Logout)
		case "r":
			return m, m.run("refresh", m.ctrl.Refresh)
		case "c":
			if m.status.AuthURL == "" {
				return m, nil
			}
			url := m.status.AuthURL
			return m, func() tea.Msg { return copiedMsg{err: clipboardWrite(url)} }
		case "p":
			if !m.status.Pending {
				return m, nil
			}
			m.pasting = true
			m.input.SetValue("")
			return m, m.input.Focus()
		}
	}
	return m, nil
}

func (m accountTabModel) updatePaste(msg tea.KeyMsg) (accountTabModel, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.pasting = false
		m.input.Blur()
		return m, nil
	case "enter":
		raw := strings.TrimSpace(m.input.Value())
		m.pasting = false
		m.input.Blur()
		if raw == "" {
			return m, nil
		}
		return m, m.run("callback", func(ctx context.Context) error {
			return m.ctrl.SubmitCallbackURL(ctx, raw)
		})
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Capturing reports whether key presses belong to the callback input.
func (m accountTabModel) Capturing() bool { return m.pasting }

func (m *accountTabModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if w > 8 {
		m.input.Width = w - 8
	}
}

func (m accountTabModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(T("account_title")))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render(T("account_help")))
	sb.WriteString("\n\n")

	var body strings.Builder
	st := m.status
	if st.LoggedIn && st.Profile != nil {
		body.WriteString(successStyle.Render(T("signed_in_as")))
		body.WriteString("\n")
		body.WriteString(row(T("label_user"), st.Profile.DisplayName()))
		body.WriteString(row(T("label_id"), st.Profile.ID))
		if st.Profile.Email != "" {
			body.WriteString(row(T("label_email"), st.Profile.Email))
		}
		if !st.ExpiresAt.IsZero() {
			body.WriteString(row(T("label_expires"), st.ExpiresAt.Local().Format(time.DateTime)))
		}
	} else {
		body.WriteString(subtitleStyle.Render(T("signed_out")))
		body.WriteString("\n")
	}

	if st.Pending {
		body.WriteString("\n")
		body.WriteString(m.spinner.View() + " " + warningStyle.Render(T("waiting_browser")))
		body.WriteString("\n")
		body.WriteString(row(T("label_attempt"), st.AttemptID))
		body.WriteString(T("auth_url"))
		body.WriteString("\n")
		body.WriteString(urlStyle.Render(st.AuthURL))
		body.WriteString("\n")
	}
	sb.WriteString(sectionStyle.Render(strings.TrimRight(body.String(), "\n")))
	sb.WriteString("\n")

	if m.pasting {
		sb.WriteString("\n")
		sb.WriteString(m.input.View())
		sb.WriteString("\n")
		sb.WriteString(helpStyle.Render(T("callback_help")))
		sb.WriteString("\n")
	}

	if m.message != "" {
		sb.WriteString("\n")
		switch m.msgKind {
		case "error":
			sb.WriteString(errorStyle.Render(m.message))
		case "success":
			sb.WriteString(successStyle.Render(m.message))
		case "warning":
			sb.WriteString(warningStyle.Render(m.message))
		default:
			sb.WriteString(valueStyle.Render(m.message))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value) + "\n"
}
