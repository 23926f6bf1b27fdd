package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/theme"
)

// Action names an operator command on a notification.
type Action string

const (
	ActionClaim   Action = "claim"
	ActionRelease Action = "release"
	ActionApprove Action = "approve"
	ActionDismiss Action = "dismiss"
	ActionEdit    Action = "edit"
	ActionReset   Action = "reset"
	ActionReopen  Action = "reopen"
	ActionResolve Action = "resolve"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// LoadedMsg carries a notification and its audit trail.
type LoadedMsg struct {
	Notification model.Notification
	Events       []model.AuditEvent
}

// ActionMsg asks the parent to run an action on the shown notification.
type ActionMsg struct {
	Action Action
	ID     string
}

// ActionFor maps a key press to an action, if it is bound to one.
func ActionFor(k *keys.KeyMap, msg tea.KeyMsg) (Action, bool) {
	switch {
	case key.Matches(msg, k.Claim):
		return ActionClaim, true
	case key.Matches(msg, k.Release):
		return ActionRelease, true
	case key.Matches(msg, k.Approve):
		return ActionApprove, true
	case key.Matches(msg, k.Dismiss):
		return ActionDismiss, true
	case key.Matches(msg, k.Edit):
		return ActionEdit, true
	case key.Matches(msg, k.Reset):
		return ActionReset, true
	case key.Matches(msg, k.Reopen):
		return ActionReopen, true
	case key.Matches(msg, k.Resolve):
		return ActionResolve, true
	default:
		return "", false
	}
}

// Model is the notification detail view.
type Model struct {
	n        *model.Notification
	events   []model.AuditEvent
	operator string
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, operator string, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		operator: operator,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		m.Set(msg.Notification, msg.Events)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Back) {
			return m, func() tea.Msg { return BackMsg{} }
		}
		if action, ok := ActionFor(m.keys, msg); ok && m.n != nil {
			id := m.n.ID
			return m, func() tea.Msg { return ActionMsg{Action: action, ID: id} }
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// ID returns the shown notification's ID, or "".
func (m Model) ID() string {
	if m.n == nil {
		return ""
	}
	return m.n.ID
}

// View renders the detail view.
func (m Model) View() string {
	if m.n == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notification selected")
	}
	return m.viewport.View()
}

// Set replaces the shown notification. The scroll position is kept when
// the same notification is refreshed.
func (m *Model) Set(n model.Notification, events []model.AuditEvent) {
	same := m.n != nil && m.n.ID == n.ID
	m.n = &n
	if events != nil || !same {
		m.events = events
	}
	m.viewport.SetContent(m.renderContent())
	if !same {
		m.viewport.GotoTop()
	}
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.n != nil {
		m.viewport.SetContent(m.renderContent())
	}
}

func (m Model) renderContent() string {
	n := m.n
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(n.Title()))

	badges := []string{
		theme.KindStyle(n.Kind).Render(n.Kind.Label()),
		theme.StatusStyle(n.Status).Render(string(n.Status)),
	}
	if n.IsPriorityAssist {
		badges = append(badges, theme.AssistBadgeStyle.Render("PRIORITY ASSIST"))
	}
	if n.NeedsReview {
		badges = append(badges, theme.ReviewBadgeStyle.Render(fmt.Sprintf("needs review (%.0f%%)", n.Confidence*100)))
	}
	sections = append(sections, strings.Join(badges, "  "), "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(12)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) {
		if value == "" {
			return
		}
		sections = append(sections, metaStyle.Render(label+":")+valStyle.Render(value))
	}

	row("From", n.Sender)
	row("To", strings.Join(n.Recipients, ", "))
	row("Subject", n.Subject)
	row("Claimed by", m.claimLabel())
	if n.EmailCount > 1 {
		row("Emails", fmt.Sprintf("%d on thread", n.EmailCount))
	}
	row("Job", n.JobID)
	if n.JobDeadline != nil {
		row("Deadline", n.JobDeadline.Local().Format("2006-01-02 15:04"))
	}
	row("Related", n.RelatedID)
	row("Created", n.CreatedAt.Local().Format("2006-01-02 15:04"))
	if n.LastError != "" {
		sections = append(sections, metaStyle.Render("Error:")+lipgloss.NewStyle().Foreground(theme.ColorRed).Render(n.LastError))
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)

	sections = append(sections, "", separator, "", headerStyle.Render("Fields"), "")
	for _, f := range model.AllFields {
		value := n.Fields.Get(f)
		if n.Edited.Has(f) {
			value += lipgloss.NewStyle().Foreground(theme.ColorYellow).Render(
				fmt.Sprintf("  (edited, was %q)", n.Original.Get(f)))
		}
		sections = append(sections, metaStyle.Render(f.Label()+":")+valStyle.Render(value))
	}
	if n.Reasoning != "" {
		sections = append(sections, "", lipgloss.NewStyle().Foreground(theme.ColorGray).Italic(true).Render(n.Reasoning))
	}

	sections = append(sections, "", separator, "", headerStyle.Render("Message"), "")
	body := n.BodySnapshot
	if body == "" {
		body = lipgloss.NewStyle().Foreground(theme.ColorGray).Italic(true).Render("No body")
	}
	sections = append(sections, body)

	if len(m.events) > 0 {
		sections = append(sections, "", separator, "",
			headerStyle.Render(fmt.Sprintf("History (%d)", len(m.events))), "")
		timeStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
		typeStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue)
		for _, ev := range m.events {
			line := timeStyle.Render(ev.At.Local().Format("01-02 15:04")) + "  " + typeStyle.Render(string(ev.Type))
			if ev.Operator != "" {
				line += "  " + ev.Operator
			}
			if ev.Detail != "" {
				line += timeStyle.Render("  " + ev.Detail)
			}
			sections = append(sections, line)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) claimLabel() string {
	c := m.n.Claim
	if !c.IsGrabbed {
		return ""
	}
	owner := c.GrabbedBy
	if owner == m.operator {
		owner += " (me)"
	}
	if c.GrabbedAt != nil {
		owner += ", " + c.GrabbedAt.Local().Format("2006-01-02 15:04")
	}
	return owner
}
