package notiflist

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/notify"
	"github.com/nhle/mail-triage/internal/theme"
)

// Lister returns notifications matching a filter, most recent first.
type Lister interface {
	List(f notify.Filter) []model.Notification
}

// LoadedMsg is sent when notifications have been read from the store.
type LoadedMsg struct {
	Notifications []model.Notification
}

// SelectedMsg is sent when the user opens a notification.
type SelectedMsg struct {
	ID string
}

// View options applied on top of the store filter.
type viewOptions struct {
	operator     string
	showResolved bool
	mineOnly     bool
	query        string
}

// Model is the notification list view.
type Model struct {
	list        list.Model
	source      Lister
	keys        *keys.KeyMap
	opts        viewOptions
	searchMode  bool
	searchInput textinput.Model
	width       int
	height      int
}

// New creates a list over source for operator.
func New(source Lister, k *keys.KeyMap, operator string, width, height int) Model {
	l := list.New([]list.Item{}, Delegate{Operator: operator}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search subject, sender, docket..."
	si.Prompt = "/ "
	si.Width = width - 4

	return Model{
		list:        l,
		source:      source,
		keys:        k,
		opts:        viewOptions{operator: operator, showResolved: true},
		searchInput: si,
		width:       width,
		height:      height,
	}
}

// Init returns a command that loads the notifications.
func (m Model) Init() tea.Cmd {
	return m.Load()
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		return m, m.setItems(msg.Notifications)

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) setItems(ns []model.Notification) tea.Cmd {
	selected := ""
	if n, ok := m.Selected(); ok {
		selected = n.ID
	}

	visible := filter(ns, m.opts)
	items := make([]list.Item, len(visible))
	index := 0
	for i, n := range visible {
		items[i] = Item{Notification: n}
		if n.ID == selected {
			index = i
		}
	}
	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(index)
	}
	return cmd
}

func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.opts.query = strings.TrimSpace(m.searchInput.Value())
		return m, m.Load()

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.opts.query = ""
		return m, m.Load()
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		n, ok := m.Selected()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg { return SelectedMsg{ID: n.ID} }

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.ToggleResolved):
		m.opts.showResolved = !m.opts.showResolved
		return m, m.Load()

	case key.Matches(msg, m.keys.ToggleMine):
		m.opts.mineOnly = !m.opts.mineOnly
		return m, m.Load()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}

// Selected returns the highlighted notification.
func (m Model) Selected() (model.Notification, bool) {
	item, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return item.Notification, true
}

// View renders the list view.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.opts.query != "" || m.opts.mineOnly || !m.opts.showResolved {
		return style.Render("No matching notifications.\nTry adjusting your filters.")
	}
	return style.Render("Inbox is clear.\n\nPress r to poll the mailbox.")
}

// Load returns a command that reads the notifications from the store.
func (m Model) Load() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		return LoadedMsg{Notifications: source.List(notify.Filter{})}
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}

// filter applies the view options, keeping the store's order.
func filter(ns []model.Notification, o viewOptions) []model.Notification {
	query := strings.ToLower(o.query)
	out := make([]model.Notification, 0, len(ns))
	for _, n := range ns {
		if !o.showResolved && finished(n) {
			continue
		}
		if o.mineOnly && !n.Claim.HeldBy(o.operator) {
			continue
		}
		if query != "" && !matches(n, query) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func matches(n model.Notification, query string) bool {
	for _, s := range []string{n.Title(), n.Subject, n.Sender, n.Fields.DocketNumber, n.Fields.ProjectManager} {
		if strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

// finished reports whether n needs no further work.
func finished(n model.Notification) bool {
	return n.Status == model.StatusDismissed || n.Status == model.StatusCompleted
}
