package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/theme"
)

// Model is the help overlay view. Besides the key bindings it lists
// the client's settings so operators can tell clients apart.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	info   [][2]string
	width  int
	height int
}

// New creates a new help view model. info holds label/value pairs shown
// under the key bindings.
func New(keys *keys.KeyMap, info [][2]string, width, height int) Model {
	h := help.New()
	h.Width = width
	h.ShowAll = true
	return Model{
		keys:   keys,
		help:   h,
		info:   info,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	sections := []string{titleStyle.Render("Keyboard Shortcuts"), m.help.View(m.keys)}

	if len(m.info) > 0 {
		label := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(14)
		var lines []string
		for _, kv := range m.info {
			lines = append(lines, label.Render(kv[0]+":")+kv[1])
		}
		sections = append(sections, "", titleStyle.Render("This Client"), strings.Join(lines, "\n"))
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
