package command

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/theme"
)

// Names of the commands the palette accepts.
const (
	Claim   = "claim"
	Release = "release"
	Approve = "approve"
	Dismiss = "dismiss"
	Edit    = "edit"
	Reset   = "reset"
	Reopen  = "reopen"
	Resolve = "resolve"
	Poll    = "poll"
	Claims  = "claims"
	Quit    = "quit"
)

// usage lists each command with its argument synopsis.
var usage = map[string]string{
	Claim:   "",
	Release: "",
	Approve: "",
	Dismiss: "",
	Edit:    "<field> <value>",
	Reset:   "",
	Reopen:  "[reason]",
	Resolve: "<operator>",
	Poll:    "",
	Claims:  "",
	Quit:    "",
}

// minArgs is the number of arguments each command needs.
var minArgs = map[string]int{
	Edit:    2,
	Resolve: 1,
}

// CommandMsg is emitted when the user executes a valid command.
type CommandMsg struct {
	Name string
	Args []string
}

// Rest joins the arguments from i on, for free-text values.
func (c CommandMsg) Rest(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

// ErrorMsg is emitted when the input is not a valid command.
type ErrorMsg struct {
	Err error
}

// Parse splits a command line into a CommandMsg.
func Parse(line string) (CommandMsg, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return CommandMsg{}, fmt.Errorf("empty command")
	}
	name := strings.ToLower(parts[0])
	synopsis, ok := usage[name]
	if !ok {
		return CommandMsg{}, fmt.Errorf("unknown command %q", parts[0])
	}
	args := parts[1:]
	if len(args) < minArgs[name] {
		return CommandMsg{}, fmt.Errorf("usage: %s %s", name, synopsis)
	}
	return CommandMsg{Name: name, Args: args}, nil
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "claim, approve, edit docket_number D-42, resolve bob..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(suggestions())
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

func suggestions() []string {
	out := make([]string, 0, len(usage))
	for name := range usage {
		out = append(out, name)
	}
	return out
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEnter {
		line := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if line == "" {
			return m, nil
		}
		cmd, err := Parse(line)
		if err != nil {
			return m, func() tea.Msg { return ErrorMsg{Err: err} }
		}
		return m, func() tea.Msg { return cmd }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Command Palette"),
		m.input.View(),
	)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
