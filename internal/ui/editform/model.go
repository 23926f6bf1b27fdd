package editform

import (
	"errors"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/theme"
)

// SubmittedMsg carries the fields the operator changed.
type SubmittedMsg struct {
	ID      string
	Changes map[model.Field]string
}

// PromptMsg carries the answer to a one-line prompt.
type PromptMsg struct {
	ID     string
	Prompt string
	Value  string
}

var errRequired = errors.New("a value is required")

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	values map[model.Field]*string
	answer string
}

// Model edits a notification's business fields, or asks one question
// about it.
type Model struct {
	form     *huh.Form
	fb       *formBindings
	id       string
	title    string
	prompt   string
	original model.Fields
	width    int
	height   int
}

// New creates a new edit form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{values: make(map[model.Field]*string)},
		width:  width,
		height: height,
	}
}

// StartEdit opens the field editor for n.
func (m *Model) StartEdit(n model.Notification) tea.Cmd {
	m.id = n.ID
	m.title = "Edit " + n.Title()
	m.prompt = ""
	m.original = n.Fields

	fields := make([]huh.Field, 0, len(model.AllFields))
	for _, f := range model.AllFields {
		v := n.Fields.Get(f)
		m.fb.values[f] = &v
		if f == model.FieldMessage {
			fields = append(fields, huh.NewText().Title(f.Label()).Lines(4).Value(&v))
			continue
		}
		fields = append(fields, huh.NewInput().Title(f.Label()).Value(&v))
	}

	m.form = huh.NewForm(huh.NewGroup(fields...)).
		WithWidth(m.formWidth()).
		WithShowHelp(true)
	return m.form.Init()
}

// StartPrompt asks a single question about notification id. The answer
// is delivered as a PromptMsg tagged with prompt. A required answer must
// not be blank.
func (m *Model) StartPrompt(id, prompt, title, placeholder string, required bool) tea.Cmd {
	m.id = id
	m.title = title
	m.prompt = prompt
	m.fb.answer = ""

	input := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&m.fb.answer)
	if required {
		input = input.Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errRequired
			}
			return nil
		})
	}

	m.form = huh.NewForm(huh.NewGroup(input)).WithWidth(m.formWidth())
	return m.form.Init()
}

// Update handles messages for the form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		m.form = nil
		return m, m.submit()
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

func (m Model) submit() tea.Cmd {
	id := m.id
	if m.prompt != "" {
		prompt, answer := m.prompt, strings.TrimSpace(m.fb.answer)
		return func() tea.Msg { return PromptMsg{ID: id, Prompt: prompt, Value: answer} }
	}

	changes := changedFields(m.original, m.fb.values)
	return func() tea.Msg { return SubmittedMsg{ID: id, Changes: changes} }
}

// Active reports whether a form is open.
func (m Model) Active() bool {
	return m.form != nil
}

// View renders the form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(titleStyle.Render(m.title) + "\n" + m.form.View())
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	return max(min(m.width-4, 80), 20)
}

// changedFields returns the values that differ from orig.
func changedFields(orig model.Fields, values map[model.Field]*string) map[model.Field]string {
	changes := make(map[model.Field]string)
	for _, f := range model.AllFields {
		v, ok := values[f]
		if !ok || v == nil {
			continue
		}
		if *v != orig.Get(f) {
			changes[f] = *v
		}
	}
	return changes
}
