package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Selection
	Select key.Binding

	// Back / Quit
	Back key.Binding
	Quit key.Binding

	// Search
	Search key.Binding

	// Command palette
	Command key.Binding

	// Help toggle
	Help key.Binding

	// Manual mail poll
	Refresh key.Binding

	// Filters
	ToggleResolved key.Binding
	ToggleMine     key.Binding

	// Actions
	Claim   key.Binding
	Release key.Binding
	Approve key.Binding
	Dismiss key.Binding
	Edit    key.Binding
	Reset   key.Binding
	Reopen  key.Binding
	Resolve key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open detail"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "search"),
		),
		Command: key.NewBinding(
			key.WithKeys(":"),
			key.WithHelp(":", "command palette"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "poll mailbox"),
		),
		ToggleResolved: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "toggle resolved"),
		),
		ToggleMine: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "toggle mine"),
		),
		Claim: key.NewBinding(
			key.WithKeys("g"),
			key.WithHelp("g", "grab"),
		),
		Release: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "release"),
		),
		Approve: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "approve"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "dismiss"),
		),
		Edit: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "edit fields"),
		),
		Reset: key.NewBinding(
			key.WithKeys("R"),
			key.WithHelp("R", "reset fields"),
		),
		Reopen: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "reopen"),
		),
		Resolve: key.NewBinding(
			key.WithKeys("!"),
			key.WithHelp("!", "resolve conflict"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Select, k.Claim,
		k.Approve, k.Dismiss, k.Help, k.Quit,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.Back, k.Quit},
		{k.Search, k.Command, k.Help, k.Refresh},
		{k.ToggleResolved, k.ToggleMine},
		{k.Claim, k.Release, k.Approve, k.Dismiss},
		{k.Edit, k.Reset, k.Reopen, k.Resolve},
	}
}
