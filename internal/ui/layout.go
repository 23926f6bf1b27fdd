package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/theme"
)

// Layout manages the multi-panel terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight, 0)
}

// RenderHeader renders the top bar: title on the left, mailbox status on
// the right.
func (l Layout) RenderHeader(title, status string) string {
	return l.bar(theme.HeaderStyle, theme.HeaderStyle.Render(title), theme.HeaderStyle.Render(status))
}

// RenderStatusBar renders the bottom bar with keyboard hints, or with
// errMsg in the error style when it is set.
func (l Layout) RenderStatusBar(hints, errMsg string) string {
	if errMsg != "" {
		return l.bar(theme.ErrorBarStyle, theme.ErrorBarStyle.Render(errMsg), "")
	}
	return l.bar(theme.StatusBarStyle, theme.StatusBarStyle.Render(hints), "")
}

// bar fills the gap between left and right with the style's background.
func (l Layout) bar(style lipgloss.Style, left, right string) string {
	gap := max(l.Width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, content, statusBar)
}
