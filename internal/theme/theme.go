package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for top-level section headers and the application title.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// ErrorBarStyle replaces the status bar while an error is shown.
var ErrorBarStyle = StatusBarStyle.
	Background(ColorRed)

// DetailPanelStyle wraps the detail view content area.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// DimmedStyle renders resolved notifications.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// AssistBadgeStyle flags notifications that need a human to settle a claim.
var AssistBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorRed).
	Padding(0, 1)

// ReviewBadgeStyle flags low-confidence notifications.
var ReviewBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorYellow)

// ClaimStyle renders the grabbed-by label.
var ClaimStyle = lipgloss.NewStyle().
	Foreground(ColorMagenta)

// StatusStyle returns a color-coded style for the given notification status.
func StatusStyle(status model.NotificationStatus) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch status {
	case model.StatusPending:
		return base.Foreground(ColorBlue)
	case model.StatusApproved:
		return base.Foreground(ColorYellow)
	case model.StatusCompleted:
		return base.Foreground(ColorGreen)
	case model.StatusDismissed:
		return base.Foreground(ColorGray)
	default:
		return base.Foreground(ColorGray)
	}
}

// KindStyle returns a color-coded style for the given notification kind.
func KindStyle(kind model.NotificationKind) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch kind {
	case model.KindNewWorkItem:
		return base.Foreground(ColorBlue)
	case model.KindFileDelivery:
		return base.Foreground(ColorGreen)
	case model.KindError:
		return base.Foreground(ColorRed)
	case model.KindInfo:
		return base.Foreground(ColorOrange)
	default:
		return base.Foreground(ColorGray)
	}
}
