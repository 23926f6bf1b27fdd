package notiflist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/theme"
)

// Item wraps a notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title() }

// Title returns the notification title for the list.
func (i Item) Title() string { return i.Notification.Title() }

// Description returns a short summary line for the list.
func (i Item) Description() string {
	n := i.Notification
	parts := []string{n.Kind.Label(), string(n.Status), n.Sender, relativeTime(n.UpdatedAt)}
	return strings.Join(parts, " | ")
}

// Delegate implements list.ItemDelegate for notifications.
type Delegate struct {
	// Operator is the local operator; their own claims render as "me".
	Operator string
}

// Height returns the number of lines each item takes.
func (d Delegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d Delegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d Delegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification line.
func (d Delegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	fmt.Fprint(w, d.line(it.Notification, index == m.Index()))
}

func (d Delegate) line(n model.Notification, selected bool) string {
	var b strings.Builder

	b.WriteString(theme.KindStyle(n.Kind).Render(kindBadge(n.Kind)))
	b.WriteString(" ")
	b.WriteString(theme.StatusStyle(n.Status).Render(string(n.Status)))
	b.WriteString(" ")

	if n.IsPriorityAssist {
		b.WriteString(theme.AssistBadgeStyle.Render("ASSIST"))
		b.WriteString(" ")
	}
	if n.NeedsReview {
		b.WriteString(theme.ReviewBadgeStyle.Render("?"))
		b.WriteString(" ")
	}

	b.WriteString(n.Title())

	if n.Claim.IsGrabbed {
		owner := n.Claim.GrabbedBy
		if owner == d.Operator {
			owner = "me"
		}
		b.WriteString(theme.ClaimStyle.Render(" @" + owner))
	}
	if n.EmailCount > 1 {
		b.WriteString(lipgloss.NewStyle().Foreground(theme.ColorGray).Render(fmt.Sprintf(" (%d)", n.EmailCount)))
	}

	b.WriteString("  ")
	b.WriteString(lipgloss.NewStyle().Foreground(theme.ColorGray).Render(relativeTime(n.UpdatedAt)))

	line := b.String()
	if finished(n) {
		line = theme.DimmedStyle.Render(line)
	}
	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

func kindBadge(k model.NotificationKind) string {
	switch k {
	case model.KindNewWorkItem:
		return "NEW"
	case model.KindFileDelivery:
		return "DLV"
	case model.KindError:
		return "ERR"
	case model.KindInfo:
		return "INF"
	default:
		return "???"
	}
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
