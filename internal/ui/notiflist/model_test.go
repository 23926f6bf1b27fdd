package notiflist

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/notify"
)

type staticLister []model.Notification

func (s staticLister) List(notify.Filter) []model.Notification { return s }

func fixtures() staticLister {
	now := time.Now()
	return staticLister{
		{ID: "n1", Kind: model.KindFileDelivery, Status: model.StatusPending, Subject: "Selects for Spring", Sender: "vendor@x.test", Claim: model.GrabbedBy("alice", now), UpdatedAt: now},
		{ID: "n2", Kind: model.KindNewWorkItem, Status: model.StatusCompleted, Subject: "New spot", Fields: model.Fields{DocketNumber: "D-77"}, UpdatedAt: now},
		{ID: "n3", Kind: model.KindError, Status: model.StatusPending, Fields: model.Fields{Message: "Classification failed"}, IsPriorityAssist: true, UpdatedAt: now},
	}
}

func load(t *testing.T, m Model) Model {
	t.Helper()
	msg := m.Load()()
	m, _ = m.Update(msg)
	return m
}

func ids(m Model) []string {
	var out []string
	for _, it := range m.list.Items() {
		out = append(out, it.(Item).Notification.ID)
	}
	return out
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFilterToggles(t *testing.T) {
	m := load(t, New(fixtures(), keys.DefaultKeyMap(), "alice", 80, 20))
	assert.Equal(t, []string{"n1", "n2", "n3"}, ids(m))

	m, cmd := m.Update(keyPress("1"))
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())
	assert.Equal(t, []string{"n1", "n3"}, ids(m), "resolved hidden")

	m, cmd = m.Update(keyPress("2"))
	m, _ = m.Update(cmd())
	assert.Equal(t, []string{"n1"}, ids(m), "only mine")
}

func TestSearchMatchesDocket(t *testing.T) {
	m := load(t, New(fixtures(), keys.DefaultKeyMap(), "alice", 80, 20))

	m, _ = m.Update(keyPress("/"))
	require.True(t, m.Searching())
	for _, r := range "d-77" {
		m, _ = m.Update(keyPress(string(r)))
	}
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.False(t, m.Searching())
	m, _ = m.Update(cmd())
	assert.Equal(t, []string{"n2"}, ids(m))
}

func TestSelectEmitsID(t *testing.T) {
	m := load(t, New(fixtures(), keys.DefaultKeyMap(), "alice", 80, 20))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, SelectedMsg{ID: "n1"}, cmd())
}

func TestSelectionSurvivesReload(t *testing.T) {
	m := load(t, New(fixtures(), keys.DefaultKeyMap(), "alice", 80, 20))
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	n, ok := m.Selected()
	require.True(t, ok)
	require.Equal(t, "n2", n.ID)

	m = load(t, m)
	n, _ = m.Selected()
	assert.Equal(t, "n2", n.ID)
}

func TestLineBadges(t *testing.T) {
	d := Delegate{Operator: "alice"}
	f := fixtures()

	assert.Contains(t, d.line(f[0], false), "@me")
	assert.Contains(t, d.line(f[2], false), "ASSIST")
	assert.Contains(t, d.line(f[2], false), "ERR")
}
