package app

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/claim"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/notify"
	"github.com/nhle/mail-triage/internal/ui/command"
	"github.com/nhle/mail-triage/internal/ui/detail"
	"github.com/nhle/mail-triage/internal/ui/editform"
)

type fakeTriage struct {
	mu      sync.Mutex
	items   []model.Notification
	calls   []string
	outcome claim.Outcome
	err     error
	edits   map[model.Field]string
}

func newFake() *fakeTriage {
	now := time.Now()
	return &fakeTriage{
		items: []model.Notification{
			{ID: "n1", Kind: model.KindFileDelivery, Status: model.StatusPending, Subject: "Selects", UpdatedAt: now},
			{ID: "n2", Kind: model.KindNewWorkItem, Status: model.StatusPending, Subject: "New spot", UpdatedAt: now},
		},
		outcome: claim.Outcome{Result: claim.Granted, Owner: "alice"},
		edits:   make(map[model.Field]string),
	}
}

func (f *fakeTriage) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTriage) get(id string) (model.Notification, error) {
	for _, n := range f.items {
		if n.ID == id {
			return n, nil
		}
	}
	return model.Notification{}, notify.ErrNotFound
}

func (f *fakeTriage) Operator() string { return "alice" }
func (f *fakeTriage) List(notify.Filter) []model.Notification { return f.items }
func (f *fakeTriage) Get(id string) (model.Notification, error) { return f.get(id) }

func (f *fakeTriage) History(_ context.Context, id string) ([]model.AuditEvent, error) {
	return []model.AuditEvent{{NotificationID: id, Type: model.EventCreated}}, nil
}

func (f *fakeTriage) Claim(_ context.Context, id string) (model.Notification, claim.Outcome, error) {
	f.record("claim " + id)
	n, _ := f.get(id)
	return n, f.outcome, f.err
}

func (f *fakeTriage) action(name, id string) (model.Notification, error) {
	f.record(name + " " + id)
	if f.err != nil {
		return model.Notification{}, f.err
	}
	return f.get(id)
}

func (f *fakeTriage) Release(_ context.Context, id string) (model.Notification, error) {
	return f.action("release", id)
}
func (f *fakeTriage) Approve(_ context.Context, id string) (model.Notification, error) {
	return f.action("approve", id)
}
func (f *fakeTriage) Dismiss(_ context.Context, id string) (model.Notification, error) {
	return f.action("dismiss", id)
}
func (f *fakeTriage) Reset(_ context.Context, id string) (model.Notification, error) {
	return f.action("reset", id)
}

func (f *fakeTriage) Edit(_ context.Context, id string, field model.Field, value string) (model.Notification, error) {
	f.mu.Lock()
	f.edits[field] = value
	f.mu.Unlock()
	return f.action("edit", id)
}

func (f *fakeTriage) Reopen(_ context.Context, id, reason string) (model.Notification, error) {
	return f.action("reopen "+reason, id)
}

func (f *fakeTriage) ResolveConflict(_ context.Context, id, winner string) (model.Notification, error) {
	n, err := f.action("resolve "+winner, id)
	n.Claim = model.GrabbedBy(winner, time.Now())
	return n, err
}

func (f *fakeTriage) Claims(context.Context) ([]model.ClaimRecord, error) {
	return []model.ClaimRecord{{Key: "thread:a", Owner: "bob"}, {Key: "thread:b", Owner: "alice"}}, nil
}

func (f *fakeTriage) Subscribe() (<-chan notify.Change, func()) { return nil, func() {} }

func newModel(t *testing.T, f *fakeTriage) Model {
	t.Helper()
	m := New(context.Background(), f, nil, nil)
	next, cmd := m.Update(tea.WindowSizeMsg{Width: 120, Height: 60})
	m = next.(Model)
	_ = cmd
	return update(t, m, m.list.Load()())
}

// update sends msg and then feeds every resulting message back in.
func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	for _, out := range run(cmd) {
		m = update(t, m, out)
	}
	return m
}

// send delivers msg without running the resulting commands. Forms start
// cursor blink timers that would never settle.
func send(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestListKeyClaimsSelected(t *testing.T) {
	f := newFake()
	m := newModel(t, f)

	m = update(t, m, runes("g"))
	assert.Equal(t, []string{"claim n1"}, f.calls)
	assert.Contains(t, m.notice, "grabbed Selects")
}

func TestClaimConflictNote(t *testing.T) {
	f := newFake()
	f.outcome = claim.Outcome{Result: claim.Conflict, Contenders: []string{"bob"}}
	m := newModel(t, f)

	m = update(t, m, runes("g"))
	assert.Contains(t, m.notice, "priority assist")
}

func TestActionErrorShownInStatusBar(t *testing.T) {
	f := newFake()
	f.err = &notify.TransitionError{ID: "n1", Kind: model.KindFileDelivery, From: model.StatusDismissed, Event: notify.EventApprove}
	m := newModel(t, f)

	m = update(t, m, runes("a"))
	assert.Equal(t, "approve: not allowed for a dismissed notification", m.statusError())

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Empty(t, m.statusError(), "any key clears the error")
}

func TestOpenDetailLoadsHistory(t *testing.T) {
	f := newFake()
	m := newModel(t, f)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, ViewDetail, m.currentView)
	assert.Equal(t, "n2", m.detail.ID())
	assert.Contains(t, m.detail.View(), "History (1)")

	m = update(t, m, runes("x"))
	assert.Equal(t, []string{"dismiss n2"}, f.calls)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewList, m.currentView)
}

func TestEditFormSubmission(t *testing.T) {
	f := newFake()
	m := newModel(t, f)

	m = send(m, runes("e"))
	require.Equal(t, ViewForm, m.currentView)

	m = update(t, m, editform.SubmittedMsg{ID: "n1", Changes: map[model.Field]string{
		model.FieldDocketNumber: "D-9",
		model.FieldJobName:      "Promo",
	}})
	assert.Equal(t, ViewList, m.currentView)
	assert.Equal(t, map[model.Field]string{model.FieldDocketNumber: "D-9", model.FieldJobName: "Promo"}, f.edits)
	assert.Equal(t, "edited 2 field(s)", m.notice)
}

func TestEditRefusedForResolved(t *testing.T) {
	f := newFake()
	f.items[0].Status = model.StatusCompleted
	m := newModel(t, f)

	m = update(t, m, runes("e"))
	assert.Equal(t, ViewList, m.currentView)
	assert.Contains(t, m.statusError(), "cannot edit")
}

func TestPaletteCommands(t *testing.T) {
	f := newFake()
	m := newModel(t, f)

	m = update(t, m, command.CommandMsg{Name: command.Resolve, Args: []string{"bob"}})
	assert.Equal(t, []string{"resolve bob n1"}, f.calls)
	assert.Contains(t, m.notice, "bob handles")

	m = update(t, m, command.CommandMsg{Name: command.Claims})
	assert.Equal(t, "2 shared claims: alice 1, bob 1", m.notice)

	m = update(t, m, command.CommandMsg{Name: command.Edit, Args: []string{"bogus", "x"}})
	assert.Contains(t, m.statusError(), "unknown field")

	m = update(t, m, command.ErrorMsg{Err: assert.AnError})
	assert.Equal(t, assert.AnError.Error(), m.statusError())
}

func TestPromptReopen(t *testing.T) {
	f := newFake()
	m := newModel(t, f)

	m = send(m, detail.ActionMsg{Action: detail.ActionReopen, ID: "n1"})
	require.Equal(t, ViewForm, m.currentView)

	m = update(t, m, editform.PromptMsg{ID: "n1", Prompt: string(detail.ActionReopen), Value: "wrong job"})
	assert.Equal(t, []string{"reopen wrong job n1"}, f.calls)
	assert.Contains(t, m.notice, "reopened")
}
