package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mail-triage/internal/claim"
	"github.com/nhle/mail-triage/internal/keys"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/notify"
	appsync "github.com/nhle/mail-triage/internal/sync"
	"github.com/nhle/mail-triage/internal/ui"
	"github.com/nhle/mail-triage/internal/ui/command"
	"github.com/nhle/mail-triage/internal/ui/detail"
	"github.com/nhle/mail-triage/internal/ui/editform"
	helpview "github.com/nhle/mail-triage/internal/ui/help"
	"github.com/nhle/mail-triage/internal/ui/notiflist"
)

// Triage is the part of triage.Service the UI drives.
type Triage interface {
	Operator() string
	List(f notify.Filter) []model.Notification
	Get(id string) (model.Notification, error)
	History(ctx context.Context, id string) ([]model.AuditEvent, error)
	Claim(ctx context.Context, id string) (model.Notification, claim.Outcome, error)
	Release(ctx context.Context, id string) (model.Notification, error)
	Approve(ctx context.Context, id string) (model.Notification, error)
	Dismiss(ctx context.Context, id string) (model.Notification, error)
	Edit(ctx context.Context, id string, field model.Field, value string) (model.Notification, error)
	Reset(ctx context.Context, id string) (model.Notification, error)
	Reopen(ctx context.Context, id, reason string) (model.Notification, error)
	ResolveConflict(ctx context.Context, id, winner string) (model.Notification, error)
	Claims(ctx context.Context) ([]model.ClaimRecord, error)
	Subscribe() (<-chan notify.Change, func())
}

// Poller is the mailbox poller as seen by the UI.
type Poller interface {
	Start() tea.Cmd
	Stop()
	Refresh() tea.Cmd
	Status() appsync.SyncStatus
	WaitForNextResult() tea.Cmd
}

// changeMsg carries one store change to the UI.
type changeMsg notify.Change

// actionDoneMsg reports the outcome of an operator action.
type actionDoneMsg struct {
	action detail.Action
	note   string
	err    error
}

// noticeMsg sets the status bar text.
type noticeMsg string

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewHelp
	ViewCommand
	ViewForm
)

// Model is the root Bubble Tea model that routes between views and turns
// key presses into service calls.
type Model struct {
	ctx          context.Context
	svc          Triage
	poller       Poller
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	list         notiflist.Model
	detail       detail.Model
	helpView     helpview.Model
	commandView  command.Model
	form         editform.Model
	changes      <-chan notify.Change
	unsubscribe  func()
	ready        bool
	notice       string
	errMsg       string
	authError    string
}

// New creates the root model. poller may be nil when no mailbox is
// configured. info is shown in the help view.
func New(ctx context.Context, svc Triage, poller Poller, info [][2]string) Model {
	k := keys.DefaultKeyMap()
	changes, unsubscribe := svc.Subscribe()
	op := svc.Operator()

	return Model{
		ctx:         ctx,
		svc:         svc,
		poller:      poller,
		currentView: ViewList,
		keys:        k,
		list:        notiflist.New(svc, k, op, 80, 24),
		detail:      detail.New(k, op, 80, 24),
		helpView:    helpview.New(k, info, 80, 24),
		commandView: command.New(80, 24),
		form:        editform.New(80, 24),
		changes:     changes,
		unsubscribe: unsubscribe,
	}
}

// Init loads the list, starts polling and listens for store changes.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.list.Init(), m.waitForChange()}
	if m.poller != nil {
		cmds = append(cmds, m.poller.Start())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := msg.Width, m.layout.ContentHeight()
		m.list.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		m.form.SetSize(w, h)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case changeMsg:
		cmds := []tea.Cmd{m.list.Load(), m.waitForChange()}
		if m.currentView == ViewDetail && m.detail.ID() == msg.Notification.ID {
			cmds = append(cmds, m.loadDetail(msg.Notification.ID))
		}
		return m, tea.Batch(cmds...)

	case appsync.SyncResultMsg:
		if msg.AuthError != nil {
			m.authError = msg.AuthError.Message
		} else if msg.Error == nil {
			m.authError = ""
		}
		if msg.Created+msg.Merged+msg.Late+msg.Failed > 0 {
			m.notice = fmt.Sprintf("mail: %d new, %d merged, %d late, %d failed", msg.Created, msg.Merged, msg.Late, msg.Failed)
		}
		return m, tea.Batch(m.list.Load(), m.poller.WaitForNextResult())

	case actionDoneMsg:
		if msg.err != nil {
			m.errMsg = describeError(msg.action, msg.err)
			m.notice = ""
		} else {
			m.errMsg = ""
			m.notice = msg.note
		}
		return m, m.list.Load()

	case noticeMsg:
		m.errMsg = ""
		m.notice = string(msg)
		return m, nil

	case notiflist.SelectedMsg:
		m.previousView = m.currentView
		m.currentView = ViewDetail
		return m, m.loadDetail(msg.ID)

	case detail.LoadedMsg:
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case detail.ActionMsg:
		return m.startAction(msg.Action, msg.ID)

	case editform.SubmittedMsg:
		m.currentView = m.previousView
		return m, m.applyEdits(msg)

	case editform.PromptMsg:
		m.currentView = m.previousView
		return m, m.applyPrompt(msg)

	case editform.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m.executeCommand(msg)

	case command.ErrorMsg:
		m.currentView = m.previousView
		m.errMsg = msg.Err.Error()
		return m, nil

	case tea.KeyMsg:
		if m.currentView == ViewForm {
			break
		}
		m.errMsg = ""

		switch msg.String() {
		case "ctrl+c":
			return m.quit()

		case "q":
			if m.currentView == ViewList && !m.list.Searching() {
				return m.quit()
			}

		case "?":
			if m.currentView == ViewCommand || m.list.Searching() {
				break
			}
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case ":":
			if m.list.Searching() {
				break
			}
			if m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()

		case "esc":
			if m.currentView == ViewHelp || m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}

		case "r":
			if m.currentView == ViewList && !m.list.Searching() && m.poller != nil {
				m.notice = "polling mailbox..."
				return m, m.poller.Refresh()
			}
		}

		if m.currentView == ViewList && !m.list.Searching() {
			if action, ok := detail.ActionFor(m.keys, msg); ok {
				n, ok := m.list.Selected()
				if !ok {
					return m, nil
				}
				return m.startAction(action, n.ID)
			}
		}
	}

	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewForm:
		m.form, cmd = m.form.Update(msg)
	}

	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.poller != nil {
		m.poller.Stop()
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return m, tea.Quit
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "Mail Triage · " + m.svc.Operator()
	header := m.layout.RenderHeader(title, m.syncStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.statusError())
	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.list.View()
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewForm:
		return m.form.View()
	default:
		return ""
	}
}

func (m Model) statusError() string {
	if m.errMsg != "" {
		return m.errMsg
	}
	if m.authError != "" && m.currentView == ViewList {
		return m.authError
	}
	return ""
}

// syncStatus returns a short string describing the mailbox poll state.
func (m Model) syncStatus() string {
	if m.poller == nil {
		return "no mailbox"
	}
	s := m.poller.Status()
	switch s.State {
	case appsync.SyncRunning:
		return "polling " + s.Mailbox
	case appsync.SyncError:
		return "⚠ " + s.Mailbox + " unreachable"
	default:
		if s.LastSync.IsZero() {
			return s.Mailbox
		}
		return s.Mailbox + " · " + s.LastSync.Local().Format("15:04")
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	case ViewDetail:
		return "esc back | g grab | u release | a approve | x dismiss | e edit | R reset | o reopen | ! resolve"
	case ViewForm:
		return "enter submit | esc cancel"
	default:
		if m.notice != "" {
			return m.notice
		}
		return "q quit | ? help | / search | g grab | a approve | x dismiss | 1 resolved | 2 mine"
	}
}

// waitForChange returns a command that delivers the next store change.
func (m Model) waitForChange() tea.Cmd {
	ch := m.changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return changeMsg(c)
	}
}

// loadDetail reads a notification and its audit trail.
func (m Model) loadDetail(id string) tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		n, err := svc.Get(id)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		events, err := svc.History(ctx, id)
		if err != nil {
			return actionDoneMsg{err: fmt.Errorf("loading history: %w", err)}
		}
		return detail.LoadedMsg{Notification: n, Events: events}
	}
}

// startAction runs an action, opening a form first when it needs input.
func (m Model) startAction(action detail.Action, id string) (tea.Model, tea.Cmd) {
	switch action {
	case detail.ActionEdit:
		n, err := m.svc.Get(id)
		if err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		if !notify.Can(n, notify.EventEdit) {
			m.errMsg = fmt.Sprintf("cannot edit a %s %s notification", n.Status, n.Kind.Label())
			return m, nil
		}
		m.previousView = m.currentView
		m.currentView = ViewForm
		return m, m.form.StartEdit(n)

	case detail.ActionReopen:
		m.previousView = m.currentView
		m.currentView = ViewForm
		return m, m.form.StartPrompt(id, string(detail.ActionReopen), "Reason for reopening", "optional", false)

	case detail.ActionResolve:
		m.previousView = m.currentView
		m.currentView = ViewForm
		return m, m.form.StartPrompt(id, string(detail.ActionResolve), "Who handles it?", m.svc.Operator(), false)
	}
	return m, m.run(action, id)
}

// run performs a one-step action in the background.
func (m Model) run(action detail.Action, id string) tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		var (
			n   model.Notification
			err error
		)
		switch action {
		case detail.ActionClaim:
			var out claim.Outcome
			n, out, err = svc.Claim(ctx, id)
			if err == nil {
				return actionDoneMsg{action: action, note: claimNote(n, out)}
			}
		case detail.ActionRelease:
			n, err = svc.Release(ctx, id)
		case detail.ActionApprove:
			n, err = svc.Approve(ctx, id)
		case detail.ActionDismiss:
			n, err = svc.Dismiss(ctx, id)
		case detail.ActionReset:
			n, err = svc.Reset(ctx, id)
		default:
			err = fmt.Errorf("unsupported action %q", action)
		}
		if err != nil {
			return actionDoneMsg{action: action, err: err}
		}
		return actionDoneMsg{action: action, note: fmt.Sprintf("%s: %s", action, n.Title())}
	}
}

func (m Model) applyEdits(msg editform.SubmittedMsg) tea.Cmd {
	if len(msg.Changes) == 0 {
		return func() tea.Msg { return noticeMsg("no changes") }
	}
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		fields := make([]model.Field, 0, len(msg.Changes))
		for f := range msg.Changes {
			fields = append(fields, f)
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

		for _, f := range fields {
			if _, err := svc.Edit(ctx, msg.ID, f, msg.Changes[f]); err != nil {
				return actionDoneMsg{action: detail.ActionEdit, err: err}
			}
		}
		return actionDoneMsg{action: detail.ActionEdit, note: fmt.Sprintf("edited %d field(s)", len(fields))}
	}
}

func (m Model) applyPrompt(msg editform.PromptMsg) tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		switch detail.Action(msg.Prompt) {
		case detail.ActionReopen:
			n, err := svc.Reopen(ctx, msg.ID, msg.Value)
			if err != nil {
				return actionDoneMsg{action: detail.ActionReopen, err: err}
			}
			return actionDoneMsg{action: detail.ActionReopen, note: "reopened: " + n.Title()}
		case detail.ActionResolve:
			n, err := svc.ResolveConflict(ctx, msg.ID, msg.Value)
			if err != nil {
				return actionDoneMsg{action: detail.ActionResolve, err: err}
			}
			return actionDoneMsg{action: detail.ActionResolve, note: "resolved: " + n.Claim.GrabbedBy + " handles " + n.Title()}
		default:
			return nil
		}
	}
}

// currentID returns the notification a palette command applies to.
func (m Model) currentID() (string, bool) {
	if m.currentView == ViewDetail && m.detail.ID() != "" {
		return m.detail.ID(), true
	}
	n, ok := m.list.Selected()
	return n.ID, ok
}

// executeCommand handles a parsed command from the command palette.
func (m Model) executeCommand(c command.CommandMsg) (tea.Model, tea.Cmd) {
	switch c.Name {
	case command.Quit:
		return m.quit()
	case command.Poll:
		if m.poller == nil {
			m.errMsg = "no mailbox configured"
			return m, nil
		}
		return m, m.poller.Refresh()
	case command.Claims:
		return m, m.listClaims()
	}

	id, ok := m.currentID()
	if !ok {
		m.errMsg = "no notification selected"
		return m, nil
	}

	ctx, svc := m.ctx, m.svc
	switch c.Name {
	case command.Edit:
		field, err := model.ParseField(c.Args[0])
		if err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		return m, m.applyEdits(editform.SubmittedMsg{ID: id, Changes: map[model.Field]string{field: c.Rest(1)}})
	case command.Reopen:
		return m, m.applyPrompt(editform.PromptMsg{ID: id, Prompt: string(detail.ActionReopen), Value: c.Rest(0)})
	case command.Resolve:
		return m, func() tea.Msg {
			n, err := svc.ResolveConflict(ctx, id, c.Args[0])
			if err != nil {
				return actionDoneMsg{action: detail.ActionResolve, err: err}
			}
			return actionDoneMsg{action: detail.ActionResolve, note: "resolved: " + n.Claim.GrabbedBy + " handles " + n.Title()}
		}
	}
	return m, m.run(detail.Action(c.Name), id)
}

func (m Model) listClaims() tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		recs, err := svc.Claims(ctx)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		if len(recs) == 0 {
			return noticeMsg("no shared claims")
		}
		owners := make(map[string]int)
		for _, r := range recs {
			owners[r.Owner]++
		}
		parts := make([]string, 0, len(owners))
		for o, n := range owners {
			parts = append(parts, fmt.Sprintf("%s %d", o, n))
		}
		sort.Strings(parts)
		return noticeMsg(fmt.Sprintf("%d shared claims: %s", len(recs), strings.Join(parts, ", ")))
	}
}

func claimNote(n model.Notification, out claim.Outcome) string {
	switch out.Result {
	case claim.Granted:
		if out.ForcedFrom != "" {
			return fmt.Sprintf("grabbed %s (took over stale claim from %s)", n.Title(), out.ForcedFrom)
		}
		return "grabbed " + n.Title()
	case claim.AlreadyClaimed:
		return fmt.Sprintf("%s is already handling %s", out.Owner, n.Title())
	default:
		return fmt.Sprintf("claim conflict with %s: flagged for priority assist", strings.Join(out.Contenders, ", "))
	}
}

// describeError turns service errors into status bar text.
func describeError(action detail.Action, err error) string {
	prefix := string(action)
	if prefix == "" {
		prefix = "error"
	}
	var te *notify.TransitionError
	switch {
	case errors.As(err, &te):
		return fmt.Sprintf("%s: not allowed for a %s notification", prefix, te.From)
	case errors.Is(err, claim.ErrStoreUnavailable):
		return prefix + ": shared claim folder unavailable, try again"
	case errors.Is(err, claim.ErrNotOwner):
		return prefix + ": someone else holds this claim"
	default:
		return prefix + ": " + err.Error()
	}
}
