// Package dedup turns a gated classification into a plan against the
// currently active notifications: create a new one, merge into the open
// one for the same thread, or report a late email on a resolved thread.
//
// The planner is pure. The notification store applies the plan while it
// holds its lock, so the lookup of the active match and the write happen
// atomically.
package dedup

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mail-triage/internal/gate"
	"github.com/nhle/mail-triage/internal/model"
)

// Action is what the store should do with a classification.
type Action int

const (
	// ActionSkip means the gate rejected the classification.
	ActionSkip Action = iota
	// ActionCreate adds a new notification.
	ActionCreate
	// ActionMerge updates the pending notification of the same thread.
	ActionMerge
	// ActionLateEmail leaves the resolved match untouched; what happens
	// instead depends on the late-email policy.
	ActionLateEmail
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionCreate:
		return "create"
	case ActionMerge:
		return "merge"
	case ActionLateEmail:
		return "late_email"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// LateEmailPolicy decides what a new email on a resolved thread does.
type LateEmailPolicy string

const (
	// LateEmailInfo creates an Info notification pointing at the match.
	LateEmailInfo LateEmailPolicy = "info"
	// LateEmailIgnore drops the email.
	LateEmailIgnore LateEmailPolicy = "ignore"
	// LateEmailReopen reopens a dismissed or completed match. Approved
	// matches still get an Info notification because their job is running.
	LateEmailReopen LateEmailPolicy = "reopen"
)

// ParseLateEmailPolicy converts a config value into a policy.
func ParseLateEmailPolicy(s string) (LateEmailPolicy, error) {
	switch p := LateEmailPolicy(s); p {
	case LateEmailInfo, LateEmailIgnore, LateEmailReopen:
		return p, nil
	case "":
		return LateEmailInfo, nil
	default:
		return "", fmt.Errorf("unknown late email policy %q", s)
	}
}

// Plan is the planner's instruction to the store.
type Plan struct {
	Action Action

	// Notification is the notification to write, if any: the new one for
	// ActionCreate, the updated match for ActionMerge and for a reopen,
	// and the Info notification for a late email under LateEmailInfo.
	Notification *model.Notification

	// Match is the active notification of the same thread, if any.
	Match *model.Notification

	// Reopen asks the store to reopen Match before writing Notification.
	Reopen bool
}

// Planner builds plans. It is safe for concurrent use.
type Planner struct {
	policy LateEmailPolicy
	now    func() time.Time
	newID  func() string
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		p.now = now
	}
}

// WithIDGenerator sets the function used to mint notification IDs.
func WithIDGenerator(newID func() string) Option {
	return func(p *Planner) {
		p.newID = newID
	}
}

// NewPlanner returns a planner applying the given late-email policy.
func NewPlanner(policy LateEmailPolicy, opts ...Option) *Planner {
	if policy == "" {
		policy = LateEmailInfo
	}
	p := &Planner{
		policy: policy,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the configured late-email policy.
func (p *Planner) Policy() LateEmailPolicy {
	return p.policy
}

// Plan decides what to do with r. active is the active notification
// whose ThreadID equals r.ThreadID, or nil.
func (p *Planner) Plan(r model.ClassificationResult, d gate.Decision, active *model.Notification) Plan {
	kind, ok := r.Category.Kind()
	if !d.Create || !ok {
		return Plan{Action: ActionSkip}
	}
	if r.ThreadID == "" || active == nil || active.ThreadID != r.ThreadID || !active.Active() {
		n := p.newNotification(r, kind, d)
		return Plan{Action: ActionCreate, Notification: &n}
	}

	switch active.Status {
	case model.StatusPending:
		merged := p.merge(*active, r)
		return Plan{Action: ActionMerge, Notification: &merged, Match: active}
	case model.StatusApproved, model.StatusDismissed, model.StatusCompleted:
		return p.lateEmail(r, active)
	default:
		return p.lateEmail(r, active)
	}
}

func (p *Planner) newNotification(r model.ClassificationResult, kind model.NotificationKind, d gate.Decision) model.Notification {
	now := p.now().UTC()
	return model.Notification{
		ID:           p.newID(),
		ThreadID:     r.ThreadID,
		SourceKey:    r.SourceKey,
		Kind:         kind,
		Status:       model.StatusPending,
		NeedsReview:  d.NeedsReview,
		Confidence:   r.Confidence,
		Reasoning:    r.Reasoning,
		Subject:      r.Subject,
		Sender:       r.Sender,
		Recipients:   append([]string(nil), r.Recipients...),
		BodySnapshot: r.Body,
		EmailCount:   1,
		Fields:       r.Extracted,
		Original:     r.Extracted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// merge folds r into n. Fields an operator edited keep the operator's
// value. The original snapshot stays as captured at creation, and claim
// fields are not touched.
func (p *Planner) merge(n model.Notification, r model.ClassificationResult) model.Notification {
	m := n.Clone()
	if r.Body != "" {
		m.BodySnapshot = r.Body
	}
	if r.Subject != "" {
		m.Subject = r.Subject
	}
	m.Confidence = r.Confidence
	m.Reasoning = r.Reasoning
	m.EmailCount++

	for _, f := range model.AllFields {
		v := r.Extracted.Get(f)
		if v == "" {
			continue
		}
		if !m.Edited.Has(f) {
			_ = m.Fields.Set(f, v)
		}
	}

	m.UpdatedAt = p.now().UTC()
	return m
}

func (p *Planner) lateEmail(r model.ClassificationResult, match *model.Notification) Plan {
	switch p.policy {
	case LateEmailIgnore:
		return Plan{Action: ActionLateEmail, Match: match}
	case LateEmailReopen:
		if match.Status == model.StatusDismissed || match.Status == model.StatusCompleted {
			merged := p.merge(*match, r)
			return Plan{Action: ActionLateEmail, Notification: &merged, Match: match, Reopen: true}
		}
	}

	info := p.infoNotification(r, match)
	return Plan{Action: ActionLateEmail, Notification: &info, Match: match}
}

// infoNotification reports a late email. It carries no ThreadID so it
// never occupies the thread's active slot.
func (p *Planner) infoNotification(r model.ClassificationResult, match *model.Notification) model.Notification {
	now := p.now().UTC()
	return model.Notification{
		ID:           p.newID(),
		SourceKey:    r.SourceKey,
		Kind:         model.KindInfo,
		Status:       model.StatusPending,
		Confidence:   r.Confidence,
		Reasoning:    r.Reasoning,
		Subject:      r.Subject,
		Sender:       r.Sender,
		Recipients:   append([]string(nil), r.Recipients...),
		BodySnapshot: r.Body,
		EmailCount:   1,
		RelatedID:    match.ID,
		Fields: model.Fields{
			Message: fmt.Sprintf("New email on %s item %q", match.Status, match.Title()),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
