package model

import (
	"fmt"
	"time"
)

// NotificationKind identifies what a notification asks the operator to do.
type NotificationKind string

const (
	KindNewWorkItem  NotificationKind = "new_work_item"
	KindFileDelivery NotificationKind = "file_delivery"
	KindError        NotificationKind = "error"
	KindInfo         NotificationKind = "info"
)

// Valid reports whether k is one of the known kinds.
func (k NotificationKind) Valid() bool {
	switch k {
	case KindNewWorkItem, KindFileDelivery, KindError, KindInfo:
		return true
	default:
		return false
	}
}

// Actionable reports whether notifications of this kind can be claimed,
// edited and approved. Error and Info notifications can only be dismissed.
func (k NotificationKind) Actionable() bool {
	switch k {
	case KindNewWorkItem, KindFileDelivery:
		return true
	case KindError, KindInfo:
		return false
	default:
		return false
	}
}

// Label returns the short human-readable name used in the UI.
func (k NotificationKind) Label() string {
	switch k {
	case KindNewWorkItem:
		return "New Job"
	case KindFileDelivery:
		return "Delivery"
	case KindError:
		return "Error"
	case KindInfo:
		return "Info"
	default:
		return string(k)
	}
}

// NotificationStatus is the lifecycle state of a notification.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusApproved  NotificationStatus = "approved"
	StatusDismissed NotificationStatus = "dismissed"
	StatusCompleted NotificationStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s NotificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDismissed, StatusCompleted:
		return true
	default:
		return false
	}
}

// Resolved reports whether an operator has acted on the notification.
func (s NotificationStatus) Resolved() bool {
	return s != StatusPending
}

// Claim holds the local belief about who is handling a notification.
// The fields are only ever set or cleared together.
type Claim struct {
	IsGrabbed bool       `json:"is_grabbed"`
	GrabbedBy string     `json:"grabbed_by,omitempty"`
	GrabbedAt *time.Time `json:"grabbed_at,omitempty"`
}

// GrabbedBy returns a claim held by owner since at.
func GrabbedBy(owner string, at time.Time) Claim {
	at = at.UTC()
	return Claim{IsGrabbed: true, GrabbedBy: owner, GrabbedAt: &at}
}

// HeldBy reports whether the claim is held by operator.
func (c Claim) HeldBy(operator string) bool {
	return c.IsGrabbed && c.GrabbedBy == operator
}

// HeldByOther reports whether someone other than operator holds the claim.
func (c Claim) HeldByOther(operator string) bool {
	return c.IsGrabbed && c.GrabbedBy != operator
}

// Notification is a single actionable (or informational) item derived
// from one or more classified emails.
type Notification struct {
	// ID is the process-local unique identifier.
	ID string `json:"id"`

	// ThreadID is the mail thread this notification tracks. Empty means
	// the notification never merges with later mail.
	ThreadID string `json:"thread_id"`

	// SourceKey is the stable identity of the first email, used as the
	// shared claim key when there is no thread.
	SourceKey string `json:"source_key"`

	Kind   NotificationKind   `json:"kind"`
	Status NotificationStatus `json:"status"`

	// NeedsReview is set when the classifier confidence was below the
	// review threshold at creation time.
	NeedsReview bool    `json:"needs_review"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`

	Subject      string   `json:"subject"`
	Sender       string   `json:"sender"`
	Recipients   []string `json:"recipients"`
	BodySnapshot string   `json:"body_snapshot"`
	EmailCount   int      `json:"email_count"`

	// Fields are the operator-visible business fields; Original keeps the
	// classifier's values and Edited records which fields a human changed.
	Fields   Fields   `json:"fields"`
	Original Fields   `json:"original"`
	Edited   FieldSet `json:"edited"`

	Claim            Claim `json:"claim"`
	IsPriorityAssist bool  `json:"is_priority_assist"`

	// RelatedID points at another notification (late-email Info items).
	RelatedID string `json:"related_id,omitempty"`

	LastError   string     `json:"last_error,omitempty"`
	JobID       string     `json:"job_id,omitempty"`
	JobDeadline *time.Time `json:"job_deadline,omitempty"`

	ArchiveDueAt *time.Time `json:"archive_due_at,omitempty"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the notification has not been archived yet.
func (n *Notification) Active() bool {
	return n.ArchivedAt == nil
}

// ClaimKey returns the key under which this notification is claimed in
// the shared directory. Every client derives the same key for the same
// mail, so it cannot be the local ID unless nothing else is known.
func (n *Notification) ClaimKey() string {
	switch {
	case n.ThreadID != "":
		return "thread:" + n.ThreadID
	case n.SourceKey != "":
		return "mail:" + n.SourceKey
	default:
		return "local:" + n.ID
	}
}

// Title returns the line shown for the notification in lists.
func (n *Notification) Title() string {
	if n.Fields.JobName != "" {
		return n.Fields.JobName
	}
	if n.Subject != "" {
		return n.Subject
	}
	if n.Fields.Message != "" {
		return n.Fields.Message
	}
	return fmt.Sprintf("(%s)", n.Kind.Label())
}

// Clone returns a deep copy that can be mutated without affecting n.
func (n Notification) Clone() Notification {
	c := n
	if n.Recipients != nil {
		c.Recipients = append([]string(nil), n.Recipients...)
	}
	c.Claim.GrabbedAt = cloneTime(n.Claim.GrabbedAt)
	c.JobDeadline = cloneTime(n.JobDeadline)
	c.ArchiveDueAt = cloneTime(n.ArchiveDueAt)
	c.ArchivedAt = cloneTime(n.ArchivedAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to the UTC form of t.
func TimePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
