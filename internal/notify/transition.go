package notify

import (
	"errors"
	"fmt"

	"github.com/nhle/mail-triage/internal/model"
)

var (
	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotFound is returned for unknown notification IDs.
	ErrNotFound = errors.New("notification not found")

	// ErrClaimedByOther is returned when an operator acts on a
	// notification another operator holds.
	ErrClaimedByOther = errors.New("notification claimed by another operator")

	// ErrThreadOccupied is returned when reopening a notification whose
	// thread already has another active notification.
	ErrThreadOccupied = errors.New("thread already has an active notification")

	// ErrStaleJob is returned for a job result that does not belong to the
	// notification's current job.
	ErrStaleJob = errors.New("job result does not match current job")

	// ErrInvalidResult is returned when a classification result cannot be
	// ingested, such as one with an unknown category.
	ErrInvalidResult = errors.New("invalid classification result")
)

// Event is a lifecycle event applied to a notification.
type Event string

const (
	EventMerge      Event = "merge"
	EventApprove    Event = "approve"
	EventDismiss    Event = "dismiss"
	EventJobSuccess Event = "job_success"
	EventJobFailure Event = "job_failure"
	EventJobTimeout Event = "job_timeout"
	EventEdit       Event = "edit"
	EventReset      Event = "reset"
	EventReopen     Event = "reopen"
	EventClaim      Event = "claim"
	EventConflict   Event = "conflict"
	EventRelease    Event = "release"
	EventArchive    Event = "archive"
)

// TransitionError describes a rejected event.
type TransitionError struct {
	ID       string
	Kind     model.NotificationKind
	From     model.NotificationStatus
	Archived bool
	Event    Event
}

func (e *TransitionError) Error() string {
	state := string(e.From)
	if e.Archived {
		state += ", archived"
	}
	return fmt.Sprintf("invalid transition: %s on %s notification %s (%s)", e.Event, e.Kind, e.ID, state)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// transitions maps each event to the statuses it may start from and the
// status it leads to.
var transitions = map[Event]map[model.NotificationStatus]model.NotificationStatus{
	EventMerge: {
		model.StatusPending: model.StatusPending,
	},
	EventApprove: {
		model.StatusPending: model.StatusApproved,
	},
	EventDismiss: {
		model.StatusPending:  model.StatusDismissed,
		model.StatusApproved: model.StatusDismissed,
	},
	EventJobSuccess: {
		model.StatusApproved: model.StatusCompleted,
	},
	EventJobFailure: {
		model.StatusApproved: model.StatusPending,
	},
	EventJobTimeout: {
		model.StatusApproved: model.StatusPending,
	},
	EventEdit: {
		model.StatusPending:  model.StatusPending,
		model.StatusApproved: model.StatusApproved,
	},
	EventReset: {
		model.StatusPending:  model.StatusPending,
		model.StatusApproved: model.StatusApproved,
	},
	EventReopen: {
		model.StatusDismissed: model.StatusPending,
		model.StatusCompleted: model.StatusPending,
	},
	EventClaim: {
		model.StatusPending:  model.StatusPending,
		model.StatusApproved: model.StatusApproved,
	},
	EventConflict: {
		model.StatusPending: model.StatusPending,
	},
	EventRelease: {
		model.StatusPending:   model.StatusPending,
		model.StatusApproved:  model.StatusApproved,
		model.StatusDismissed: model.StatusDismissed,
		model.StatusCompleted: model.StatusCompleted,
	},
	EventArchive: {
		model.StatusDismissed: model.StatusDismissed,
		model.StatusCompleted: model.StatusCompleted,
	},
}

// allowedForKind reports whether ev applies to notifications of kind k.
// Error and Info notifications carry no work, so they can only be
// dismissed, reopened, released and archived.
func allowedForKind(k model.NotificationKind, ev Event) bool {
	switch k {
	case model.KindNewWorkItem, model.KindFileDelivery:
		return true
	case model.KindError, model.KindInfo:
		switch ev {
		case EventDismiss, EventReopen, EventRelease, EventArchive:
			return true
		default:
			return false
		}
	default:
		return false
	}
}

// next returns the status n moves to on ev, or a *TransitionError.
func next(n *model.Notification, ev Event) (model.NotificationStatus, error) {
	reject := &TransitionError{
		ID:       n.ID,
		Kind:     n.Kind,
		From:     n.Status,
		Archived: !n.Active(),
		Event:    ev,
	}

	if !allowedForKind(n.Kind, ev) {
		return "", reject
	}
	// Archived notifications only come back through an explicit reopen.
	if !n.Active() && ev != EventReopen {
		return "", reject
	}
	to, ok := transitions[ev][n.Status]
	if !ok {
		return "", reject
	}
	return to, nil
}

// Can reports whether ev is currently valid for n.
func Can(n model.Notification, ev Event) bool {
	_, err := next(&n, ev)
	return err == nil
}

// Check returns the *TransitionError that ev would fail with on n, or nil.
func Check(n model.Notification, ev Event) error {
	_, err := next(&n, ev)
	return err
}
