// Package jobs hands approved notifications to an external job runner and
// collects its results.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mail-triage/internal/model"
)

// ErrRunnerUnavailable is returned when a request could not be handed to
// the runner at all.
var ErrRunnerUnavailable = errors.New("job runner unavailable")

// Request describes the work an operator approved.
type Request struct {
	JobID          string                 `json:"job_id"`
	NotificationID string                 `json:"notification_id"`
	Kind           model.NotificationKind `json:"kind"`
	Operator       string                 `json:"operator"`
	Subject        string                 `json:"subject"`
	Sender         string                 `json:"sender"`
	Fields         model.Fields           `json:"fields"`
	RequestedAt    time.Time              `json:"requested_at"`
}

// Result is reported by the runner once a job finishes.
type Result struct {
	JobID          string `json:"job_id"`
	NotificationID string `json:"notification_id"`
	Success        bool   `json:"success"`
	Details        string `json:"details"`
}

// Runner executes jobs out of process. Submit must return once the request
// is accepted; the outcome arrives later as a Result, or never.
type Runner interface {
	Submit(ctx context.Context, req Request) error
	Cancel(ctx context.Context, jobID string) error
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// NewRequest builds the request for an approved notification.
func NewRequest(n model.Notification, jobID, operator string, at time.Time) Request {
	return Request{
		JobID:          jobID,
		NotificationID: n.ID,
		Kind:           n.Kind,
		Operator:       operator,
		Subject:        n.Subject,
		Sender:         n.Sender,
		Fields:         n.Fields,
		RequestedAt:    at,
	}
}
