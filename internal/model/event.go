package model

import "time"

// EventType names an audited change to a notification.
type EventType string

const (
	EventCreated        EventType = "created"
	EventMerged         EventType = "merged"
	EventLateEmail      EventType = "late_email"
	EventApproved       EventType = "approved"
	EventDismissed      EventType = "dismissed"
	EventCompleted      EventType = "completed"
	EventJobFailed      EventType = "job_failed"
	EventJobTimeout     EventType = "job_timeout"
	EventEdited         EventType = "edited"
	EventReset          EventType = "reset"
	EventReopened       EventType = "reopened"
	EventClaimed        EventType = "claimed"
	EventClaimConflict  EventType = "claim_conflict"
	EventReleased       EventType = "released"
	EventPriorityAssist EventType = "priority_assist"
	EventArchived       EventType = "archived"
)

// AuditEvent is one entry of a notification's history.
type AuditEvent struct {
	ID             int64     `json:"id" db:"id"`
	NotificationID string    `json:"notification_id" db:"notification_id"`
	Type           EventType `json:"type" db:"type"`
	Operator       string    `json:"operator" db:"operator"`
	Detail         string    `json:"detail" db:"detail"`
	At             time.Time `json:"at" db:"at"`
}
