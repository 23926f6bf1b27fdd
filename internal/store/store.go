package store

import (
	"context"
	"errors"

	"github.com/nhle/mail-triage/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for notifications, their audit
// history and the mailbox polling cursor.
type Store interface {
	// === Notifications ===

	SaveNotification(ctx context.Context, n model.Notification, events ...model.AuditEvent) error
	LoadNotifications(ctx context.Context) ([]model.Notification, error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)

	// === Audit trail ===

	ListEvents(ctx context.Context, notificationID string) ([]model.AuditEvent, error)

	// === Mailbox cursor ===

	LoadCursor(ctx context.Context, mailbox string) (uidValidity, lastUID uint32, err error)
	SaveCursor(ctx context.Context, mailbox string, uidValidity, lastUID uint32) error

	Close() error
}
