// Package source defines how mail enters the triage pipeline.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mail-triage/internal/model"
)

// AuthError indicates that authentication has failed or expired for a
// mailbox. Polling stops retrying until the credentials are fixed.
type AuthError struct {
	Mailbox string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Mailbox, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Cursor marks how far a mailbox has been read. LastUID is only
// meaningful together with the UIDVALIDITY it was recorded under.
type Cursor struct {
	UIDValidity uint32
	LastUID     uint32
}

// Batch is the result of one fetch.
type Batch struct {
	// Cursor is where the next fetch should resume.
	Cursor Cursor

	// Emails are ordered by ascending UID.
	Emails []model.Email
}

// MailSource retrieves new mail from the shared mailbox.
type MailSource interface {
	// Mailbox names the folder being read, for logs and cursor storage.
	Mailbox() string

	// ValidateConnection verifies credentials and connectivity.
	// Returns a human-readable status message on success.
	ValidateConnection(ctx context.Context) (string, error)

	// FetchSince returns up to limit messages newer than cursor. When the
	// mailbox's UIDVALIDITY no longer matches, the cursor is discarded and
	// reading restarts from the source's lookback window.
	FetchSince(ctx context.Context, cursor Cursor, limit int) (Batch, error)
}
