// Package classify decides whether an email is actionable work.
package classify

import (
	"context"
	"errors"

	"github.com/nhle/mail-triage/internal/model"
)

var (
	// ErrTimeout is returned when the oracle did not answer in time.
	ErrTimeout = errors.New("classification timed out")

	// ErrMalformed is returned when the oracle's answer cannot be used.
	ErrMalformed = errors.New("malformed classification")
)

// Oracle classifies a single email.
type Oracle interface {
	Classify(ctx context.Context, email model.Email) (model.ClassificationResult, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, email model.Email) (model.ClassificationResult, error)

// Classify calls f.
func (f OracleFunc) Classify(ctx context.Context, email model.Email) (model.ClassificationResult, error) {
	return f(ctx, email)
}

// Reason returns a short label for err suitable for metrics and error
// notifications.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}
