// Package gate decides whether a classified email becomes a notification
// and whether that notification needs human review.
package gate

import (
	"fmt"

	"github.com/nhle/mail-triage/internal/model"
)

// DefaultReviewThreshold is the confidence below which notifications are
// flagged for review.
const DefaultReviewThreshold = 0.70

// Policy holds the gate configuration.
type Policy struct {
	ReviewThreshold float64
}

// DefaultPolicy returns the policy with DefaultReviewThreshold.
func DefaultPolicy() Policy {
	return Policy{ReviewThreshold: DefaultReviewThreshold}
}

// NewPolicy returns a policy with the given threshold, which must lie
// within [0,1].
func NewPolicy(threshold float64) (Policy, error) {
	if threshold < 0 || threshold > 1 {
		return Policy{}, fmt.Errorf("review threshold %v out of range [0,1]", threshold)
	}
	return Policy{ReviewThreshold: threshold}, nil
}

// Decision is the outcome of evaluating one classification.
type Decision struct {
	Create      bool
	NeedsReview bool
}

// Evaluate applies the policy to r. A result is created for every
// category that maps to a notification kind, regardless of confidence;
// confidence only decides the review flag, and a confidence equal to the
// threshold does not need review. None and unknown categories are never
// created.
func Evaluate(r model.ClassificationResult, p Policy) Decision {
	_, actionable := r.Category.Kind()
	return Decision{
		Create:      actionable,
		NeedsReview: r.Confidence < p.ReviewThreshold,
	}
}
