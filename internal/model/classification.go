package model

import (
	"fmt"
	"time"
)

// Category is the classifier's verdict for a single email.
type Category string

const (
	CategoryNewWorkItem  Category = "new_work_item"
	CategoryFileDelivery Category = "file_delivery"
	CategoryNone         Category = "none"
)

// Kind maps an actionable category to the notification kind it creates.
// The second return value is false for CategoryNone and unknown values.
func (c Category) Kind() (NotificationKind, bool) {
	switch c {
	case CategoryNewWorkItem:
		return KindNewWorkItem, true
	case CategoryFileDelivery:
		return KindFileDelivery, true
	case CategoryNone:
		return "", false
	default:
		return "", false
	}
}

// ClassificationResult is produced once per classified email and never
// modified afterwards.
type ClassificationResult struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`

	ThreadID   string    `json:"thread_id"`
	SourceKey  string    `json:"source_key"`
	Sender     string    `json:"sender"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`

	// Extracted holds the classifier's best-effort business fields.
	Extracted Fields `json:"extracted"`
}

// Validate checks the invariants the rest of the pipeline relies on.
func (r ClassificationResult) Validate() error {
	switch r.Category {
	case CategoryNewWorkItem, CategoryFileDelivery, CategoryNone:
	default:
		return fmt.Errorf("unknown category %q", r.Category)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", r.Confidence)
	}
	return nil
}
