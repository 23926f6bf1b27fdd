package model

import "time"

// ClaimRecord is the shared ground truth for who handles a claim key.
// One record lives in the shared directory per key.
type ClaimRecord struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner"`
	ClaimedAt time.Time `json:"claimedAt"`
	Version   int64     `json:"version"`

	// Token is written by the claimant so a later read can tell its own
	// write apart from another client using the same operator name.
	Token string `json:"token,omitempty"`
}

// Stale reports whether the record is older than ttl at now.
func (r ClaimRecord) Stale(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(r.ClaimedAt) > ttl
}

// ClaimIntent announces that an operator is attempting a claim. Intents
// let racing clients detect each other even when record writes overwrite
// one another.
type ClaimIntent struct {
	Operator string    `json:"operator"`
	Token    string    `json:"token"`
	At       time.Time `json:"at"`
}
