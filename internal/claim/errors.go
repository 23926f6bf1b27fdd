package claim

import "errors"

// Sentinel errors returned by coordinator operations.
var (
	// ErrNotOwner is returned when an operator releases a claim held by
	// someone else.
	ErrNotOwner = errors.New("operator does not own this claim")

	// ErrNotClaimed is returned when releasing a key with no record.
	ErrNotClaimed = errors.New("key is not claimed")

	// ErrStoreUnavailable wraps any failure to read or write the shared
	// directory. Claims fail closed when it occurs.
	ErrStoreUnavailable = errors.New("claim store unavailable")
)
