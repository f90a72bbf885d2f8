package sentinel

import "errors"

// Sentinel errors for store-level facts. Stores return these (optionally
// wrapped) and services translate them into domain errors carrying enough
// structure for user-facing messages.
//
// These describe the state of a resource, not the validity of input:
// - ErrNotFound: entity does not exist in the store
// - ErrConflict: unique constraint hit (duplicate key, concurrent insert)
// - ErrInvalidState: entity exists but is in the wrong status for the operation
// - ErrUnavailable: backing resource temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
