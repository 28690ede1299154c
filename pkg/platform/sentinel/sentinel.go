// Package sentinel holds the infrastructure errors every store, queue and KV
// backend returns. Services match them with errors.Is and translate them into
// coded errors from pkg/domain-errors; input validation never uses them.
package sentinel

import "errors"

var (
	// ErrNotFound means the row, job or key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means an insert collided with an existing primary or unique key.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState means the entity exists but cannot take the requested transition.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable means a backing service did not answer; callers may retry.
	ErrUnavailable = errors.New("unavailable")
	// ErrLocked means another worker holds the per-broker stage lock.
	ErrLocked = errors.New("locked")
)
