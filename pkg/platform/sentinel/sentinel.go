// Package sentinel holds the storage-level facts stores report. Services turn
// them into domain errors; handlers never see them directly.
package sentinel

import "errors"

var (
	// ErrNotFound: no such row, or not visible to the caller (wrong owner or
	// lock holder).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyUsed: a unique slot is taken, such as an active application,
	// a held lock or an outstanding OTP.
	ErrAlreadyUsed = errors.New("already used")
	// ErrInvalidState: the row exists but its status forbids the change.
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
)
