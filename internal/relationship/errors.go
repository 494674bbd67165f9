package relationship

import "errors"

var (
	// ErrNotFound reports a delete or status update for a counterpart or
	// match id that has no record.
	ErrNotFound = errors.New("relationship: not found")

	// ErrInvalidTransition reports a match status change outside
	// pending→matched and pending→declined.
	ErrInvalidTransition = errors.New("relationship: invalid status transition")

	// ErrEmptyCounterpartID is returned when an operation is given a blank id.
	ErrEmptyCounterpartID = errors.New("relationship: empty counterpart id")

	// ErrInvalidPreferences is returned by SavePreferences for impossible filters.
	ErrInvalidPreferences = errors.New("relationship: invalid preferences")

	// ErrConflict is returned by UpsertMatch when the record's id already
	// belongs to another counterpart.
	ErrConflict = errors.New("relationship: match id belongs to another counterpart")
)
