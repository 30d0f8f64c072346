package mahjong

import (
	"errors"
	"fmt"
)

var (
	ErrSeatConflict     = errors.New("seat already occupied")
	ErrDuplicateRound   = errors.New("round already started")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidation       = errors.New("validation failed")
	ErrNoOccupants      = errors.New("no occupants seated")
	ErrStaleBonus       = errors.New("bonus was changed by someone else")
)

// ValidationError rejects malformed input before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsRecoverable reports whether the caller should reload and retry manually.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrSeatConflict) || errors.Is(err, ErrDuplicateRound) || errors.Is(err, ErrStaleBonus)
}
