package domain

import (
	"errors"
	"strings"
)

var (
	// ErrNoAttemptsRemaining is returned when a student has used the whole attempt quota.
	ErrNoAttemptsRemaining = errors.New("no attempts remaining")
	// ErrLessonLocked is returned when a student tries to start an activity in a locked lesson.
	ErrLessonLocked = errors.New("lesson is locked")
	// ErrConflict indicates a concurrent write won the race for the same record.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrUnavailable indicates the backing store is temporarily unreachable.
	ErrUnavailable = errors.New("store temporarily unavailable")
	// ErrForbidden is returned when the caller may not act on the requested record.
	ErrForbidden = errors.New("forbidden")
)

// FieldError describes a problem with a single input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned before any store access when input is malformed.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid input"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
