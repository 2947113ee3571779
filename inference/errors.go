package inference

import (
	"errors"
	"strings"
)

// ErrValidation marks every request rejected at the serving boundary.
var ErrValidation = errors.New("validation failed")

// FieldError is one problem with one request field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError rejects a single request; the service keeps serving.
type ValidationError struct {
	Missing []string
	Invalid []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required field(s): "+strings.Join(e.Missing, ", "))
	}
	for _, f := range e.Invalid {
		parts = append(parts, "invalid field "+f.Field+": "+f.Reason)
	}
	if len(parts) == 0 {
		return ErrValidation.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IsValidation reports whether err rejected a request rather than failed it.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
