package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates user input failed a business rule.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStatus indicates a forbidden document status transition.
	ErrInvalidStatus = errors.New("invalid status transition")
)

// UserSafeMessage returns a message suitable for end users. Validation and
// status errors carry their full text; anything else is masked.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrNotFound):
		return err.Error()
	default:
		return "An unexpected error occurred. Please contact an administrator."
	}
}
