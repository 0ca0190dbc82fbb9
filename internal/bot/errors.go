package bot

import (
	"errors"
	"fmt"
)

// UserError represents an error that should be shown to the user.
// The message is safe to display directly.
type UserError struct {
	Message string // User-friendly message to display
	Cause   error  // Original error for logging (optional)
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

// UserErrorf creates a new user-facing error with a formatted message.
func UserErrorf(format string, args ...any) *UserError {
	return &UserError{
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapUserError wraps an internal error with a user-friendly message.
// The cause is logged, the message is shown.
func WrapUserError(message string, cause error) *UserError {
	return &UserError{
		Message: message,
		Cause:   cause,
	}
}

// GetUserMessage extracts the user-friendly message from an error.
// Anything but a UserError gets the generic internal error message.
func GetUserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Message
	}
	return MsgInternalError
}

// GetLogError returns the error to log: the cause chain for wrapped
// UserErrors, the error itself otherwise.
func GetLogError(err error) error {
	var userErr *UserError
	if errors.As(err, &userErr) && userErr.Cause != nil {
		return userErr.Cause
	}
	return err
}

// ShouldLog returns true if the error should be logged.
// UserErrors without a cause are user mistakes and don't need logging.
func ShouldLog(err error) bool {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Cause != nil
	}
	return true
}
