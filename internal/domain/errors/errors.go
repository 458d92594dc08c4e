// Package errors provides domain-specific errors for the focussync application.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common domain error conditions.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrNoteNotFound         = errors.New("note not found")
	ErrImageNotFound        = errors.New("image not found")
	ErrNoActiveSession      = errors.New("no active session")
	ErrSyncInProgress       = errors.New("sync pass already in progress")
	ErrRemoteUnavailable    = errors.New("remote store unavailable")
	ErrStaleWrite           = errors.New("remote record is newer")
	ErrObjectNotFound       = errors.New("remote object not found")
	ErrCheckpointRegression = errors.New("remote checkpoint moved backwards")
)

// ErrorCode categorizes errors for handling and reporting.
type ErrorCode string

const (
	// CodeValidation marks input rejected before any write.
	CodeValidation ErrorCode = "VALIDATION"
	CodeNotFound   ErrorCode = "NOT_FOUND"
	// CodeRepository marks a failed local read or write.
	CodeRepository ErrorCode = "REPOSITORY"
	// CodeExternalService marks a failed remote call. Sync rounds retry these.
	CodeExternalService ErrorCode = "EXTERNAL_SERVICE"
	// CodeSync marks a broken sync invariant. The round is aborted and the queue kept.
	CodeSync          ErrorCode = "SYNC"
	CodeConfiguration ErrorCode = "CONFIG"
)

// FocusError wraps errors with additional context for debugging and handling.
type FocusError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error returns a formatted error string including the code, message, and cause if present.
func (e *FocusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for use with errors.Is and errors.As.
func (e *FocusError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FocusError with the given code, message, and optional cause.
func NewError(code ErrorCode, message string, cause error) *FocusError {
	return &FocusError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error's context and returns the error.
func WithContext(err *FocusError, key string, value interface{}) *FocusError {
	if err.Context == nil {
		err.Context = make(map[string]interface{})
	}
	err.Context[key] = value
	return err
}

// Validation is shorthand for NewError(CodeValidation, message, nil).
func Validation(message string) *FocusError {
	return NewError(CodeValidation, message, nil)
}

// CodeOf returns the code of the first FocusError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var fe *FocusError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var fe *FocusError
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Cause
	}
	return false
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return HasCode(err, CodeValidation)
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrNoteNotFound) ||
		errors.Is(err, ErrImageNotFound)
}

// Is reports whether err matches target using errors.Is semantics.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target and sets target to that error value.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
