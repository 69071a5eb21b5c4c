package servicemanager

import (
	"errors"
	"fmt"
)

// ErrorCode classifies service manager errors.
//
// These are domain categories: callers branch on the code, not on the
// wrapped cause.
type ErrorCode int

const (
	// ErrNotFound indicates a missing record or file.
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExist indicates a duplicate install attempt.
	ErrAlreadyExist

	// ErrNoMemory indicates a fixed-capacity budget is exhausted.
	ErrNoMemory

	// ErrInvalidChecksum indicates a manifest digest mismatch.
	ErrInvalidChecksum

	// ErrFailed indicates a generic I/O or collaborator failure.
	ErrFailed

	// ErrNotSupported indicates an unsupported operation.
	ErrNotSupported
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrAlreadyExist:
		return "already exist"
	case ErrNoMemory:
		return "no memory"
	case ErrInvalidChecksum:
		return "invalid checksum"
	case ErrFailed:
		return "failed"
	case ErrNotSupported:
		return "not supported"
	default:
		return "unknown"
	}
}

// Error is a coded service manager error, optionally wrapping a cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Code.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a coded error with a message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a coded error around a cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err or any error it wraps.
// Errors without a code classify as ErrFailed.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrFailed
}
