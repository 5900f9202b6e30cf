package errors

import (
	stderrors "errors"
	"fmt"
)

// Is and As re-export the standard helpers so call sites only import this
// package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match two AppErrors by code, so callers can compare
// against a sentinel without caring about the formatted message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrForbidden
	ErrInternal

	// Shipment lifecycle codes
	ErrInvalidTransition
	ErrMissingEvidence
	ErrCodConfirmationRequired
	ErrInvalidFailureReason
	ErrCannotReject
	ErrPreconditionFailed

	// Notification delivery codes
	ErrProvider
)

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: message,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// InvalidTransition names the offending (from, to) pair so the caller can
// build a precise user-facing message.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("transition from %q to %q is not allowed", from, to),
	}
}

func MissingEvidence(message string) *AppError {
	return &AppError{
		Code:    ErrMissingEvidence,
		Message: message,
	}
}

func CodConfirmationRequired() *AppError {
	return &AppError{
		Code:    ErrCodConfirmationRequired,
		Message: "cash-on-delivery collection must be confirmed before completing delivery",
	}
}

func InvalidFailureReason(reason string) *AppError {
	return &AppError{
		Code:    ErrInvalidFailureReason,
		Message: fmt.Sprintf("%q is not a recognized failure reason", reason),
	}
}

func CannotReject(status string) *AppError {
	return &AppError{
		Code:    ErrCannotReject,
		Message: fmt.Sprintf("shipment can only be rejected before pickup, current status is %q", status),
	}
}

// PreconditionFailed marks a lost conditional-write race. Callers should
// re-read and retry rather than surface it as a hard failure.
func PreconditionFailed(message string) *AppError {
	return &AppError{
		Code:    ErrPreconditionFailed,
		Message: message,
	}
}

func Provider(token string, err error) *AppError {
	return &AppError{
		Code:    ErrProvider,
		Message: fmt.Sprintf("push delivery to token %s failed", token),
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from err, or ErrInternal when err is not an
// AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
