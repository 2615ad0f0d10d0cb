// Package apperrors defines the error taxonomy shared by the sync,
// webhook and backup subsystems. Codes decide HTTP status mapping and
// whether a failure is worth retrying.
package apperrors

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

type Code string

const (
	// Structural errors, never retried automatically.
	CodeAuthentication Code = "AUTHENTICATION_ERROR"
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeIntegrity      Code = "INTEGRITY_ERROR"
	CodeNotFound       Code = "NOT_FOUND"

	// Transient errors, retried with backoff.
	CodeRateLimit         Code = "RATE_LIMIT_EXCEEDED"
	CodeCircuitOpen       Code = "CIRCUIT_OPEN"
	CodeRemoteUnavailable Code = "REMOTE_UNAVAILABLE"

	// Routed, not fatal.
	CodeConflictDetected Code = "CONFLICT_DETECTED"
	CodeRecordRestore    Code = "RECORD_RESTORE_ERROR"

	CodeInternal Code = "INTERNAL_ERROR"
)

// AppError carries a taxonomy code alongside the underlying cause.
type AppError struct {
	Code    Code
	Message string
	Err     error

	// RetryAfter is a back-off hint, set for rate-limit errors.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the taxonomy code, or CodeInternal for plain errors.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Retryable reports whether the failure is transient. Structural errors
// (bad signature, malformed payload, checksum mismatch) must never be
// retried automatically.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeRateLimit, CodeCircuitOpen, CodeRemoteUnavailable, CodeInternal:
		return true
	}
	return false
}

// RetryAfterOf returns the back-off hint attached to err, if any.
func RetryAfterOf(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// HTTPStatus maps a taxonomy code to the status controllers respond with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeAuthentication:
		return fiber.StatusUnauthorized
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeRateLimit:
		return fiber.StatusTooManyRequests
	case CodeCircuitOpen, CodeRemoteUnavailable:
		return fiber.StatusServiceUnavailable
	case CodeConflictDetected:
		return fiber.StatusConflict
	case CodeIntegrity, CodeRecordRestore:
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}
