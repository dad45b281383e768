package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes used across the service. Transient failures are retried at the
// call site and never surfaced as record-level failures; permission and
// invariant failures are surfaced to operators.
const (
	CodeTransient  = "TRANSIENT"
	CodePermission = "PERMISSION_DENIED"
	CodeInvariant  = "INVARIANT_VIOLATION"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeValidation = "VALIDATION_FAILED"
	CodeAuth       = "UNAUTHORIZED"
	CodeInternal   = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewTransient wraps a retryable platform failure (rate limit, network blip).
func NewTransient(op string, err error) error {
	return &DomainError{
		Code:       CodeTransient,
		Message:    fmt.Sprintf("transient platform failure during %s", op),
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

// NewPermission marks a role-hierarchy or missing-permission failure. The
// affected record is held in place for manual intervention.
func NewPermission(op string, err error) error {
	return &DomainError{
		Code:       CodePermission,
		Message:    fmt.Sprintf("platform denied %s", op),
		HTTPStatus: http.StatusForbidden,
		Err:        err,
	}
}

// NewInvariant marks a data-integrity fault. The affected record is frozen
// rather than guessed at.
func NewInvariant(message string, details map[string]any) error {
	return &DomainError{
		Code:       CodeInvariant,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Details:    details,
	}
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeAuth, message, http.StatusUnauthorized, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err carries the given domain error code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	return IsCode(err, CodeTransient)
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
