package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an application error with HTTP status and error code
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
	Internal   error
	Details    map[string]any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error
func (e *Error) Unwrap() error {
	return e.Internal
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, apperror.ErrConflict) matches derived copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) clone() *Error {
	c := *e
	return &c
}

// WithInternal returns a copy carrying the underlying cause. The cause is
// logged, never rendered.
func (e *Error) WithInternal(err error) *Error {
	c := e.clone()
	c.Internal = err
	return c
}

func (e *Error) WithMessage(message string) *Error {
	c := e.clone()
	c.Message = message
	return c
}

func (e *Error) WithDetails(details map[string]any) *Error {
	c := e.clone()
	c.Details = details
	return c
}

// Body is the rendered form of an Error.
type Body struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Response is the JSON envelope every API error is sent in.
type Response struct {
	Error Body `json:"error"`
}

func (e *Error) Response() Response {
	return Response{Error: Body{Code: e.Code, Message: e.Message, Details: e.Details}}
}

// From finds the *Error in err's chain. Anything else is an internal error.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.WithInternal(err)
}

// New creates a new application error
func New(status int, code, message string) *Error {
	return &Error{
		HTTPStatus: status,
		Code:       code,
		Message:    message,
	}
}

// Common error definitions
var (
	// Authentication errors
	ErrUnauthorized = New(http.StatusUnauthorized, "unauthorized", "Authentication required")
	ErrInvalidToken = New(http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
	ErrMissingToken = New(http.StatusUnauthorized, "missing_token", "Missing authorization token")

	// Authorization errors
	ErrForbidden = New(http.StatusForbidden, "forbidden", "Access denied")
	// ErrNotParticipant is returned when the actor is neither the owner nor
	// the target of the edge being mutated.
	ErrNotParticipant = New(http.StatusForbidden, "unauthorized_actor", "Actor is not a participant of this relationship")

	// Resource errors
	ErrNotFound     = New(http.StatusNotFound, "not_found", "Resource not found")
	ErrUserNotFound = New(http.StatusNotFound, "user_not_found", "User not found")
	ErrConflict     = New(http.StatusConflict, "conflict", "Resource already exists")

	// Validation errors
	ErrBadRequest = New(http.StatusBadRequest, "bad_request", "Invalid request")
	ErrValidation = New(http.StatusUnprocessableEntity, "validation_error", "Validation failed")

	// Throttling
	ErrRateLimited = New(http.StatusTooManyRequests, "rate_limited", "Too many requests")

	// ErrRepairRequired marks a dual write whose second half could not be
	// verified. It is attached to successful results as a warning and is
	// never the error of an operation.
	ErrRepairRequired = New(http.StatusAccepted, "repair_required", "Reciprocal write pending repair")

	// Server errors
	ErrInternal = New(http.StatusInternalServerError, "internal_error", "An internal error occurred")
	ErrDatabase = New(http.StatusInternalServerError, "database_error", "Database operation failed")

	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "service_unavailable", "Service unavailable")
)

// NewBadRequest creates a bad request error with a custom message
func NewBadRequest(message string) *Error {
	return ErrBadRequest.WithMessage(message)
}

// NewValidation creates a validation error with a custom message
func NewValidation(message string) *Error {
	return ErrValidation.WithMessage(message)
}

// NewNotFound creates a not found error for a resource type and ID
func NewNotFound(resourceType, id string) *Error {
	return ErrNotFound.WithMessage(fmt.Sprintf("%s '%s' not found", resourceType, id))
}

// NewConflict creates a conflict error with a custom message
func NewConflict(message string) *Error {
	return ErrConflict.WithMessage(message)
}

// NewInternal creates an internal error with a message and optional wrapped error
func NewInternal(message string, err error) *Error {
	return &Error{
		HTTPStatus: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    message,
		Internal:   err,
	}
}

// NewForbidden creates a forbidden error with a custom message
func NewForbidden(message string) *Error {
	return ErrForbidden.WithMessage(message)
}
