package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every failure the cart subsystem can surface.
// Callers branch on Kind (or errors.Is against the sentinels) rather than on
// raw status codes.
type Kind string

const (
	KindNetwork          Kind = "network"
	KindConflict         Kind = "conflict"
	KindPermissionDenied Kind = "permission_denied"
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNetwork          = errors.New("network error")
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")

	// ErrMaxElements and ErrLocked are validation failures raised before
	// any state changes.
	ErrMaxElements = fmt.Errorf("%w: cart element limit reached", ErrValidation)
	ErrLocked      = fmt.Errorf("%w: cart is locked", ErrValidation)
)

// Error is the single tagged error type of the cart subsystem.
type Error struct {
	Kind       Kind   `json:"kind"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // upstream HTTP status when there was one
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to the status the service answers with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// NewNetworkError wraps a transport failure or unexpected upstream status.
func NewNetworkError(op string, status int, err error) *Error {
	return &Error{
		Kind:       KindNetwork,
		Code:       "NETWORK_ERROR",
		Message:    fmt.Sprintf("%s request failed", op),
		StatusCode: status,
		Err:        fmt.Errorf("%w: %v", ErrNetwork, err),
	}
}

// NewConflictError reports an identifier or state collision (HTTP 409).
func NewConflictError(resource string) *Error {
	return &Error{
		Kind:       KindConflict,
		Code:       "CONFLICT",
		Message:    fmt.Sprintf("%s already exists", resource),
		StatusCode: http.StatusConflict,
		Err:        ErrConflict,
	}
}

// NewPermissionError reports a 401/403 from the portal.
func NewPermissionError(resource string, status int) *Error {
	return &Error{
		Kind:       KindPermissionDenied,
		Code:       "PERMISSION_DENIED",
		Message:    fmt.Sprintf("no access to %s", resource),
		StatusCode: status,
		Err:        ErrPermissionDenied,
	}
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates an error for invalid input.
func NewValidationError(field, reason string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("invalid %s: %s", field, reason),
		Err:     ErrValidation,
	}
}

// NewMaxElementsError reports that adding would exceed limit.
func NewMaxElementsError(limit int) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "MAX_ELEMENTS",
		Message: fmt.Sprintf("carts hold at most %d items", limit),
		Err:     ErrMaxElements,
	}
}

// NewLockedError reports a mutation attempted on a locked cart.
func NewLockedError() *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "CART_LOCKED",
		Message: "cart is locked and cannot be modified",
		Err:     ErrLocked,
	}
}

// FromStatus classifies a non-2xx portal response.
func FromStatus(op, resource string, status int) *Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewPermissionError(resource, status)
	case http.StatusNotFound:
		return NewNotFoundError(resource)
	case http.StatusConflict:
		return NewConflictError(resource)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e := NewValidationError(resource, "rejected by portal")
		e.StatusCode = status
		return e
	default:
		return NewNetworkError(op, status, fmt.Errorf("unexpected status %d", status))
	}
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// KindOf returns the Kind carried by err; untyped errors count as network
// failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetwork
}
