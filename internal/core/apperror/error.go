// Package apperror provides structured error handling for API responses.
// Every rejection the service produces is an AppError carrying a machine code
// and the HTTP status it maps to.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Gate rejections
	CodeUnauthenticated         = "UNAUTHENTICATED"
	CodeTenantNotFound          = "TENANT_NOT_FOUND"
	CodeTenantAccessDenied      = "TENANT_ACCESS_DENIED"
	CodeNotSynchronized         = "NOT_SYNCHRONIZED"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"

	// Account state
	CodeForbidden          = "FORBIDDEN"
	CodeAccountSuspended   = "ACCOUNT_SUSPENDED"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	CodeInvalidTwoFactor   = "INVALID_TWO_FACTOR_CODE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict            = "CONFLICT"
	CodeDuplicate           = "DUPLICATE_ENTRY"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
)

// AppError is the standard error type of the service.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, versions, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

func newError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return newError(CodeValidation, http.StatusBadRequest, message)
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	e := newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", entity))
	e.Details = map[string]any{"entity": entity, "id": id}
	return e
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return newError(CodeInternal, http.StatusInternalServerError, "Internal server error").WithCause(err)
}

// NewUnavailable signals a dependency that cannot serve right now (503).
func NewUnavailable(message string) *AppError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message)
}

// NewUnauthenticated is returned when the bearer credential is missing, invalid,
// expired, revoked, or belongs to an inactive identity (401).
func NewUnauthenticated(message string) *AppError {
	return newError(CodeUnauthenticated, http.StatusUnauthorized, message)
}

// NewInvalidCredentials is the uniform login failure (401).
func NewInvalidCredentials() *AppError {
	return newError(CodeInvalidCredentials, http.StatusUnauthorized, "Invalid credentials")
}

// NewTenantNotFound is returned when no tenant hint is present or it names no active tenant (404).
func NewTenantNotFound(hint string) *AppError {
	e := newError(CodeTenantNotFound, http.StatusNotFound, "Tenant not found")
	if hint != "" {
		e.WithDetail("tenant", hint)
	}
	return e
}

// NewTenantAccessDenied is returned when the caller has no membership in the tenant (403).
func NewTenantAccessDenied(tenantID string) *AppError {
	return newError(CodeTenantAccessDenied, http.StatusForbidden, "Access to tenant denied").
		WithDetail("tenant_id", tenantID)
}

// NewNotSynchronized is returned when membership exists but the tenant-local
// projection of the identity is missing (403).
func NewNotSynchronized(tenantID string) *AppError {
	return newError(CodeNotSynchronized, http.StatusForbidden, "User not synchronized with tenant").
		WithDetail("tenant_id", tenantID)
}

// NewInsufficientPermissions is returned when the permission expression is not satisfied (403).
func NewInsufficientPermissions(expression string) *AppError {
	return newError(CodeInsufficientPermissions, http.StatusForbidden, "Insufficient permissions").
		WithDetail("required", expression)
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return newError(CodeForbidden, http.StatusForbidden, message)
}

// NewAccountSuspended creates the login rejection for suspended accounts (403).
func NewAccountSuspended() *AppError {
	return newError(CodeAccountSuspended, http.StatusForbidden, "Account suspended")
}

// NewEmailNotVerified creates the login rejection for unverified emails (403).
func NewEmailNotVerified() *AppError {
	return newError(CodeEmailNotVerified, http.StatusForbidden, "Email not verified")
}

// NewInvalidTwoFactor is returned for a wrong TOTP or recovery code (401).
func NewInvalidTwoFactor() *AppError {
	return newError(CodeInvalidTwoFactor, http.StatusUnauthorized, "Invalid two-factor code")
}

// NewRateLimited creates a throttling error (429)
func NewRateLimited(retryAfterSeconds int) *AppError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "Too many attempts").
		WithDetail("retry_after", retryAfterSeconds)
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return newError(CodeConflict, http.StatusConflict, message)
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	e := newError(CodeDuplicate, http.StatusConflict, fmt.Sprintf("%s with this %s already exists", entity, field))
	e.Details = map[string]any{"entity": entity, "field": field, "value": value}
	return e
}

// NewConcurrencyConflict creates an optimistic locking error (409).
// The caller is expected to reload and retry; the server never retries.
func NewConcurrencyConflict(entity string, id any, expected, actual int64) *AppError {
	e := newError(CodeConcurrencyConflict, http.StatusConflict,
		"Record was modified by another request. Reload and try again.")
	e.Details = map[string]any{
		"entity":           entity,
		"id":               id,
		"expected_version": expected,
		"actual_version":   actual,
	}
	return e
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

// IsConcurrencyConflict checks if error is CodeConcurrencyConflict
func IsConcurrencyConflict(err error) bool {
	return HasCode(err, CodeConcurrencyConflict)
}
