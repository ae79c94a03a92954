// Package apierrors provides structured API error codes and responses.
// All codes are namespaced (e.g., "core:unauthorized", "session:invalid_transition").
package apierrors

import "net/http"

// Core error codes - registered automatically at init
const (
	// Authentication & Authorization
	CodeUnauthorized       = "core:unauthorized"
	CodeForbidden          = "core:forbidden"
	CodeInvalidCredentials = "auth:invalid_credentials"
	CodeAccountDisabled    = "auth:account_disabled"

	// Request errors
	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"

	// Resource errors
	CodeNotFound = "core:not_found"
	CodeConflict = "core:conflict"

	// Rate limiting
	CodeRateLimited = "core:rate_limited"

	// Server errors
	CodeInternalError      = "core:internal_error"
	CodeServiceUnavailable = "core:service_unavailable"
)

// Session error codes
const (
	CodeSessionNotFound      = "session:not_found"
	CodeInvalidTransition    = "session:invalid_transition"
	CodeNoSubmission         = "session:no_submission"
	CodeDuplicateCaseID      = "session:duplicate_case_id"
	CodeSessionBusy          = "session:busy"
	CodeInvalidClearMode     = "session:invalid_clear_mode"
	CodeInvalidSubmission    = "session:invalid_submission"
	CodeSessionInactive      = "session:inactive"
	CodeElevatedRoleRequired = "session:elevated_role_required"
)

var coreErrors = []ErrorCode{
	{Code: CodeUnauthorized, Message: "Authentication required", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeForbidden, Message: "You are not authorized to manage this session", HTTPStatus: http.StatusForbidden},
	{Code: CodeInvalidCredentials, Message: "Invalid username or password", HTTPStatus: http.StatusUnauthorized},
	{Code: CodeAccountDisabled, Message: "User account is disabled", HTTPStatus: http.StatusForbidden},

	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeValidationFailed, Message: "Request validation failed", HTTPStatus: http.StatusBadRequest},

	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},

	{Code: CodeRateLimited, Message: "Too many requests", HTTPStatus: http.StatusTooManyRequests},

	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeServiceUnavailable, Message: "Service temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable},
}

var sessionErrors = []ErrorCode{
	{Code: CodeSessionNotFound, Message: "Session not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeInvalidTransition, Message: "Invalid stage transition", HTTPStatus: http.StatusBadRequest},
	{Code: CodeNoSubmission, Message: "No submission pending for this stage", HTTPStatus: http.StatusBadRequest},
	{Code: CodeDuplicateCaseID, Message: "Case ID already exists", HTTPStatus: http.StatusConflict},
	{Code: CodeSessionBusy, Message: "Session was modified concurrently, retry", HTTPStatus: http.StatusConflict},
	{Code: CodeInvalidClearMode, Message: "clear_data must be one of submission, all, none", HTTPStatus: http.StatusBadRequest},
	{Code: CodeInvalidSubmission, Message: "Submission does not match the expected format", HTTPStatus: http.StatusBadRequest},
	{Code: CodeSessionInactive, Message: "Session is no longer active", HTTPStatus: http.StatusBadRequest},
	{Code: CodeElevatedRoleRequired, Message: "This action requires an administrator", HTTPStatus: http.StatusForbidden},
}

func init() {
	for _, e := range coreErrors {
		Registry.Register(e)
	}
	for _, e := range sessionErrors {
		Registry.Register(e)
	}
}
