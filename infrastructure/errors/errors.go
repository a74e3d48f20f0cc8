// Package errors provides unified error handling for the governance layer
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Authentication errors
	ErrCodeAuthFailed     ErrorCode = "AUTH_FAILED"
	ErrCodeKeyRequired    ErrorCode = "AUTH_KEY_REQUIRED"
	ErrCodeCrossAgent     ErrorCode = "AUTH_CROSS_AGENT"
	ErrCodeAdminForbidden ErrorCode = "AUTH_ADMIN_FORBIDDEN"

	// Validation errors
	ErrCodeInvalidInput     ErrorCode = "VAL_INVALID_INPUT"
	ErrCodeMissingParameter ErrorCode = "VAL_MISSING_PARAMETER"
	ErrCodeOutOfRange       ErrorCode = "VAL_OUT_OF_RANGE"
	ErrCodeTextTooLong      ErrorCode = "VAL_TEXT_TOO_LONG"
	ErrCodeBadAgentID       ErrorCode = "VAL_BAD_AGENT_ID"

	// State machine violations
	ErrCodeWrongState     ErrorCode = "STATE_WRONG_STATE"
	ErrCodeWrongParty     ErrorCode = "STATE_WRONG_PARTY"
	ErrCodeTerminal       ErrorCode = "STATE_TERMINAL"
	ErrCodePioneerLocked  ErrorCode = "STATE_PIONEER_PROTECTED"
	ErrCodeStatusConflict ErrorCode = "STATE_STATUS_CONFLICT"

	// Concurrency / retryable errors
	ErrCodeLockTimeout  ErrorCode = "LOCK_TIMEOUT"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
	ErrCodeLoopCooldown ErrorCode = "LOOP_COOLDOWN"

	// Resource errors
	ErrCodeAgentNotFound     ErrorCode = "RES_AGENT_NOT_FOUND"
	ErrCodeSessionNotFound   ErrorCode = "RES_SESSION_NOT_FOUND"
	ErrCodeDiscoveryNotFound ErrorCode = "RES_DISCOVERY_NOT_FOUND"
	ErrCodeToolNotFound      ErrorCode = "RES_TOOL_NOT_FOUND"

	// Service errors
	ErrCodeInternal ErrorCode = "SVC_INTERNAL"
	ErrCodeStorage  ErrorCode = "SVC_STORAGE"
	ErrCodeTimeout  ErrorCode = "SVC_TIMEOUT"
)

// Recovery carries a machine-readable hint telling the caller how to make
// progress after an error. It is part of the wire envelope.
type Recovery struct {
	Action       string   `json:"action"`
	RelatedTools []string `json:"related_tools,omitempty"`
	Workflow     string   `json:"workflow,omitempty"`
}

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Recovery   *Recovery              `json:"recovery,omitempty"`
	Retryable  bool                   `json:"retryable,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRecovery attaches a recovery hint to the error
func (e *ServiceError) WithRecovery(action string, tools ...string) *ServiceError {
	e.Recovery = &Recovery{Action: action, RelatedTools: tools}
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Authentication Errors

func AuthFailed(agentID string) *ServiceError {
	return New(ErrCodeAuthFailed, "API key does not match this agent", http.StatusUnauthorized).
		WithDetails("agent_id", agentID).
		WithRecovery("verify the api_key returned at registration", "get_agent_api_key")
}

func KeyRequired(tool string) *ServiceError {
	return New(ErrCodeKeyRequired, "This tool requires an api_key", http.StatusUnauthorized).
		WithDetails("tool", tool).
		WithRecovery("register first to obtain a key", "get_agent_api_key")
}

func CrossAgent(caller, target string) *ServiceError {
	return New(ErrCodeCrossAgent, "Caller may not act on another agent's state", http.StatusForbidden).
		WithDetails("caller", caller).
		WithDetails("target", target)
}

func AdminForbidden(reason string) *ServiceError {
	return New(ErrCodeAdminForbidden, "Administrative change not permitted", http.StatusForbidden).
		WithDetails("reason", reason)
}

// Validation Errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "Invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "Missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "Value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

func TextTooLong(limit int) *ServiceError {
	return New(ErrCodeTextTooLong, "Response text exceeds the size limit", http.StatusBadRequest).
		WithDetails("limit_bytes", limit)
}

func BadAgentID(id string) *ServiceError {
	return New(ErrCodeBadAgentID, "Agent id contains unsupported characters", http.StatusBadRequest).
		WithDetails("agent_id", id)
}

// State machine violations

func WrongState(current, expected string) *ServiceError {
	return New(ErrCodeWrongState, "Operation not valid in the current state", http.StatusConflict).
		WithDetails("current_state", current).
		WithDetails("expected_state", expected)
}

func WrongParty(role string) *ServiceError {
	return New(ErrCodeWrongParty, "Submission must come from a different party", http.StatusForbidden).
		WithDetails("expected_role", role)
}

func Terminal(state string) *ServiceError {
	return New(ErrCodeTerminal, "Session has reached a terminal state", http.StatusConflict).
		WithDetails("state", state)
}

func PioneerProtected(agentID string) *ServiceError {
	return New(ErrCodePioneerLocked, "Pioneer agents cannot be deleted", http.StatusForbidden).
		WithDetails("agent_id", agentID)
}

func StatusConflict(agentID, status, needed string) *ServiceError {
	return New(ErrCodeStatusConflict, "Agent status does not allow this operation", http.StatusConflict).
		WithDetails("agent_id", agentID).
		WithDetails("status", status).
		WithDetails("needed", needed)
}

// Concurrency / retryable errors

func LockTimeout(resource string, waited time.Duration) *ServiceError {
	e := New(ErrCodeLockTimeout, "Could not acquire lock in time", http.StatusServiceUnavailable).
		WithDetails("resource", resource).
		WithDetails("waited_ms", waited.Milliseconds()).
		WithRecovery("retry after a short delay", "cleanup_stale_locks")
	e.Retryable = true
	return e
}

func RateLimited(category string, resetAt time.Time) *ServiceError {
	e := New(ErrCodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("category", category).
		WithDetails("reset_at", resetAt.UTC().Format(time.RFC3339)).
		WithDetails("retry_after_seconds", int(time.Until(resetAt).Seconds())+1)
	e.Retryable = true
	return e
}

func LoopCooldown(remaining time.Duration, pattern string) *ServiceError {
	e := New(ErrCodeLoopCooldown, "Update loop detected; a short cooldown is in effect", http.StatusTooManyRequests).
		WithDetails("remaining_seconds", remaining.Seconds()).
		WithDetails("pattern", pattern).
		WithRecovery("wait out the cooldown, then continue with a fresh perspective", "get_governance_metrics")
	e.Retryable = true
	return e
}

// Resource Errors

func AgentNotFound(id string) *ServiceError {
	return New(ErrCodeAgentNotFound, "Agent not found", http.StatusNotFound).
		WithDetails("agent_id", id).
		WithRecovery("register the agent", "get_agent_api_key")
}

func SessionNotFound(id string) *ServiceError {
	return New(ErrCodeSessionNotFound, "Dialectic session not found", http.StatusNotFound).
		WithDetails("session_id", id)
}

func DiscoveryNotFound(id string) *ServiceError {
	return New(ErrCodeDiscoveryNotFound, "Discovery not found", http.StatusNotFound).
		WithDetails("discovery_id", id)
}

func ToolNotFound(name string) *ServiceError {
	return New(ErrCodeToolNotFound, "Unknown tool", http.StatusNotFound).
		WithDetails("tool", name).
		WithRecovery("list available tools", "list_tools")
}

// Service Errors

// Internal wraps an internal failure. The wrapped cause is logged
// server-side only; clients see the sanitized message.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func Storage(operation string, err error) *ServiceError {
	return Wrap(ErrCodeStorage, "Storage operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func Timeout(tool string, limit time.Duration) *ServiceError {
	e := New(ErrCodeTimeout, "Tool call timed out", http.StatusGatewayTimeout).
		WithDetails("tool", tool).
		WithDetails("timeout_seconds", limit.Seconds())
	e.Retryable = true
	return e
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether the caller may retry the operation.
func IsRetryable(err error) bool {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.Retryable
	}
	return false
}

// Sanitize returns the client-safe message for an error. Internal causes
// never reach the wire.
func Sanitize(err error) string {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.Message
	}
	return "internal error"
}
