package domain

import (
	"fmt"
	"time"
)

// APIError represents a standardized error response surfaced by the HTTP and
// MCP layers.
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeConfig         = "CONFIG_ERROR"
	ErrCodeDatabase       = "DATABASE_ERROR"
	ErrCodeExternalAPI    = "EXTERNAL_API_ERROR"
	ErrCodeAnalysis       = "ANALYSIS_ERROR"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// NewAPIError creates a new APIError with timestamp.
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NotFoundError reports an unknown drug or patient identifier. Callers
// surface it to the user; it never indicates a system fault.
type NotFoundError struct {
	Kind string `json:"kind"` // "drug", "patient", "recommendation", ...
	ID   string `json:"id"`
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Unwrap makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a NotFoundError for the given entity kind and id.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidRequestError reports a malformed recommendation or registration
// request. It is recoverable: the caller should correct the input.
type InvalidRequestError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Error implements the error interface.
func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request field %q: %s", e.Field, e.Message)
}

// Unwrap makes errors.Is(err, ErrInvalidRequest) hold.
func (e *InvalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

// NewInvalidRequestError creates an InvalidRequestError.
func NewInvalidRequestError(field, message string, value any) *InvalidRequestError {
	return &InvalidRequestError{Field: field, Message: message, Value: value}
}

// ConfigError reports invalid weights, thresholds or reference data. It is
// fatal at startup and must never be silently defaulted away.
type ConfigError struct {
	Section string `json:"section"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config section %q: %s", e.Section, e.Message)
}

// Unwrap makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// NewConfigError creates a ConfigError for the given config section.
func NewConfigError(section, message string) *ConfigError {
	return &ConfigError{Section: section, Message: message}
}
