package launcher

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// LauncherError represents an error with additional context for troubleshooting.
type LauncherError struct {
	// Code identifies the error type
	Code ErrorCode

	// Message is the primary error message
	Message string

	// Context provides additional details
	Context map[string]interface{}

	// Cause is the underlying error (if any)
	Cause error

	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

// ErrorCode identifies categories of errors
type ErrorCode string

const (
	// Request errors
	ErrorCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrorCodeUnknownProcessType ErrorCode = "UNKNOWN_PROCESS_TYPE"

	// Lifecycle errors
	ErrorCodeLauncherClosed ErrorCode = "LAUNCHER_CLOSED"
	ErrorCodeBindFailed     ErrorCode = "BIND_FAILED"
	ErrorCodeUnknownWorker  ErrorCode = "UNKNOWN_WORKER"

	// Configuration errors
	ErrorCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"

	// Internal errors
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error implements the error interface
func (e *LauncherError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", e.Cause))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "; ")
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *LauncherError) Unwrap() error {
	return e.Cause
}

// NewError creates a new LauncherError with the given code and message
func NewError(code ErrorCode, message string) *LauncherError {
	return &LauncherError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *LauncherError) WithContext(key string, value interface{}) *LauncherError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause to the error
func (e *LauncherError) WithCause(cause error) *LauncherError {
	e.Cause = cause
	return e
}

// WithSuggestion adds an actionable suggestion to the error
func (e *LauncherError) WithSuggestion(suggestion string) *LauncherError {
	e.Suggestion = suggestion
	return e
}

// Common error constructors with helpful suggestions

// ErrInvalidRequest creates an error for a malformed spawn request
func ErrInvalidRequest(reason string) *LauncherError {
	return NewError(ErrorCodeInvalidRequest,
		fmt.Sprintf("Invalid spawn request: %s", reason)).
		WithSuggestion("Pass a non-empty command line; a process type may also be given with --type=<renderer|gpu-process|utility>")
}

// ErrUnknownProcessType creates an error for a command line without a usable --type switch
func ErrUnknownProcessType(value string) *LauncherError {
	return NewError(ErrorCodeUnknownProcessType,
		fmt.Sprintf("Unknown process type '%s'", value)).
		WithContext("switch", "--type").
		WithSuggestion("Supported process types: renderer, gpu-process, utility")
}

// ErrLauncherClosed creates an error for operations after Shutdown
func ErrLauncherClosed() *LauncherError {
	return NewError(ErrorCodeLauncherClosed, "Launcher is shut down").
		WithSuggestion("Create a new launcher; a shut down launcher does not accept work")
}

// ErrBindFailed creates an error for a platform bind failure
func ErrBindFailed(class string, slot int, cause error) *LauncherError {
	return NewError(ErrorCodeBindFailed,
		fmt.Sprintf("Failed to bind %s worker host", class)).
		WithContext("class", class).
		WithContext("slot", slot).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. Worker host executable not found or not runnable\n" +
				"  2. Process limits reached on the host\n" +
				"Check launcher logs for more details")
}

// ErrUnknownWorker creates an error for a pid that is not registered
func ErrUnknownWorker(pid int) *LauncherError {
	return NewError(ErrorCodeUnknownWorker,
		fmt.Sprintf("No connected worker with pid %d", pid)).
		WithContext("pid", pid)
}

// ErrInvalidConfiguration creates an error for configuration validation failures
func ErrInvalidConfiguration(field string, value interface{}, reason string) *LauncherError {
	return NewError(ErrorCodeInvalidConfiguration,
		fmt.Sprintf("Invalid configuration: %s", reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSuggestion(
			"Review launcher configuration and ensure all values are valid.\n" +
				"See Config struct documentation for valid ranges.")
}

// IsErrorCode checks if an error has the specified error code
func IsErrorCode(err error, code ErrorCode) bool {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or empty string if not a LauncherError
func GetErrorCode(err error) ErrorCode {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Code
	}
	return ""
}

// GetSuggestion returns the suggestion from an error, or empty string if not available
func GetSuggestion(err error) string {
	var launcherErr *LauncherError
	if errors.As(err, &launcherErr) {
		return launcherErr.Suggestion
	}
	return ""
}
