// Package errors provides a structured error system for cinefront with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cinefront operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Fetch errors
	ErrCodeFetchFailed    ErrorCode = "FETCH_FAILED"
	ErrCodeFetchTimeout   ErrorCode = "FETCH_TIMEOUT"
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeBucketNotFound ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeCircuitOpen    ErrorCode = "FETCH_CIRCUIT_OPEN"

	// Prefetch and acceleration errors
	ErrCodePrefetchFailed          ErrorCode = "PREFETCH_FAILED"
	ErrCodeAccelerationUnavailable ErrorCode = "ACCELERATION_UNAVAILABLE"

	// State errors
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"

	// Operation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"

	// Internal errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFetch         ErrorCategory = "fetch"
	CategoryPrefetch      ErrorCategory = "prefetch"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// Error represents a structured error with context and metadata.
type Error struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Retryable is advisory; prefetching never retries on its own.
	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *Error) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default values for the code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error with the given cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "FETCH_") || strings.HasPrefix(codeStr, "OBJECT_") ||
		strings.HasPrefix(codeStr, "BUCKET_"):
		return CategoryFetch
	case strings.HasPrefix(codeStr, "PREFETCH_") || strings.HasPrefix(codeStr, "ACCELERATION_"):
		return CategoryPrefetch
	case strings.HasPrefix(codeStr, "NOT_INITIALIZED") || strings.HasPrefix(codeStr, "SHUTDOWN_"):
		return CategoryState
	case strings.HasPrefix(codeStr, "VALIDATION_") || strings.HasPrefix(codeStr, "OPERATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeFetchFailed, ErrCodeFetchTimeout, ErrCodeOperationTimeout, ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// IsCode reports whether err is, or wraps, an *Error carrying code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithDetail adds detailed information to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *Error) WithStack() *Error {
	e.Stack = CaptureStack(2)
	return e
}
