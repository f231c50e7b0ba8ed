package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeConfigValidation, "buffer_size must be at least 1")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeConfigValidation {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeConfigValidation)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map must be initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeFetchTimeout, "timed out").Retryable {
			t.Error("FetchTimeout should be retryable by default")
		}
		if NewError(ErrCodeConfigValidation, "bad").Retryable {
			t.Error("ConfigValidation should not be retryable by default")
		}
	})

	t.Run("Newf formats the message", func(t *testing.T) {
		err := Newf(ErrCodeValidationFailed, "probability %.2f outside [0,1]", 1.5)
		if err.Message != "probability 1.50 outside [0,1]" {
			t.Errorf("Message = %q", err.Message)
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeFetchFailed, CategoryFetch},
		{ErrCodeObjectNotFound, CategoryFetch},
		{ErrCodeBucketNotFound, CategoryFetch},
		{ErrCodePrefetchFailed, CategoryPrefetch},
		{ErrCodeAccelerationUnavailable, CategoryPrefetch},
		{ErrCodeNotInitialized, CategoryState},
		{ErrCodeShutdownInProgress, CategoryState},
		{ErrCodeValidationFailed, CategoryOperation},
		{ErrCodeInternalError, CategoryInternal},
		{ErrCodePanicRecovered, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "code and message only",
			err:  NewError(ErrCodeFetchFailed, "boom"),
			want: "FETCH_FAILED: boom",
		},
		{
			name: "with component",
			err:  NewError(ErrCodeFetchFailed, "boom").WithComponent("prefetcher"),
			want: "[prefetcher] FETCH_FAILED: boom",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeFetchFailed, "boom").WithComponent("prefetcher").WithOperation("preload"),
			want: "[prefetcher:preload] FETCH_FAILED: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_UnwrapAndIs(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection reset")
	err := Wrap(ErrCodeFetchFailed, "fetch media/1", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !errors.Is(err, NewError(ErrCodeFetchFailed, "")) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, NewError(ErrCodeConfigLoad, "")) {
		t.Error("errors.Is should not match a different code")
	}

	outer := fmt.Errorf("prefetch: %w", err)
	if !IsCode(outer, ErrCodeFetchFailed) {
		t.Error("IsCode should see through fmt wrapping")
	}
	if IsCode(outer, ErrCodeObjectNotFound) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(nil, ErrCodeFetchFailed) {
		t.Error("IsCode(nil) must be false")
	}
}

func TestError_StringAndJSON(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodePrefetchFailed, "fetch failed").
		WithComponent("prefetcher").
		WithOperation("preload").
		WithDetail("id", "media/42").
		WithCause(fmt.Errorf("timeout"))

	s := err.String()
	for _, want := range []string{"Code=PREFETCH_FAILED", "Component=prefetcher", "Operation=preload", `Cause="timeout"`, "media/42"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}

	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jerr)
	}
	if decoded["code"] != "PREFETCH_FAILED" {
		t.Errorf("json code = %v", decoded["code"])
	}
	if _, ok := decoded["Cause"]; ok {
		t.Error("cause must not be serialized")
	}
}

func TestCaptureStack(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeInternalError, "x").WithStack()
	if err.Stack == "" {
		t.Fatal("WithStack left Stack empty")
	}
	if strings.Contains(err.Stack, "errors.go") {
		t.Errorf("stack should skip frames from errors.go:\n%s", err.Stack)
	}
}
