package launcher

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestLauncherError(t *testing.T) {
	err := NewError(ErrorCodeInvalidRequest, "Bad request")

	if err.Code != ErrorCodeInvalidRequest {
		t.Errorf("Expected code %s, got %s", ErrorCodeInvalidRequest, err.Code)
	}

	if err.Message != "Bad request" {
		t.Errorf("Expected message 'Bad request', got %s", err.Message)
	}

	errStr := err.Error()
	if !strings.Contains(errStr, string(ErrorCodeInvalidRequest)) {
		t.Errorf("Error string should contain error code: %s", errStr)
	}

	if !strings.Contains(errStr, "Bad request") {
		t.Errorf("Error string should contain message: %s", errStr)
	}
}

func TestLauncherErrorWithContext(t *testing.T) {
	err := NewError(ErrorCodeBindFailed, "Bind failed").
		WithContext("slot", 3).
		WithContext("class", "sandboxed")

	errStr := err.Error()

	// Context keys are rendered in sorted order
	if !strings.Contains(errStr, "Context: class=sandboxed, slot=3") {
		t.Errorf("Error should contain sorted context: %s", errStr)
	}
}

func TestLauncherErrorWithCause(t *testing.T) {
	cause := errors.New("exec format error")
	err := ErrBindFailed("sandboxed", 0, cause)

	if err.Cause != cause {
		t.Error("Cause should be set")
	}

	if !strings.Contains(err.Error(), "exec format error") {
		t.Errorf("Error should contain cause: %s", err.Error())
	}

	// Test Unwrap for errors.Is/As compatibility
	if !errors.Is(err, cause) {
		t.Error("errors.Is should work with Unwrap")
	}
}

func TestErrUnknownProcessType(t *testing.T) {
	err := ErrUnknownProcessType("zygote")

	if err.Code != ErrorCodeUnknownProcessType {
		t.Errorf("Expected code %s, got %s", ErrorCodeUnknownProcessType, err.Code)
	}
	if !strings.Contains(err.Error(), "zygote") {
		t.Errorf("Error should name the process type: %s", err.Error())
	}
	if !strings.Contains(GetSuggestion(err), "gpu-process") {
		t.Errorf("Suggestion should list supported types: %s", GetSuggestion(err))
	}
}

func TestErrInvalidConfiguration(t *testing.T) {
	err := ErrInvalidConfiguration("free_delay", time.Duration(0), "free delay must be positive")

	if err.Context["field"] != "free_delay" {
		t.Errorf("Expected field context, got %v", err.Context["field"])
	}
	if err.Suggestion == "" {
		t.Error("Suggestion should be set")
	}
}

func TestIsErrorCode(t *testing.T) {
	err := ErrLauncherClosed()

	if !IsErrorCode(err, ErrorCodeLauncherClosed) {
		t.Error("IsErrorCode should match")
	}
	if IsErrorCode(err, ErrorCodeBindFailed) {
		t.Error("IsErrorCode should not match a different code")
	}

	// Wrapped errors are still recognized
	wrapped := fmt.Errorf("start: %w", err)
	if GetErrorCode(wrapped) != ErrorCodeLauncherClosed {
		t.Errorf("Expected wrapped code, got %q", GetErrorCode(wrapped))
	}

	plain := errors.New("plain")
	if IsErrorCode(plain, ErrorCodeLauncherClosed) {
		t.Error("Plain errors have no code")
	}
	if GetErrorCode(plain) != "" || GetSuggestion(plain) != "" {
		t.Error("Plain errors have no code or suggestion")
	}
}

func TestErrUnknownWorker(t *testing.T) {
	err := ErrUnknownWorker(4242)
	if !strings.Contains(err.Error(), "pid=4242") {
		t.Errorf("Error should contain pid context: %s", err.Error())
	}
}
