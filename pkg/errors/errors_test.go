package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see the cause")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNewTransportError(t *testing.T) {
	err := NewTransportError(503, "gateway busy")
	if err.Code != ErrCodeTransport {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeTransport)
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "gateway busy") {
		t.Errorf("Error() should carry status and body, got: %v", err.Error())
	}
}

func TestNewTimeoutError_NamesDescription(t *testing.T) {
	err := NewTimeoutError("publisher joined")
	if !strings.Contains(err.Error(), "publisher joined") {
		t.Errorf("Error() = %v, want description", err.Error())
	}
}

func TestNewPreconditionError_KeepsSentinel(t *testing.T) {
	sentinel := errors.New("not ready")
	err := NewPreconditionError(sentinel, "missing auth token")
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should match the sentinel")
	}
	if err.HTTPStatus != 409 {
		t.Errorf("HTTPStatus = %v, want 409", err.HTTPStatus)
	}
}

func TestHasCode(t *testing.T) {
	inner := NewTimeoutError("attached")
	outer := fmt.Errorf("subscribe: %w", inner)

	if !HasCode(outer, ErrCodeTimeout) {
		t.Error("HasCode should find TIMEOUT through fmt wrapping")
	}
	if HasCode(outer, ErrCodeProtocol) {
		t.Error("HasCode should not report PROTOCOL")
	}
	if HasCode(errors.New("plain"), ErrCodeTimeout) {
		t.Error("HasCode should be false for plain errors")
	}

	nested := WrapError(NewProtocolError("bad envelope"), ErrCodeTransport, "poll", 502)
	if !HasCode(nested, ErrCodeProtocol) {
		t.Error("HasCode should walk nested AppErrors")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("ctx: %w", appErr)
	if result := GetAppError(wrapped); result != appErr {
		t.Error("GetAppError() should extract AppError from wrapped error")
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
	if IsAppError(errors.New("regular error")) {
		t.Error("IsAppError() should return false for regular error")
	}
}
