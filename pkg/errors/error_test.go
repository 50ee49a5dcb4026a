package errors

import (
	"fmt"
	"testing"
)

func TestErrorCodeClassification(t *testing.T) {
	cases := []struct {
		code    ErrorCode
		status  int
		invalid bool
	}{
		{code: Success, status: 200},
		{code: CodeEmpty, status: 400, invalid: true},
		{code: CodeTooLarge, status: 413, invalid: true},
		{code: InvalidEncoding, status: 400, invalid: true},
		{code: OverridesDenied, status: 400, invalid: true},
		{code: UnsupportedLanguage, status: 400, invalid: true},
		{code: ValidationFailed, status: 400, invalid: true},
		{code: TooManyRequests, status: 429},
		{code: SandboxQueueFull, status: 429},
		{code: SandboxUnavailable, status: 503},
		{code: SandboxResourceExhausted, status: 503},
		{code: Timeout, status: 504},
		{code: SandboxSystemError, status: 500},
		{code: TimeLimitExceeded, status: 500},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			if got := tc.code.HTTPStatus(); got != tc.status {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tc.status)
			}
			if got := tc.code.IsInvalidInput(); got != tc.invalid {
				t.Fatalf("IsInvalidInput() = %v, want %v", got, tc.invalid)
			}
			if tc.code.Message() == "Unknown error" {
				t.Fatalf("code %d has no message", tc.code)
			}
		})
	}
}

func TestResultMessages(t *testing.T) {
	cases := map[ErrorCode]string{
		TimeLimitExceeded:   "Execution timeout",
		MemoryLimitExceeded: "Memory limit exceeded",
		OutputLimitExceeded: "Output limit exceeded",
	}
	for code, want := range cases {
		if got := code.Message(); got != want {
			t.Fatalf("%d.Message() = %q, want %q", code, got, want)
		}
	}
}

func TestGetError(t *testing.T) {
	if GetError(nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
	plain := fmt.Errorf("disk on fire")
	got := GetError(plain)
	if got.Code != InternalServerError || got.Unwrap() != plain {
		t.Fatalf("plain error wrapped as %+v", got)
	}
	custom := New(UnsupportedLanguage).WithDetail("supported", []string{"python"})
	wrapped := fmt.Errorf("submit: %w", custom)
	if GetError(wrapped) != custom || !Is(wrapped, UnsupportedLanguage) || !InvalidInput(wrapped) {
		t.Fatalf("wrapped custom error not recovered")
	}
}
