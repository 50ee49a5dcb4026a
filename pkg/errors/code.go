package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission input errors
// 13100-13199: Sandbox & execution errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// ========== Submission Errors (13000-13099) ==========

	CodeEmpty           ErrorCode = 13001
	CodeTooLarge        ErrorCode = 13002
	InvalidEncoding     ErrorCode = 13003
	OverridesDenied     ErrorCode = 13004
	UnsupportedLanguage ErrorCode = 13005

	// ========== Sandbox Errors (13100-13199) ==========

	SandboxQueueFull         ErrorCode = 13100
	SandboxSystemError       ErrorCode = 13101
	SandboxUnavailable       ErrorCode = 13102
	SandboxResourceExhausted ErrorCode = 13103
	TimeLimitExceeded        ErrorCode = 13105
	MemoryLimitExceeded      ErrorCode = 13106
	OutputLimitExceeded      ErrorCode = 13107
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	CacheError: "Cache operation failed",

	ValidationFailed: "Validation failed",

	CodeEmpty:           "Code is required",
	CodeTooLarge:        "Code too large",
	InvalidEncoding:     "Code must be valid UTF-8 text",
	OverridesDenied:     "Policy overrides are not accepted",
	UnsupportedLanguage: "Language is not supported",

	SandboxQueueFull:         "Execution capacity exhausted, please try again later",
	SandboxSystemError:       "Sandbox system error",
	SandboxUnavailable:       "Required isolation is unavailable on this host",
	SandboxResourceExhausted: "Sandbox resources exhausted",
	TimeLimitExceeded:        "Execution timeout",
	MemoryLimitExceeded:      "Memory limit exceeded",
	OutputLimitExceeded:      "Output limit exceeded",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// IsInvalidInput reports whether the code rejects the caller's input.
func (c ErrorCode) IsInvalidInput() bool {
	switch c {
	case InvalidParams, CodeEmpty, CodeTooLarge, InvalidEncoding, OverridesDenied, UnsupportedLanguage:
		return true
	}
	return c >= 10300 && c < 10400
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == CodeTooLarge:
		return 413
	case c == TooManyRequests, c == SandboxQueueFull:
		return 429
	case c == ServiceUnavailable, c == SandboxUnavailable, c == SandboxResourceExhausted:
		return 503
	case c == Timeout:
		return 504
	case c.IsInvalidInput():
		return 400
	default:
		return 500
	}
}
