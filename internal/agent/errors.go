package agent

import (
	"errors"
	"fmt"
)

// Kind categorizes an LlmError for callers that need to branch on failure
// mode (retry, surface to the user, fail the request) without string
// matching on the message.
type Kind string

const (
	// KindRateLimit indicates the upstream provider returned HTTP 429.
	KindRateLimit Kind = "rate_limit"

	// KindInvalidResponse indicates a 2xx body (or SSE stream) failed to decode.
	KindInvalidResponse Kind = "invalid_response"

	// KindAPI indicates a non-2xx, non-429 upstream error, or a guard-clause
	// failure such as a tool name collision.
	KindAPI Kind = "api"

	// KindDatabase indicates a session storage failure.
	KindDatabase Kind = "database"

	// KindMaxToolRounds indicates the ReAct loop exceeded max_tool_rounds.
	KindMaxToolRounds Kind = "max_tool_rounds_exceeded"

	// KindAuthFailed indicates a mobile channel authentication failure.
	KindAuthFailed Kind = "auth_failed"

	// KindConnectionFailed indicates a mobile channel transport failure.
	KindConnectionFailed Kind = "connection_failed"

	// KindSendFailed indicates a mobile channel failed to deliver a frame.
	KindSendFailed Kind = "send_failed"

	// KindCSRF indicates an OAuth state mismatch.
	KindCSRF Kind = "csrf"

	// KindOAuthProvider indicates the OAuth provider returned an error param
	// or rejected a token exchange.
	KindOAuthProvider Kind = "oauth_provider_error"
)

// IsRetryable reports whether a caller may reasonably retry the operation
// that produced this kind of error.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindRateLimit, KindConnectionFailed:
		return true
	default:
		return false
	}
}

// LlmError is the single error type surfaced by the agent runtime and its
// provider adapters. It wraps an optional cause and carries enough context
// for callers to log or translate it into a user-facing frame without
// re-parsing the message string.
type LlmError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *LlmError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

// Unwrap returns the underlying cause, if any.
func (e *LlmError) Unwrap() error {
	return e.Cause
}

// NewLlmError constructs an LlmError of the given kind with a message.
func NewLlmError(kind Kind, message string) *LlmError {
	return &LlmError{Kind: kind, Message: message}
}

// WrapLlmError constructs an LlmError of the given kind wrapping cause; the
// message defaults to cause.Error() when msg is empty.
func WrapLlmError(kind Kind, msg string, cause error) *LlmError {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &LlmError{Kind: kind, Message: msg, Cause: cause}
}

// RateLimitError builds a KindRateLimit error. Callers surface it without
// modification; it is informational, not a bug.
func RateLimitError(msg string) *LlmError {
	return NewLlmError(KindRateLimit, msg)
}

// InvalidResponseError builds a KindInvalidResponse error carrying a short
// diagnostic body prefix.
func InvalidResponseError(msg string) *LlmError {
	return NewLlmError(KindInvalidResponse, msg)
}

// ApiError builds a KindAPI error, used both for upstream non-2xx responses
// and local guard-clause failures (e.g. tool name collisions).
func ApiError(format string, args ...any) *LlmError {
	return NewLlmError(KindAPI, fmt.Sprintf(format, args...))
}

// MaxToolRoundsExceededError reports that the ReAct loop hit its round
// bound without the model returning plain text.
func MaxToolRoundsExceededError(maxRounds int) *LlmError {
	return NewLlmError(KindMaxToolRounds, fmt.Sprintf("exceeded max tool rounds (%d)", maxRounds))
}

// IsKind reports whether err is (or wraps) an *LlmError of the given kind.
func IsKind(err error, kind Kind) bool {
	var lerr *LlmError
	if errors.As(err, &lerr) {
		return lerr.Kind == kind
	}
	return false
}

// GetLlmError extracts an *LlmError from an error chain.
func GetLlmError(err error) (*LlmError, bool) {
	var lerr *LlmError
	if errors.As(err, &lerr) {
		return lerr, true
	}
	return nil, false
}

// TruncateBody trims s to at most n runes, used when embedding upstream
// response bodies into InvalidResponse/Api diagnostics.
func TruncateBody(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
