package agent

import (
	"errors"
	"testing"
)

func TestKind_IsRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRateLimit, true},
		{KindConnectionFailed, true},
		{KindInvalidResponse, false},
		{KindAPI, false},
		{KindDatabase, false},
		{KindMaxToolRounds, false},
		{KindAuthFailed, false},
		{KindSendFailed, false},
		{KindCSRF, false},
		{KindOAuthProvider, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLlmError_Error(t *testing.T) {
	withMessage := NewLlmError(KindAPI, "tool name collision: 'a.b' and 'a_b' both sanitize to 'a_b'")
	if withMessage.Error() != "tool name collision: 'a.b' and 'a_b' both sanitize to 'a_b'" {
		t.Errorf("Error() = %q", withMessage.Error())
	}

	wrapped := WrapLlmError(KindConnectionFailed, "", errors.New("dial tcp: refused"))
	if wrapped.Error() != "dial tcp: refused" {
		t.Errorf("Error() = %q, want cause message", wrapped.Error())
	}
	if errors.Unwrap(wrapped) == nil {
		t.Error("Unwrap() should return the wrapped cause")
	}
}

func TestApiError_Collision(t *testing.T) {
	err := ApiError("Tool name collision: '%s' and '%s' both sanitize to '%s'", "a.b", "a_b", "a_b")
	if !IsKind(err, KindAPI) {
		t.Error("expected KindAPI")
	}
	want := "Tool name collision: 'a.b' and 'a_b' both sanitize to 'a_b'"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestMaxToolRoundsExceededError(t *testing.T) {
	err := MaxToolRoundsExceededError(25)
	if !IsKind(err, KindMaxToolRounds) {
		t.Error("expected KindMaxToolRounds")
	}

	var lerr *LlmError
	if !errors.As(err, &lerr) {
		t.Fatal("errors.As should extract *LlmError")
	}
	if lerr.Kind != KindMaxToolRounds {
		t.Errorf("Kind = %v", lerr.Kind)
	}
}

func TestGetLlmError(t *testing.T) {
	wrapped := &wrapper{RateLimitError("slow down")}
	lerr, ok := GetLlmError(wrapped)
	if !ok {
		t.Fatal("expected to extract LlmError through wrapping")
	}
	if lerr.Kind != KindRateLimit {
		t.Errorf("Kind = %v", lerr.Kind)
	}
}

func TestTruncateBody(t *testing.T) {
	short := "hello"
	if got := TruncateBody(short, 10); got != short {
		t.Errorf("TruncateBody(short) = %q", got)
	}

	long := "안녕하세요세계"
	got := TruncateBody(long, 3)
	if r := []rune(got); len(r) != 3 {
		t.Errorf("TruncateBody multibyte: got %d runes, want 3", len(r))
	}
}

// wrapper wraps an error, used to assert errors.As unwraps through a layer
// added by a caller.
type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
