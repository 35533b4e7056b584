package credentials

import (
	"strings"
	"testing"
)

func TestGenerateCodeVerifier_URLSafe(t *testing.T) {
	v, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatal(err)
	}
	if v == "" {
		t.Fatal("expected non-empty verifier")
	}
	for _, c := range []string{"+", "/", "="} {
		if strings.Contains(v, c) {
			t.Errorf("verifier %q contains non-urlsafe character %q", v, c)
		}
	}
}

func TestComputeCodeChallenge_Deterministic(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	a := ComputeCodeChallenge(verifier)
	b := ComputeCodeChallenge(verifier)
	if a != b {
		t.Fatalf("code challenge not deterministic: %q != %q", a, b)
	}
	if a == "" {
		t.Fatal("expected non-empty challenge")
	}
}

func TestGenerateState_32HexChars(t *testing.T) {
	s, err := GenerateState()
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 32 {
		t.Fatalf("state length = %d, want 32", len(s))
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("state %q contains non-hex character %q", s, c)
		}
	}
}

func TestPercentEncodeDecode_Roundtrip(t *testing.T) {
	cases := []string{
		"https://example.com/auth",
		"hello world",
		"a+b=c&d",
		"redirect_uri=http://127.0.0.1:9009/callback",
	}
	for _, s := range cases {
		got := percentDecode(percentEncode(s))
		if got != s {
			t.Errorf("roundtrip failed for %q: got %q", s, got)
		}
	}
}

func TestPercentEncode_EscapesReservedChars(t *testing.T) {
	tests := []struct{ in, want string }{
		{"hello world", "hello%20world"},
		{"a+b=c", "a%2Bb%3Dc"},
		{"https://example.com", "https%3A%2F%2Fexample.com"},
	}
	for _, tt := range tests {
		if got := percentEncode(tt.in); got != tt.want {
			t.Errorf("percentEncode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseCallbackParams_ExtractsCodeAndState(t *testing.T) {
	params := parseCallbackParams("GET /callback?code=abc123&state=deadbeef HTTP/1.1\r\n")
	if params.Get("code") != "abc123" || params.Get("state") != "deadbeef" {
		t.Errorf("params = %+v", params)
	}
}

func TestParseCallbackParams_PercentEncodedValues(t *testing.T) {
	params := parseCallbackParams("GET /callback?code=abc%20123&state=xyz HTTP/1.1\r\n")
	if params.Get("code") != "abc 123" {
		t.Errorf("code = %q, want \"abc 123\"", params.Get("code"))
	}
}

func TestParseCallbackParams_NoQuery(t *testing.T) {
	params := parseCallbackParams("GET /callback HTTP/1.1\r\n")
	if len(params) != 0 {
		t.Errorf("expected empty params, got %+v", params)
	}
}

func TestSanitizeAuthCode_StripsFragment(t *testing.T) {
	tests := []struct{ in, want string }{
		{"abc123#frag", "abc123"},
		{"  abc123  ", "abc123"},
		{"abc123#", "abc123"},
		{"abc123", "abc123"},
	}
	for _, tt := range tests {
		if got := sanitizeAuthCode(tt.in); got != tt.want {
			t.Errorf("sanitizeAuthCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthURLOrigin(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://console.anthropic.com/oauth/authorize", "https://console.anthropic.com"},
		{"https://auth.openai.com/oauth/authorize", "https://auth.openai.com"},
		{"http://localhost:8080/callback", "http://localhost:8080"},
	}
	for _, tt := range tests {
		if got := authURLOrigin(tt.in); got != tt.want {
			t.Errorf("authURLOrigin(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStartCodeDisplayFlow_ReturnsPendingState(t *testing.T) {
	endpoints := Endpoints{
		AuthURL:      "https://console.anthropic.com/oauth/authorize",
		TokenURL:     "https://console.anthropic.com/v1/oauth/token",
		Scope:        "org:create_api_key",
		RedirectPath: "/oauth/code/callback",
	}
	pending, err := StartCodeDisplayFlow(endpoints, "test-client-id")
	if err != nil {
		t.Fatal(err)
	}
	if pending.RedirectURI != "https://console.anthropic.com/oauth/code/callback" {
		t.Errorf("redirect_uri = %q", pending.RedirectURI)
	}
	if pending.ClientID != "test-client-id" {
		t.Errorf("client_id = %q", pending.ClientID)
	}
	if pending.CodeVerifier == "" || pending.State == "" {
		t.Errorf("expected non-empty verifier/state, got %+v", pending)
	}
}
