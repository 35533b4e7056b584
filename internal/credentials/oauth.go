package credentials

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/browser"

	"github.com/openpista/openpista/internal/agent"
	"github.com/openpista/openpista/pkg/models"
)

// Endpoints describes a single OAuth provider's PKCE endpoints, scope,
// and redirect path, analogous to the teacher's OAuthProviderConfig.
type Endpoints struct {
	AuthURL      string
	TokenURL     string
	Scope        string
	RedirectPath string
	// ExtraParams are provider-specific query parameters (e.g.
	// id_token_add_organizations=true) appended after the standard ones;
	// keys are written as given and values are percent-encoded.
	ExtraParams map[string]string
}

// tokenResponse is the OAuth token endpoint's JSON response shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    *int64 `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (t tokenResponse) toCredential() models.ProviderCredential {
	cred := models.ProviderCredential{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	if t.ExpiresIn != nil {
		expiry := timeNowUTC().Add(time.Duration(*t.ExpiresIn) * time.Second)
		cred.ExpiresAt = &expiry
	}
	return cred
}

// timeNowUTC is a seam so tests could substitute a fixed clock; production
// code always calls the real time package.
var timeNowUTC = func() time.Time { return timeNow().UTC() }

// buildAuthURL appends PKCE and CSRF parameters (plus any provider extra
// params) onto endpoints.AuthURL, percent-encoding every value.
func buildAuthURL(endpoints Endpoints, clientID, redirectURI, codeChallenge, state string, extraQuery string) string {
	var b strings.Builder
	b.WriteString(endpoints.AuthURL)
	b.WriteByte('?')
	b.WriteString("response_type=code")
	b.WriteString("&client_id=" + percentEncode(clientID))
	b.WriteString("&redirect_uri=" + percentEncode(redirectURI))
	b.WriteString("&scope=" + percentEncode(endpoints.Scope))
	b.WriteString("&code_challenge=" + percentEncode(codeChallenge))
	b.WriteString("&code_challenge_method=S256")
	b.WriteString("&state=" + percentEncode(state))
	for k, v := range endpoints.ExtraParams {
		b.WriteString("&" + k + "=" + percentEncode(v))
	}
	if extraQuery != "" {
		b.WriteString(extraQuery)
	}
	return b.String()
}

// authURLOrigin extracts the scheme+host origin from a URL, e.g.
// "https://example.com/oauth/authorize" -> "https://example.com".
func authURLOrigin(u string) string {
	afterScheme := 0
	if idx := strings.Index(u, "://"); idx >= 0 {
		afterScheme = idx + 3
	}
	rest := u[afterScheme:]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return u[:afterScheme+idx]
	}
	return u
}

// RefreshAccessToken exchanges a stored refresh_token for a new access
// token using the standard form-encoded refresh grant. It is the
// RefreshFunc implementation providers pass to Resolve.
func RefreshAccessToken(ctx context.Context, tokenURL, clientID, refreshToken string) (models.ProviderCredential, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.ProviderCredential{}, agent.WrapLlmError(agent.KindOAuthProvider, "build refresh request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doTokenExchange(req)
}

// exchangeCodeForm exchanges an authorization code for tokens using the
// standard form-encoded grant (localhost callback flow).
func exchangeCodeForm(ctx context.Context, tokenURL, clientID, code, redirectURI, codeVerifier string) (models.ProviderCredential, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.ProviderCredential{}, agent.WrapLlmError(agent.KindOAuthProvider, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doTokenExchange(req)
}

// exchangeCodeJSON exchanges an authorization code for tokens using a
// JSON body (code-display flow).
func exchangeCodeJSON(ctx context.Context, tokenURL, clientID, code, redirectURI, codeVerifier, state string) (models.ProviderCredential, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"state":         state,
		"client_id":     clientID,
		"redirect_uri":  redirectURI,
		"code_verifier": codeVerifier,
	})
	if err != nil {
		return models.ProviderCredential{}, agent.WrapLlmError(agent.KindOAuthProvider, "encode token request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return models.ProviderCredential{}, agent.WrapLlmError(agent.KindOAuthProvider, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doTokenExchange(req)
}

func doTokenExchange(req *http.Request) (models.ProviderCredential, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.ProviderCredential{}, agent.WrapLlmError(agent.KindOAuthProvider, "token exchange request failed", err)
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return models.ProviderCredential{}, agent.WrapLlmError(agent.KindOAuthProvider, "decode token response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.ProviderCredential{}, agent.ApiError("token endpoint returned status %d", resp.StatusCode)
	}
	return tok.toCredential(), nil
}

// sanitizeAuthCode strips whitespace and any trailing URL fragment from a
// pasted authorization code.
func sanitizeAuthCode(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if idx := strings.IndexByte(trimmed, '#'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// --- Localhost callback flow ---

// LoginLocalhostCallback runs the full PKCE browser login flow: it opens
// the authorization URL in the system browser, waits up to timeout for a
// single HTTP GET on 127.0.0.1:callbackPort, verifies the CSRF state, and
// exchanges the returned code for tokens.
func LoginLocalhostCallback(ctx context.Context, endpoints Endpoints, clientID string, callbackPort int, timeout time.Duration) (models.ProviderCredential, error) {
	codeVerifier, err := GenerateCodeVerifier()
	if err != nil {
		return models.ProviderCredential{}, err
	}
	codeChallenge := ComputeCodeChallenge(codeVerifier)
	state, err := GenerateState()
	if err != nil {
		return models.ProviderCredential{}, err
	}
	redirectURI := fmt.Sprintf("http://localhost:%d%s", callbackPort, endpoints.RedirectPath)
	authURL := buildAuthURL(endpoints, clientID, redirectURI, codeChallenge, state, "")

	_ = browser.OpenURL(authURL)

	params, err := receiveCallback(ctx, callbackPort, timeout)
	if err != nil {
		return models.ProviderCredential{}, err
	}

	if params.Get("state") != state {
		return models.ProviderCredential{}, agent.NewLlmError(agent.KindCSRF, "OAuth state mismatch — possible CSRF attack; aborting")
	}
	if errParam := params.Get("error"); errParam != "" {
		desc := params.Get("error_description")
		return models.ProviderCredential{}, agent.NewLlmError(agent.KindOAuthProvider, fmt.Sprintf("provider returned OAuth error %q: %s", errParam, desc))
	}
	code := params.Get("code")
	if code == "" {
		return models.ProviderCredential{}, agent.NewLlmError(agent.KindOAuthProvider, "no authorization code in callback")
	}

	return exchangeCodeForm(ctx, endpoints.TokenURL, clientID, code, redirectURI, codeVerifier)
}

// receiveCallback binds a one-shot HTTP listener on 127.0.0.1:port, opens
// nothing itself (the caller already opened the browser), and returns the
// query parameters of the first incoming GET request.
func receiveCallback(ctx context.Context, port int, timeout time.Duration) (url.Values, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, agent.WrapLlmError(agent.KindConnectionFailed, fmt.Sprintf("failed to bind OAuth callback port %d", port), err)
	}
	defer ln.Close()

	type result struct {
		params url.Values
		err    error
	}
	done := make(chan result, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- result{err: agent.WrapLlmError(agent.KindConnectionFailed, "failed to accept callback connection", err)}
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		requestLine, err := reader.ReadString('\n')
		if err != nil {
			done <- result{err: agent.WrapLlmError(agent.KindConnectionFailed, "failed to read callback request", err)}
			return
		}

		params := parseCallbackParams(requestLine)

		body := "<html><body><h2>&#10007; Authentication failed</h2><p>No authorization code received. You may close this tab.</p></body></html>"
		if params.Get("code") != "" {
			body = "<html><body><h2>&#10003; Authentication successful</h2><p>You may close this tab and return to the terminal.</p></body></html>"
		}
		response := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/html; charset=utf-8\r\nConnection: close\r\n\r\n%s", body)
		_, _ = conn.Write([]byte(response))

		done <- result{params: params}
	}()

	select {
	case <-ctx.Done():
		return nil, agent.WrapLlmError(agent.KindConnectionFailed, "authorization canceled", ctx.Err())
	case <-timeAfter(timeout):
		return nil, agent.NewLlmError(agent.KindConnectionFailed, "authorization timed out — no callback received within the time limit")
	case r := <-done:
		return r.params, r.err
	}
}

// parseCallbackParams extracts query parameters from the request line of
// an HTTP GET, e.g. "GET /callback?code=X&state=Y HTTP/1.1".
func parseCallbackParams(requestLine string) url.Values {
	params := url.Values{}
	fields := strings.Fields(requestLine)
	if len(fields) < 2 {
		return params
	}
	path := fields[1]
	query, ok := splitOnce(path, '?')
	if !ok {
		return params
	}
	for _, kv := range strings.Split(query, "&") {
		k, v, ok := splitOnceEq(kv)
		if !ok {
			continue
		}
		params.Set(k, percentDecode(v))
	}
	return params
}

func splitOnce(s string, sep byte) (string, bool) {
	idx := strings.IndexByte(s, sep)
	if idx < 0 {
		return "", false
	}
	return s[idx+1:], true
}

func splitOnceEq(kv string) (string, string, bool) {
	idx := strings.IndexByte(kv, '=')
	if idx < 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}

// --- Code-display flow ---

// PendingCodeDisplay holds the state generated when starting the
// code-display OAuth flow, needed later to complete the exchange once the
// user pastes back an authorization code.
type PendingCodeDisplay struct {
	AuthURL      string
	CodeVerifier string
	State        string
	RedirectURI  string
	TokenURL     string
	ClientID     string
}

// StartCodeDisplayFlow builds the authorization URL for the code-display
// variant (redirect URI derived from the auth URL's own origin), opens it
// in the system browser, and returns the pending state needed to complete
// the exchange.
func StartCodeDisplayFlow(endpoints Endpoints, clientID string) (PendingCodeDisplay, error) {
	codeVerifier, err := GenerateCodeVerifier()
	if err != nil {
		return PendingCodeDisplay{}, err
	}
	codeChallenge := ComputeCodeChallenge(codeVerifier)
	state, err := GenerateState()
	if err != nil {
		return PendingCodeDisplay{}, err
	}
	redirectURI := authURLOrigin(endpoints.AuthURL) + endpoints.RedirectPath
	authURL := buildAuthURL(endpoints, clientID, redirectURI, codeChallenge, state, "&code=true")

	_ = browser.OpenURL(authURL)

	return PendingCodeDisplay{
		AuthURL:      authURL,
		CodeVerifier: codeVerifier,
		State:        state,
		RedirectURI:  redirectURI,
		TokenURL:     endpoints.TokenURL,
		ClientID:     clientID,
	}, nil
}

// CompleteCodeDisplayFlow exchanges a user-pasted authorization code
// (which may carry a trailing URL fragment) for tokens.
func CompleteCodeDisplayFlow(ctx context.Context, pending PendingCodeDisplay, code string) (models.ProviderCredential, error) {
	clean := sanitizeAuthCode(code)
	return exchangeCodeJSON(ctx, pending.TokenURL, pending.ClientID, clean, pending.RedirectURI, pending.CodeVerifier, pending.State)
}

// timeAfter and timeNow are indirections over the time package so tests
// can exercise timeout paths deterministically if ever needed; production
// always uses the real clock.
var (
	timeAfter = time.After
	timeNow   = time.Now
)
