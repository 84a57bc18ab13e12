package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newTestClient(t *testing.T, tokenURL string) *OAuth2Client {
	t.Helper()
	c, err := NewOAuth2Client(OAuth2ClientConfig{
		Name:         "testprov",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://auth.example.com/authorize",
		TokenURL:     tokenURL,
		Scopes:       []string{"read", "write"},
		AuthParams:   map[string]string{"audience": "api.example.com"},
	})
	if err != nil {
		t.Fatalf("NewOAuth2Client() error = %v", err)
	}
	return c
}

func TestNewOAuth2ClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  OAuth2ClientConfig
	}{
		{"missing name", OAuth2ClientConfig{ClientID: "a", ClientSecret: "b", AuthURL: "c", TokenURL: "d"}},
		{"missing client id", OAuth2ClientConfig{Name: "p", ClientSecret: "b", AuthURL: "c", TokenURL: "d"}},
		{"missing client secret", OAuth2ClientConfig{Name: "p", ClientID: "a", AuthURL: "c", TokenURL: "d"}},
		{"missing endpoints", OAuth2ClientConfig{Name: "p", ClientID: "a", ClientSecret: "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewOAuth2Client(tt.cfg); err == nil {
				t.Error("NewOAuth2Client() accepted invalid config")
			}
		})
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := newTestClient(t, "https://auth.example.com/token")

	raw := c.AuthorizeURL(AuthorizeParams{
		RedirectURI:         "https://bridge.example.com/auth/callback/testprov",
		CodeChallenge:       "challenge-value",
		CodeChallengeMethod: "S256",
		State:               "state-value",
		ResponseType:        "code",
	})

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing authorize URL: %v", err)
	}
	q := u.Query()

	want := map[string]string{
		"client_id":             "client-id",
		"redirect_uri":          "https://bridge.example.com/auth/callback/testprov",
		"response_type":         "code",
		"state":                 "state-value",
		"code_challenge":        "challenge-value",
		"code_challenge_method": "S256",
		"audience":              "api.example.com",
		"scope":                 "read write",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("authorize URL %s = %q, want %q", k, got, v)
		}
	}
}

func TestScopes(t *testing.T) {
	c := newTestClient(t, "https://auth.example.com/token")

	scopes := c.Scopes()
	if len(scopes) != 2 || scopes[0] != "read" || scopes[1] != "write" {
		t.Errorf("Scopes() = %v, want [read write]", scopes)
	}

	// The returned slice must not alias the config.
	scopes[0] = "mutated"
	if got := c.Scopes(); got[0] != "read" {
		t.Errorf("Scopes() after caller mutation = %v", got)
	}
}

func TestConfiguredRedirectURLWins(t *testing.T) {
	var gotForm url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.Form
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "upstream-access",
			"token_type":   "Bearer",
		})
	}))
	defer ts.Close()

	c, err := NewOAuth2Client(OAuth2ClientConfig{
		Name:         "testprov",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://auth.example.com/authorize",
		TokenURL:     ts.URL,
		RedirectURL:  "https://edge.example.com/oauth/return",
	})
	if err != nil {
		t.Fatalf("NewOAuth2Client() error = %v", err)
	}

	raw := c.AuthorizeURL(AuthorizeParams{RedirectURI: "https://bridge.example.com/callback"})
	u, _ := url.Parse(raw)
	if got := u.Query().Get("redirect_uri"); got != "https://edge.example.com/oauth/return" {
		t.Errorf("authorize redirect_uri = %q, want the configured override", got)
	}

	if _, err := c.Exchange(context.Background(), "the-code", "", "https://bridge.example.com/callback"); err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if got := gotForm.Get("redirect_uri"); got != "https://edge.example.com/oauth/return" {
		t.Errorf("exchange redirect_uri = %q, want the configured override", got)
	}
}

func TestExchange(t *testing.T) {
	var gotForm url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing token request form: %v", err)
		}
		gotForm = r.Form
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "upstream-access",
			"refresh_token": "upstream-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "read",
		})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	tok, err := c.Exchange(context.Background(), "the-code", "the-verifier", "https://bridge.example.com/callback")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if tok.AccessToken != "upstream-access" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	if tok.RefreshToken != "upstream-refresh" {
		t.Errorf("RefreshToken = %q", tok.RefreshToken)
	}
	if tok.Scope != "read" {
		t.Errorf("Scope = %q, want the response scope", tok.Scope)
	}
	if tok.ExpiresAt.IsZero() {
		t.Error("ExpiresAt is zero, want it derived from expires_in")
	}

	if got := gotForm.Get("code"); got != "the-code" {
		t.Errorf("form code = %q", got)
	}
	if got := gotForm.Get("code_verifier"); got != "the-verifier" {
		t.Errorf("form code_verifier = %q", got)
	}
	if got := gotForm.Get("grant_type"); got != "authorization_code" {
		t.Errorf("form grant_type = %q", got)
	}
	if got := gotForm.Get("redirect_uri"); got != "https://bridge.example.com/callback" {
		t.Errorf("form redirect_uri = %q", got)
	}
}

func TestExchangeUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	_, err := c.Exchange(context.Background(), "bad-code", "", "")
	if err == nil {
		t.Fatal("Exchange() succeeded against a failing provider")
	}

	var ee *ExchangeError
	if !errors.As(err, &ee) {
		t.Fatalf("error type = %T, want *ExchangeError", err)
	}
	if ee.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", ee.Status, http.StatusBadRequest)
	}
	if ee.Provider != "testprov" {
		t.Errorf("Provider = %q, want testprov", ee.Provider)
	}
}

func TestRefresh(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.Form.Get("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q, want old-refresh", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	tok, err := c.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tok.AccessToken != "fresh-access" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	// The provider omitted a rotated refresh token; the old one must
	// carry forward so later refreshes still work.
	if tok.RefreshToken != "old-refresh" {
		t.Errorf("RefreshToken = %q, want the preserved old-refresh", tok.RefreshToken)
	}
}

func TestCallbackParams(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  string
		wantState string
	}{
		{"plain", "code=abc&state=xyz", "abc", "xyz"},
		{"state with decoded plus", "code=abc&state=x%20z", "abc", "x+z"},
		{"missing state", "code=abc", "abc", ""},
		{"missing code", "state=xyz", "", "xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parsing query: %v", err)
			}
			code, state := CallbackParams(q)
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if state != tt.wantState {
				t.Errorf("state = %q, want %q", state, tt.wantState)
			}
		})
	}
}
