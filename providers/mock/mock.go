// Package mock provides a configurable in-memory provider client for tests.
package mock

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/bitovi/cascade-mcp-sub005/providers"
)

// Client is a test double for providers.Client. Zero value is usable:
// Exchange and Refresh return a static token unless overridden.
type Client struct {
	ProviderName   string
	ProviderScopes []string

	ExchangeFunc func(ctx context.Context, code, codeVerifier, redirectURI string) (*providers.Token, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (*providers.Token, error)

	mu            sync.Mutex
	exchangeCalls []ExchangeCall
	refreshCalls  []string
}

// ExchangeCall records the arguments of one Exchange invocation.
type ExchangeCall struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
}

// Name returns the configured provider name, defaulting to "mock".
func (c *Client) Name() string {
	if c.ProviderName == "" {
		return "mock"
	}
	return c.ProviderName
}

// AuthorizeURL builds a synthetic authorize URL carrying the params.
func (c *Client) AuthorizeURL(p providers.AuthorizeParams) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("state", p.State)
	if p.CodeChallenge != "" {
		q.Set("code_challenge", p.CodeChallenge)
		q.Set("code_challenge_method", p.CodeChallengeMethod)
	}
	return "https://auth.example.com/" + c.Name() + "/authorize?" + q.Encode()
}

// Scopes returns ProviderScopes, defaulting to the static token's scope
// values.
func (c *Client) Scopes() []string {
	if c.ProviderScopes != nil {
		return c.ProviderScopes
	}
	return []string{"read", "write"}
}

// Exchange records the call and returns ExchangeFunc's result, or a
// static token valid for one hour.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*providers.Token, error) {
	c.mu.Lock()
	c.exchangeCalls = append(c.exchangeCalls, ExchangeCall{Code: code, CodeVerifier: codeVerifier, RedirectURI: redirectURI})
	c.mu.Unlock()
	if c.ExchangeFunc != nil {
		return c.ExchangeFunc(ctx, code, codeVerifier, redirectURI)
	}
	return c.staticToken(), nil
}

// Refresh records the call and returns RefreshFunc's result, or a
// static token valid for one hour.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*providers.Token, error) {
	c.mu.Lock()
	c.refreshCalls = append(c.refreshCalls, refreshToken)
	c.mu.Unlock()
	if c.RefreshFunc != nil {
		return c.RefreshFunc(ctx, refreshToken)
	}
	return c.staticToken(), nil
}

// ExchangeCalls returns a copy of the recorded Exchange invocations.
func (c *Client) ExchangeCalls() []ExchangeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExchangeCall, len(c.exchangeCalls))
	copy(out, c.exchangeCalls)
	return out
}

// RefreshCalls returns a copy of the recorded refresh tokens.
func (c *Client) RefreshCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.refreshCalls))
	copy(out, c.refreshCalls)
	return out
}

func (c *Client) staticToken() *providers.Token {
	return &providers.Token{
		AccessToken:  c.Name() + "-access-token",
		RefreshToken: c.Name() + "-refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		Scope:        "read write",
	}
}
