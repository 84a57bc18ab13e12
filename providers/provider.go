// Package providers defines the upstream OAuth client interface and the
// token record the bridge embeds into its own tokens.
//
// Implementations are provided in subpackages:
//   - providers/atlassian: Atlassian (Jira/Confluence) OAuth 2.0 (3LO)
//   - providers/figma: Figma OAuth 2.0
//   - providers/google: Google OAuth 2.0
//   - providers/mock: in-process provider for tests
package providers

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Client is the capability interface every upstream provider implements.
// The set of variants is closed and selected at startup by configuration.
type Client interface {
	// Name returns the provider name (e.g. "atlassian", "figma", "google").
	Name() string

	// AuthorizeURL builds the provider's authorization URL for a
	// browser redirect.
	AuthorizeURL(p AuthorizeParams) string

	// Exchange swaps an authorization code for upstream tokens.
	// codeVerifier may be empty when the provider leg does not use PKCE
	// (the connection hub's confidential-client exchange).
	// Fails with *ExchangeError on a non-2xx upstream response.
	Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*Token, error)

	// Refresh swaps an upstream refresh token for a fresh token record.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// AuthorizeParams carries the parameters for building an authorize URL.
// The scope is deliberately absent: each provider sends its own
// configured scope string, never one relayed from a protocol client.
type AuthorizeParams struct {
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	ResponseType        string // defaults to "code"
}

// Token is an upstream token record, held only transiently until embedded
// into a bridge token.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// ExchangeError reports a failed code or refresh exchange at the provider.
type ExchangeError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("%s token exchange failed with status %d: %s", e.Provider, e.Status, truncate(e.Body, 200))
}

// CallbackParams extracts the code and state from an upstream callback
// query. Query decoding turns "+" back into a space inside state values;
// the substitution is undone here so callers compare against the stored
// flow state verbatim.
func CallbackParams(q url.Values) (code, state string) {
	code = q.Get("code")
	state = q.Get("state")
	if state != "" {
		state = normalizePlus(state)
	}
	return code, state
}

func normalizePlus(s string) string {
	out := []byte(s)
	for i := range out {
		if out[i] == ' ' {
			out[i] = '+'
		}
	}
	return string(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
