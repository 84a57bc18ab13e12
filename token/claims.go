package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token use values carried in the "token_use" claim.
const (
	UseAccess  = "access_token"
	UseRefresh = "refresh_token"
)

// Credential is an upstream provider credential embedded in a bridge token.
// Refresh-variant bridge tokens carry only the upstream refresh token;
// the upstream access token is never written into a refresh claim set.
type Credential struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // unix seconds
	Scope        string `json:"scope,omitempty"`
}

// Expiry returns the credential expiry as a time, zero if unset.
func (c Credential) Expiry() time.Time {
	if c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.ExpiresAt, 0)
}

// Claims is the bridge token claim set. Two embedded-credential shapes
// exist: the nested Providers map minted by the connection hub, and the
// legacy flat fields minted by the original single-provider flow. Exactly
// one shape is populated per token.
type Claims struct {
	TokenUse string `json:"token_use"`
	Scope    string `json:"scope,omitempty"`

	// Nested multi-provider shape.
	Providers map[string]Credential `json:"providers,omitempty"`

	// Legacy single-provider flat shape.
	Provider             string `json:"provider,omitempty"`
	ProviderAccessToken  string `json:"provider_access_token,omitempty"`
	ProviderRefreshToken string `json:"provider_refresh_token,omitempty"`
	ProviderExpiresAt    int64  `json:"provider_expires_at,omitempty"`

	jwt.RegisteredClaims
}

// IsRefresh reports whether the claim set is a refresh-token variant.
func (c *Claims) IsRefresh() bool {
	return c.TokenUse == UseRefresh
}

// HasCredential reports whether any upstream credential is embedded,
// in either shape. A syntactically valid bridge token without one is
// useless to tool handlers and is rejected by the auth middleware.
func (c *Claims) HasCredential() bool {
	if len(c.Providers) > 0 {
		return true
	}
	return c.ProviderAccessToken != "" || c.ProviderRefreshToken != ""
}

// Credential returns the embedded credential for a provider, consulting
// the nested shape first and falling back to the legacy flat shape.
func (c *Claims) Credential(provider string) (Credential, bool) {
	if cred, ok := c.Providers[provider]; ok {
		return cred, true
	}
	if c.Provider == provider && (c.ProviderAccessToken != "" || c.ProviderRefreshToken != "") {
		return Credential{
			AccessToken:  c.ProviderAccessToken,
			RefreshToken: c.ProviderRefreshToken,
			ExpiresAt:    c.ProviderExpiresAt,
			Scope:        c.Scope,
		}, true
	}
	return Credential{}, false
}

// ProviderNames returns every provider with an embedded credential.
func (c *Claims) ProviderNames() []string {
	if len(c.Providers) > 0 {
		names := make([]string, 0, len(c.Providers))
		for name := range c.Providers {
			names = append(names, name)
		}
		return names
	}
	if c.Provider != "" {
		return []string{c.Provider}
	}
	return nil
}

// EarliestCredentialExpiry returns the soonest expiry among the embedded
// upstream credentials, zero if no credential carries one. Access-token
// TTLs are clamped against this so a bridge token never outlives the
// credential it wraps.
func (c *Claims) EarliestCredentialExpiry() time.Time {
	var earliest time.Time
	consider := func(unix int64) {
		if unix == 0 {
			return
		}
		t := time.Unix(unix, 0)
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	for _, cred := range c.Providers {
		consider(cred.ExpiresAt)
	}
	consider(c.ProviderExpiresAt)
	return earliest
}
