// Package google implements the Google OAuth provider.
package google

import (
	"net/http"

	"golang.org/x/oauth2/google"

	"github.com/bitovi/cascade-mcp-sub005/providers"
)

// Name identifies the provider.
const Name = "google"

// DefaultScopes request identity plus Drive read access.
var DefaultScopes = []string{
	"openid",
	"email",
	"profile",
	"https://www.googleapis.com/auth/drive.readonly",
}

// Config holds the Google app credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// New creates the Google provider client. Offline access and forced
// consent are requested so Google returns a refresh token on every
// authorization.
func New(cfg Config) (providers.Client, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return providers.NewOAuth2Client(providers.OAuth2ClientConfig{
		Name:         Name,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      google.Endpoint.AuthURL,
		TokenURL:     google.Endpoint.TokenURL,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		AuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		HTTPClient: cfg.HTTPClient,
	})
}
