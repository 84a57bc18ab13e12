// Package atlassian implements the Atlassian cloud OAuth provider.
package atlassian

import (
	"net/http"

	"github.com/bitovi/cascade-mcp-sub005/providers"
)

const (
	// Name identifies the provider.
	Name = "atlassian"

	authURL  = "https://auth.atlassian.com/authorize"
	tokenURL = "https://auth.atlassian.com/oauth/token"

	// audience is required by Atlassian for API access via OAuth 2.0 (3LO).
	audience = "api.atlassian.com"
)

// DefaultScopes cover Jira and Confluence read/write plus offline_access,
// which Atlassian requires for refresh tokens.
var DefaultScopes = []string{
	"read:jira-work",
	"write:jira-work",
	"read:jira-user",
	"read:confluence-content.all",
	"write:confluence-content",
	"offline_access",
}

// Config holds the Atlassian app credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// New creates the Atlassian provider client.
func New(cfg Config) (providers.Client, error) {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return providers.NewOAuth2Client(providers.OAuth2ClientConfig{
		Name:         Name,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		AuthParams: map[string]string{
			"audience": audience,
			"prompt":   "consent",
		},
		HTTPClient: cfg.HTTPClient,
	})
}
