// Package figma implements the Figma OAuth provider.
package figma

import (
	"net/http"

	"github.com/bitovi/cascade-mcp-sub005/providers"
)

const (
	// Name identifies the provider.
	Name = "figma"

	authURL  = "https://www.figma.com/oauth"
	tokenURL = "https://api.figma.com/v1/oauth/token"
)

// DefaultScopes grant read access to files and projects.
var DefaultScopes = []string{"files:read", "file_dev_resources:read"}

// Config holds the Figma app credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// New creates the Figma provider client.
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
		HTTPClient:   cfg.HTTPClient,
	})
}
