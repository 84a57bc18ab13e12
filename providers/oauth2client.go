package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Client implements Client on top of golang.org/x/oauth2. Provider
// subpackages construct one with their endpoints and any static authorize
// parameters (audience, prompt, access_type) the provider requires.
type OAuth2Client struct {
	name       string
	config     *oauth2.Config
	authParams []oauth2.AuthCodeOption
	httpClient *http.Client
}

// OAuth2ClientConfig configures an OAuth2Client.
type OAuth2ClientConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL  string
	TokenURL string

	// RedirectURL, when set, is sent to the provider on every leg in
	// place of the per-request callback URL.
	RedirectURL string
	Scopes      []string

	// AuthParams are static extra query parameters appended to every
	// authorize URL (e.g. Atlassian's audience, Google's access_type).
	AuthParams map[string]string

	// HTTPClient overrides the default 30s-timeout client.
	HTTPClient *http.Client
}

// NewOAuth2Client validates the config and builds the client.
func NewOAuth2Client(cfg OAuth2ClientConfig) (*OAuth2Client, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%s: client ID is required", cfg.Name)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%s: client secret is required", cfg.Name)
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("%s: authorize and token URLs are required", cfg.Name)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	var authParams []oauth2.AuthCodeOption
	for k, v := range cfg.AuthParams {
		authParams = append(authParams, oauth2.SetAuthURLParam(k, v))
	}

	return &OAuth2Client{
		name: cfg.Name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		authParams: authParams,
		httpClient: httpClient,
	}, nil
}

// Name returns the provider name.
func (c *OAuth2Client) Name() string { return c.name }

// Scopes returns the configured scope strings.
func (c *OAuth2Client) Scopes() []string {
	out := make([]string, len(c.config.Scopes))
	copy(out, c.config.Scopes)
	return out
}

// withRedirect resolves the redirect URI for one request. A configured
// RedirectURL always wins so that deployments fronted by a different
// public host keep their registered redirect; otherwise the caller's
// derived callback URL applies.
func (c *OAuth2Client) withRedirect(redirectURI string) *oauth2.Config {
	if c.config.RedirectURL != "" || redirectURI == "" {
		return c.config
	}
	tmp := *c.config
	tmp.RedirectURL = redirectURI
	return &tmp
}

// AuthorizeURL builds the provider authorize URL.
func (c *OAuth2Client) AuthorizeURL(p AuthorizeParams) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(c.authParams)+3)
	opts = append(opts, c.authParams...)

	if p.CodeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", p.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", p.CodeChallengeMethod),
		)
	}
	if p.ResponseType != "" && p.ResponseType != "code" {
		opts = append(opts, oauth2.SetAuthURLParam("response_type", p.ResponseType))
	}

	return c.withRedirect(p.RedirectURI).AuthCodeURL(p.State, opts...)
}

// Exchange swaps an authorization code for upstream tokens.
func (c *OAuth2Client) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*Token, error) {
	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.withRedirect(redirectURI).Exchange(ctx, code, opts...)
	if err != nil {
		return nil, c.wrapRetrieveError("code exchange", err)
	}
	return c.fromOAuth2(tok), nil
}

// Refresh swaps an upstream refresh token for a new token record.
func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.wrapRetrieveError("refresh", err)
	}
	out := c.fromOAuth2(tok)
	// Some providers omit the refresh token on rotation responses.
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func (c *OAuth2Client) fromOAuth2(tok *oauth2.Token) *Token {
	scope := strings.Join(c.config.Scopes, " ")
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		scope = s
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        scope,
	}
}

func (c *OAuth2Client) wrapRetrieveError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &ExchangeError{Provider: c.name, Status: status, Body: string(re.Body)}
	}
	return fmt.Errorf("%s %s failed: %w", c.name, op, err)
}
