package server

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bitovi/cascade-mcp-sub005/pkce"
	"github.com/bitovi/cascade-mcp-sub005/storage"
	"github.com/bitovi/cascade-mcp-sub005/token"
)

// TokenResponse is the successful token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type tokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// mintTokenPair signs an access/refresh bridge token pair over the
// given upstream credentials. The refresh variant strips upstream
// access tokens: it carries only what a later refresh needs.
func (s *Server) mintTokenPair(ctx context.Context, subject, audience, scope string, creds map[string]token.Credential) (*tokenPair, error) {
	accessClaims := &token.Claims{
		TokenUse:  token.UseAccess,
		Scope:     scope,
		Providers: creds,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Audience: jwt.ClaimStrings{audience},
		},
	}
	access, err := s.codec.Sign(accessClaims, s.codec.AccessTTL())
	if err != nil {
		s.Logger.Error("Failed to sign access token", "error", err)
		return nil, ErrServerError("failed to mint access token")
	}

	refreshCreds := make(map[string]token.Credential, len(creds))
	for name, cred := range creds {
		refreshCreds[name] = token.Credential{
			RefreshToken: cred.RefreshToken,
			Scope:        cred.Scope,
		}
	}
	refreshClaims := &token.Claims{
		TokenUse:  token.UseRefresh,
		Scope:     scope,
		Providers: refreshCreds,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Audience: jwt.ClaimStrings{audience},
		},
	}
	refresh, err := s.codec.Sign(refreshClaims, token.RefreshTTL)
	if err != nil {
		s.Logger.Error("Failed to sign refresh token", "error", err)
		return nil, ErrServerError("failed to mint refresh token")
	}

	return &tokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(accessClaims.ExpiresAt.Time).Seconds()),
	}, nil
}

// ExchangeAuthorizationCode handles grant_type=authorization_code.
//
// A hub-minted code resolves directly to its pre-minted bridge tokens
// after PKCE verification against the challenge the client registered
// at hub start. An upstream code instead triggers the provider exchange
// using the verifier the bridge generated at authorize time; the client
// never presents one on this path.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, codeVerifier, resource string) (*TokenResponse, error) {
	if code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	record, err := s.codeStore.AtomicConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeUsed) {
			s.Logger.Warn("Authorization code replay rejected")
		}
		return nil, ErrInvalidGrant("authorization code is invalid or expired")
	}

	switch record.Kind {
	case storage.CodeKindBridge:
		return s.redeemBridgeCode(ctx, record, codeVerifier)
	case storage.CodeKindUpstream:
		return s.redeemUpstreamCode(ctx, record, resource)
	default:
		return nil, ErrServerError("unknown authorization code kind")
	}
}

func (s *Server) redeemBridgeCode(ctx context.Context, record *storage.AuthorizationCode, codeVerifier string) (*TokenResponse, error) {
	if record.CodeChallenge != "" {
		if codeVerifier == "" {
			return nil, ErrInvalidRequest("code_verifier is required")
		}
		if err := pkce.VerifyS256(record.CodeChallenge, codeVerifier); err != nil {
			s.Instrumentation.RecordAuthFailure(ctx, "pkce_mismatch")
			return nil, ErrInvalidGrant("PKCE verification failed")
		}
	}

	expiresIn := int64(0)
	if claims, err := s.codec.ParseUnverified(record.AccessToken); err == nil && claims.ExpiresAt != nil {
		expiresIn = int64(time.Until(claims.ExpiresAt.Time).Seconds())
	}

	s.Instrumentation.RecordTokenIssued(ctx, "authorization_code", token.UseAccess)
	return &TokenResponse{
		AccessToken:  record.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: record.RefreshToken,
		Scope:        record.Scope,
	}, nil
}

func (s *Server) redeemUpstreamCode(ctx context.Context, record *storage.AuthorizationCode, resource string) (*TokenResponse, error) {
	client, err := s.registry.Get(record.Provider)
	if err != nil {
		return nil, ErrServerError("provider no longer configured")
	}

	upstream, err := client.Exchange(ctx, record.Code, record.CodeVerifier, s.callbackURL())
	s.Instrumentation.RecordUpstreamExchange(ctx, record.Provider, err)
	if err != nil {
		s.Logger.Error("Upstream code exchange failed", "provider", record.Provider, "error", err)
		return nil, ErrInvalidGrant("upstream code exchange failed")
	}

	audience := resource
	if audience == "" {
		audience = record.Resource
	}
	if audience == "" {
		audience = s.Config.BaseURL
	}

	scope := record.Scope
	if scope == "" {
		scope = upstream.Scope
	}

	creds := map[string]token.Credential{
		record.Provider: {
			AccessToken:  upstream.AccessToken,
			RefreshToken: upstream.RefreshToken,
			ExpiresAt:    unixOrZero(upstream.ExpiresAt),
			Scope:        upstream.Scope,
		},
	}

	pair, err := s.mintTokenPair(ctx, uuid.NewString(), audience, scope, creds)
	if err != nil {
		return nil, err
	}

	s.Instrumentation.RecordTokenIssued(ctx, "authorization_code", token.UseAccess)
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
		Scope:        scope,
	}, nil
}

// RefreshAccessToken handles grant_type=refresh_token. The presented
// bridge refresh token is verified (type claim and expiry, regardless
// of the permissive access-token policy), every embedded upstream
// refresh token is rolled at its provider, and a new pair is minted
// preserving sub, iss, aud, and scope from the original. A resource
// parameter overrides the audience per RFC 8707.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, resource string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	claims, err := s.codec.VerifyUse(refreshToken, token.UseRefresh)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrInvalidGrant("refresh token is expired")
		case errors.Is(err, token.ErrWrongUse):
			return nil, ErrInvalidGrant("token is not a refresh token")
		default:
			return nil, ErrInvalidGrant("refresh token is invalid")
		}
	}

	names := claims.ProviderNames()
	if len(names) == 0 {
		return nil, ErrInvalidGrant("refresh token carries no provider credential")
	}

	creds := make(map[string]token.Credential, len(names))
	for _, name := range names {
		cred, _ := claims.Credential(name)
		if cred.RefreshToken == "" {
			return nil, ErrInvalidGrant("no upstream refresh token for provider " + name)
		}
		client, err := s.registry.Get(name)
		if err != nil {
			return nil, ErrServerError("provider no longer configured: " + name)
		}

		upstream, err := client.Refresh(ctx, cred.RefreshToken)
		s.Instrumentation.RecordUpstreamRefresh(ctx, name, err)
		if err != nil {
			s.Logger.Error("Upstream refresh failed", "provider", name, "error", err)
			return nil, ErrInvalidGrant("upstream token refresh failed")
		}

		creds[name] = token.Credential{
			AccessToken:  upstream.AccessToken,
			RefreshToken: upstream.RefreshToken,
			ExpiresAt:    unixOrZero(upstream.ExpiresAt),
			Scope:        upstream.Scope,
		}
	}

	subject, _ := claims.GetSubject()
	audience := resource
	if audience == "" {
		if aud, _ := claims.GetAudience(); len(aud) > 0 {
			audience = aud[0]
		} else {
			audience = s.Config.BaseURL
		}
	}

	pair, err := s.mintTokenPair(ctx, subject, audience, claims.Scope, creds)
	if err != nil {
		return nil, err
	}

	s.Instrumentation.RecordTokenIssued(ctx, "refresh_token", token.UseAccess)
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
		Scope:        claims.Scope,
	}, nil
}
