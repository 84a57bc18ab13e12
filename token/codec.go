// Package token signs, verifies, and classifies the bridge's bearer tokens.
// A bridge token is an HMAC-SHA256 JWT whose claim set embeds the upstream
// provider credentials it wraps.
package token

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Classification errors returned by Verify. Callers map these onto the
// OAuth wire taxonomy (401 invalid_token et al).
var (
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrWrongUse         = errors.New("token_use claim does not match expected use")

	// ErrMissingCredential marks a syntactically valid bridge token
	// that embeds no upstream credential. Raised by the auth middleware
	// rather than the codec itself.
	ErrMissingCredential = errors.New("token carries no provider credential")
)

const (
	// DefaultAccessTTL caps access-token lifetime when the upstream
	// credential carries no expiry of its own.
	DefaultAccessTTL = time.Hour

	// RefreshTTL is the refresh-token lifetime. Deliberately much longer
	// than any upstream access token; the refresh variant embeds only
	// upstream refresh tokens, which do not age out on this scale.
	RefreshTTL = 30 * 24 * time.Hour

	// ExpiryMargin is the minimum gap between a bridge access token's
	// expiry and the earliest embedded upstream credential expiry.
	ExpiryMargin = 60 * time.Second
)

// Config configures a Codec.
type Config struct {
	// Secret is the symmetric signing key. Required.
	Secret []byte

	// Issuer is written into (and checked against) the iss claim.
	Issuer string

	// StrictExpiry enables exp validation on Verify. The default is
	// permissive: some protocol clients respond to an expired-token
	// error by abandoning their refresh flow entirely instead of
	// re-running it, which leaves the user wedged. With StrictExpiry
	// off the signature is still always checked; only the exp claim is
	// ignored. Enable strict mode to exercise refresh behavior.
	StrictExpiry bool

	// AccessTTL overrides DefaultAccessTTL when positive.
	AccessTTL time.Duration

	Logger *slog.Logger
}

// Codec signs and verifies bridge tokens with a process-wide symmetric key.
type Codec struct {
	secret       []byte
	issuer       string
	strictExpiry bool
	accessTTL    time.Duration
	logger       *slog.Logger
}

// NewCodec creates a Codec. The secret must be non-empty.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{
		secret:       cfg.Secret,
		issuer:       cfg.Issuer,
		strictExpiry: cfg.StrictExpiry,
		accessTTL:    accessTTL,
		logger:       logger,
	}, nil
}

// StrictExpiry reports whether exp validation is enabled.
func (c *Codec) StrictExpiry() bool { return c.strictExpiry }

// AccessTTL returns the configured access-token lifetime cap.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// Sign stamps iss/iat/exp onto the claim set and returns the signed compact
// encoding. The ttl is clamped for access tokens so that the token expires
// at least ExpiryMargin before the earliest embedded upstream credential.
func (c *Codec) Sign(claims *Claims, ttl time.Duration) (string, error) {
	if claims.TokenUse != UseAccess && claims.TokenUse != UseRefresh {
		return "", fmt.Errorf("token_use must be %q or %q, got %q", UseAccess, UseRefresh, claims.TokenUse)
	}
	now := time.Now()
	expiry := now.Add(ttl)

	if claims.TokenUse == UseAccess {
		if upstream := claims.EarliestCredentialExpiry(); !upstream.IsZero() {
			ceiling := upstream.Add(-ExpiryMargin)
			if expiry.After(ceiling) {
				expiry = ceiling
			}
			if !expiry.After(now) {
				return "", fmt.Errorf("upstream credential expires too soon to mint an access token (upstream exp %s)", upstream.Format(time.RFC3339))
			}
		}
	}

	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiry)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign bridge token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and issuer, plus the exp claim in strict
// mode. It returns the claim set on success or a classification error.
func (c *Codec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// Issuer and expiry are enforced manually below so that
		// permissive mode can skip exp while checking everything else.
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if iss, _ := claims.GetIssuer(); iss != c.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidSignature)
	}

	if c.strictExpiry {
		if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			return nil, fmt.Errorf("%w: token expired at %s", ErrExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
		}
	}

	return claims, nil
}

// VerifyUse verifies the token and additionally requires a token_use value.
// Refresh grants use this to reject access tokens presented as refresh
// tokens; refresh tokens are always expiry-checked regardless of the
// permissive access-token policy.
func (c *Codec) VerifyUse(raw, use string) (*Claims, error) {
	claims, err := c.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != use {
		return nil, fmt.Errorf("%w: want %q, got %q", ErrWrongUse, use, claims.TokenUse)
	}
	if use == UseRefresh {
		if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			return nil, fmt.Errorf("%w: refresh token expired", ErrExpired)
		}
	}
	return claims, nil
}

// ParseUnverified decodes a claim set without any signature or validity
// check. Non-authoritative: used only for logging and UX such as showing
// "expires in 12m" on the manual-token page. Never feed the result into an
// authorization decision.
func (c *Codec) ParseUnverified(raw string) (*Claims, error) {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}
