// Package pkce implements the Proof Key for Code Exchange primitives (RFC 7636)
// used on both legs of the bridge: the protocol client's challenge against the
// bridge and the bridge's own verifier against upstream providers.
package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	// MethodS256 is the only supported code challenge method.
	// The "plain" method is rejected everywhere (OAuth 2.1).
	MethodS256 = "S256"

	// MinVerifierLength and MaxVerifierLength are the RFC 7636 bounds
	// for code_verifier values.
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// GenerateVerifier returns a new high-entropy URL-safe code verifier.
// oauth2.GenerateVerifier produces 32 random bytes base64url-encoded,
// which satisfies the RFC 7636 length bounds.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// ChallengeS256 derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)) without padding.
func ChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyS256 checks a verifier against an S256 challenge.
func VerifyS256(challenge, verifier string) error {
	if err := ValidateVerifier(verifier); err != nil {
		return err
	}
	sum := sha256.Sum256([]byte(verifier))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// ValidateVerifier enforces the RFC 7636 length and character constraints.
func ValidateVerifier(verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}
	if len(verifier) < MinVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinVerifierLength)
	}
	if len(verifier) > MaxVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxVerifierLength)
	}
	for _, ch := range verifier {
		valid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !valid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}
	return nil
}
