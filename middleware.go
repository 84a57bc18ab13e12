package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bitovi/cascade-mcp-sub005/security"
	"github.com/bitovi/cascade-mcp-sub005/token"
)

// authError pairs an OAuth error code with a description for 401s.
type authError struct {
	code        string
	description string
}

func (e *authError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.description)
}

// AuthCode and AuthDescription let the session manager recover the
// OAuth error parameters for its own 401s.
func (e *authError) AuthCode() string        { return e.code }
func (e *authError) AuthDescription() string { return e.description }

// Authenticate extracts and verifies a bearer token, trying the
// Authorization header first and then the token query parameter. The
// query fallback exists for the notification stream: it is a long-lived
// GET some clients cannot attach headers to.
//
// Only access-variant bridge tokens authenticate requests: a refresh
// token is for the token endpoint and is rejected here even though its
// signature verifies. A verified token that embeds no upstream provider
// credential is rejected too; such a token is useless to every
// downstream handler.
func (h *Handler) Authenticate(r *http.Request) (*token.AuthContext, error) {
	raw, source := extractBearer(r)
	if raw == "" {
		h.inst.RecordAuthFailure(r.Context(), "missing_token")
		return nil, &authError{
			code:        ErrorCodeInvalidToken,
			description: "No bearer token found in Authorization header or token query parameter",
		}
	}

	claims, err := h.server.Codec().Verify(raw)
	if err != nil {
		h.inst.RecordAuthFailure(r.Context(), authFailureReason(err))
		h.logger.Warn("Token validation failed", "ip", requestIP(r), "error", err)
		if errors.Is(err, token.ErrExpired) {
			return nil, &authError{
				code:        ErrorCodeInvalidToken,
				description: "Token is expired",
			}
		}
		return nil, &authError{
			code:        ErrorCodeInvalidToken,
			description: "Token validation failed",
		}
	}

	if claims.IsRefresh() {
		h.inst.RecordAuthFailure(r.Context(), "refresh_as_bearer")
		h.logger.Warn("Refresh token presented as bearer token", "ip", requestIP(r))
		return nil, &authError{
			code:        ErrorCodeInvalidToken,
			description: "Refresh tokens cannot be used as bearer tokens",
		}
	}

	if !claims.HasCredential() {
		h.inst.RecordAuthFailure(r.Context(), "missing_credential")
		return nil, &authError{
			code: ErrorCodeInvalidToken,
			description: fmt.Sprintf(
				"Token from %s carries no provider credential (checked Authorization header and token query parameter)",
				source),
		}
	}

	return &token.AuthContext{Claims: claims, Raw: raw}, nil
}

// RequireAuth wraps a handler with bearer-token authentication. The
// verified AuthContext rides on the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := h.Authenticate(r)
		if err != nil {
			h.serveAuthError(w, r, "", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(token.WithAuthContext(r.Context(), ac)))
	})
}

// WriteUnauthorized exposes the shared 401 construction to the session
// manager, which learns the protocol client's name from initialize
// bodies and must pass it along for the challenge-parameter quirk.
func (h *Handler) WriteUnauthorized(w http.ResponseWriter, r *http.Request, clientName, code, description string) {
	h.writeUnauthorized(w, r, clientName, code, description)
}

// serveAuthError answers a failed Authenticate call.
func (h *Handler) serveAuthError(w http.ResponseWriter, r *http.Request, clientName string, err error) {
	var ae *authError
	if errors.As(err, &ae) {
		h.writeUnauthorized(w, r, clientName, ae.code, ae.description)
		return
	}
	h.writeUnauthorized(w, r, clientName, ErrorCodeInvalidToken, "Token validation failed")
}

// writeUnauthorized is the single place a 401 is constructed: challenge
// header, no-store cache directives, and the JSON error body.
func (h *Handler) writeUnauthorized(w http.ResponseWriter, r *http.Request, clientName, code, description string) {
	security.SetSecurityHeaders(w, h.baseURL())
	security.SetNoStore(w)
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(r, clientName, code, description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// formatWWWAuthenticate builds the challenge per RFC 6750 with the
// RFC 9728 resource-metadata pointer.
//
// One client compatibility branch: VS Code fails to parse a challenge
// carrying the standard resource_metadata parameter, so when the caller
// is identified as VS Code (clientInfo.name, falling back to a "node"
// User-Agent only when no clientInfo was seen) the non-standard
// resource_metadata_url parameter is emitted instead.
func (h *Handler) formatWWWAuthenticate(r *http.Request, clientName, code, description string) string {
	metadataParam := "resource_metadata"
	if wantsNonStandardMetadataParam(r, clientName) {
		metadataParam = "resource_metadata_url"
	}

	parts := []string{
		fmt.Sprintf(`%s realm=%q`, tokenTypeBearer, realm),
		fmt.Sprintf(`%s=%q`, metadataParam, h.baseURL()+wellKnownProtectedResource),
	}
	if code != "" {
		parts = append(parts, fmt.Sprintf(`error=%q`, code))
	}
	if description != "" {
		parts = append(parts, fmt.Sprintf(`error_description=%q`, sanitizeHeaderValue(description)))
	}
	return strings.Join(parts, ", ")
}

func wantsNonStandardMetadataParam(r *http.Request, clientName string) bool {
	if clientName != "" {
		return clientName == vsCodeClientName
	}
	return r.Header.Get("User-Agent") == "node"
}

// sanitizeHeaderValue strips characters that would break a quoted
// header parameter.
func sanitizeHeaderValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return -1
		}
		return r
	}, s)
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}

// extractBearer returns the raw token and which source supplied it.
func extractBearer(r *http.Request) (raw, source string) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], tokenTypeBearer) {
			return strings.TrimSpace(parts[1]), "Authorization header"
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, "token query parameter"
	}
	return "", ""
}
