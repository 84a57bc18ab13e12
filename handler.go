package bridge

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bitovi/cascade-mcp-sub005/pkce"
	"github.com/bitovi/cascade-mcp-sub005/security"
	"github.com/bitovi/cascade-mcp-sub005/storage"
)

// ServeAuthServerMetadata serves the RFC 8414 discovery document.
func (h *Handler) ServeAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL()
	h.writeJSON(w, http.StatusOK, authServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/authorize",
		TokenEndpoint:                     base + "/access-token",
		RegistrationEndpoint:              base + "/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{pkce.MethodS256},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		ScopesSupported:                   h.server.Registry().Scopes(),
	})
}

// ServeProtectedResourceMetadata serves the RFC 9728 discovery document.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	base := h.baseURL()
	h.writeJSON(w, http.StatusOK, protectedResourceMetadata{
		Resource:               base,
		AuthorizationServers:   []string{base},
		BearerMethodsSupported: []string{"header", "query"},
	})
}

// ServeClientRegistration handles RFC 7591 dynamic registration. The
// bridge issues a synthetic client_id and no secret; it is not a
// gatekeeper of client identity, only of the upstream credential, so
// the record is kept for diagnostics and the id is later accepted at
// face value.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	clientIP := requestIP(r)
	if !h.registrationLimiter.Allow(clientIP) {
		h.inst.RecordRateLimitExceeded(r.Context(), "register")
		h.logger.Warn("Client registration rate limit exceeded", "ip", clientIP)
		h.writeError(w, ErrorCodeRateLimitExceeded,
			"Registration rate limit exceeded. Please try again later.",
			http.StatusTooManyRequests)
		return
	}

	var req clientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Invalid JSON", http.StatusBadRequest)
		return
	}

	valid := validRedirectURIs(req.RedirectURIs)
	if len(valid) == 0 {
		h.writeError(w, ErrorCodeInvalidRedirectURI,
			"At least one valid redirect URI is required", http.StatusBadRequest)
		return
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code", "refresh_token"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	client := &storage.Client{
		ClientID:                uuid.NewString(),
		ClientName:              req.ClientName,
		RedirectURIs:            valid,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: "none",
		CreatedAt:               time.Now(),
	}
	if err := h.server.ClientStore().SaveClient(r.Context(), client); err != nil {
		h.logger.Warn("Failed to persist client registration", "error", err)
	}

	h.inst.RecordClientRegistered(r.Context())
	h.logger.Info("Client registered",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"ip", clientIP)

	h.writeJSON(w, http.StatusCreated, clientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientName:              client.ClientName,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	})
}

// validRedirectURIs keeps the syntactically valid absolute URIs.
// Custom schemes are allowed (IDE clients use vscode:// and friends).
func validRedirectURIs(uris []string) []string {
	var valid []string
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" {
			continue
		}
		if u.Host == "" && u.Opaque == "" && u.Path == "" {
			continue
		}
		valid = append(valid, raw)
	}
	return valid
}

// writeJSON writes a JSON response with the standard security headers.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	security.SetSecurityHeaders(w, h.baseURL())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes an OAuth error body. 401s must go through
// writeUnauthorized instead so the challenge header is built in exactly
// one place.
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.baseURL())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// writeOAuthError dispatches an error from the server package onto the
// wire, routing 401s through the shared challenge constructor.
func (h *Handler) writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if oauthErr, ok := err.(*OAuthError); ok {
		if oauthErr.Status == http.StatusUnauthorized {
			h.writeUnauthorized(w, r, "", oauthErr.Code, oauthErr.Description)
			return
		}
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}
	h.writeError(w, ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
}

// requestIP extracts the client IP for rate limiting, preferring the
// first X-Forwarded-For hop.
func requestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
