package bridge

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bitovi/cascade-mcp-sub005/server"
)

// tokenRequest carries the token endpoint parameters, accepted as form
// or JSON body.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
	Resource     string `json:"resource"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
}

// ServeToken handles POST /access-token and /refresh-token.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	clientIP := requestIP(r)
	if !h.tokenLimiter.Allow(clientIP) {
		h.inst.RecordRateLimitExceeded(r.Context(), "token")
		h.logger.Warn("Token endpoint rate limit exceeded", "ip", clientIP)
		h.writeError(w, ErrorCodeRateLimitExceeded,
			"Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		return
	}

	req, err := parseTokenRequest(r)
	if err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	// The /refresh-token path implies the grant for clients that omit it.
	if req.GrantType == "" && strings.HasSuffix(r.URL.Path, "/refresh-token") {
		req.GrantType = "refresh_token"
	}

	var resp *server.TokenResponse
	switch req.GrantType {
	case "authorization_code":
		resp, err = h.server.ExchangeAuthorizationCode(r.Context(), req.Code, req.CodeVerifier, req.Resource)
	case "refresh_token":
		resp, err = h.server.RefreshAccessToken(r.Context(), req.RefreshToken, req.Resource)
	default:
		h.writeError(w, ErrorCodeUnsupportedGrantType,
			"Grant type "+req.GrantType+" not supported", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req tokenRequest
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10)).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &tokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Resource:     r.PostFormValue("resource"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
	}, nil
}
