package bridge

import (
	"net/http"

	"github.com/bitovi/cascade-mcp-sub005/providers"
	"github.com/bitovi/cascade-mcp-sub005/server"
)

// ServeAuthorization handles GET /authorize: it opens a single-provider
// flow and redirects the browser to the upstream authorize URL.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sessionID, err := h.server.Cookies().Ensure(w, r)
	if err != nil {
		h.writeError(w, ErrorCodeServerError, "Failed to establish browser session", http.StatusInternalServerError)
		return
	}

	redirect, err := h.server.StartAuthorization(r.Context(), sessionID, server.AuthorizeRequest{
		Provider:            q.Get("provider"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		ResponseType:        q.Get("response_type"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Resource:            q.Get("resource"),
	})
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeCallback handles the upstream provider's redirect for the
// single-provider flow. It is browser-facing, so failures render an
// HTML error page with a retry link rather than a JSON body.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("Provider returned authorization error",
			"error", errCode, "description", q.Get("error_description"))
		h.serveErrorPage(w, http.StatusBadRequest,
			"The provider denied the authorization request.", "/authorize")
		return
	}

	sessionID, ok := h.server.Cookies().SessionID(r)
	if !ok {
		h.serveErrorPage(w, http.StatusBadRequest,
			"Your session has expired. Start the authorization again.", "/authorize")
		return
	}

	code, state := providers.CallbackParams(q)
	result, err := h.server.HandleCallback(r.Context(), sessionID, code, state)
	if err != nil {
		status := http.StatusBadRequest
		if oauthErr, isOAuth := err.(*OAuthError); isOAuth {
			status = oauthErr.Status
		}
		h.serveErrorPage(w, status, "Authorization failed. Start the flow again.", "/authorize")
		return
	}

	if result.RedirectURL != "" {
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
		return
	}

	// No client redirect URI: show the code for manual exchange.
	h.serveCodePage(w, result.Code)
}
