package bridge

import (
	"net/http"

	"github.com/bitovi/cascade-mcp-sub005/providers"
	"github.com/bitovi/cascade-mcp-sub005/server"
)

// ServeHub handles GET /auth/connect: it opens or refreshes a hub flow
// and renders the connection page.
func (h *Handler) ServeHub(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sessionID, err := h.server.Cookies().Ensure(w, r)
	if err != nil {
		h.serveErrorPage(w, http.StatusInternalServerError,
			"Failed to establish browser session.", "/auth/connect")
		return
	}

	if err := h.server.StartHub(r.Context(), sessionID, server.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Resource:            q.Get("resource"),
	}); err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	h.serveHubPage(w, h.server.HubStatus(r.Context(), sessionID))
}

// ServeHubConnect handles GET /auth/connect/{provider}: it starts the
// server-side exchange leg for one provider.
func (h *Handler) ServeHubConnect(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.server.Cookies().Ensure(w, r)
	if err != nil {
		h.serveErrorPage(w, http.StatusInternalServerError,
			"Failed to establish browser session.", "/auth/connect")
		return
	}

	redirect, err := h.server.StartHubConnect(r.Context(), sessionID, r.PathValue("provider"))
	if err != nil {
		h.serveErrorPage(w, http.StatusBadRequest,
			"Could not start the provider connection.", "/auth/connect")
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeHubCallback handles GET /auth/callback/{provider}: the bridge
// exchanges the code server-side and sends the browser back to the hub
// page, never to the protocol client.
func (h *Handler) ServeHubCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	providerName := r.PathValue("provider")

	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("Hub provider returned authorization error",
			"provider", providerName, "error", errCode)
		h.serveErrorPage(w, http.StatusBadRequest,
			"The provider denied the connection request.", "/auth/connect")
		return
	}

	// A missing or unreadable cookie is tolerated here: the flow can
	// still be recovered from the state parameter.
	sessionID, _ := h.server.Cookies().SessionID(r)

	code, state := providers.CallbackParams(q)
	redirect, err := h.server.HandleHubCallback(r.Context(), sessionID, providerName, code, state)
	if err != nil {
		h.serveErrorPage(w, http.StatusBadRequest,
			"Connecting the provider failed. Try again.", "/auth/connect")
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeHubDone handles GET /auth/done: it mints the multi-provider
// bridge token and either hands an authorization code back to the
// protocol client or renders the token for manual copy.
func (h *Handler) ServeHubDone(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.server.Cookies().SessionID(r)
	if !ok {
		h.serveErrorPage(w, http.StatusBadRequest,
			"Your session has expired. Start over from the connection page.", "/auth/connect")
		return
	}

	completion, err := h.server.CompleteHub(r.Context(), sessionID)
	if err != nil {
		status := http.StatusBadRequest
		if oauthErr, isOAuth := err.(*OAuthError); isOAuth {
			status = oauthErr.Status
		}
		h.serveErrorPage(w, status,
			"Connect at least one provider before finishing.", "/auth/connect")
		return
	}

	if completion.RedirectURL != "" {
		http.Redirect(w, r, completion.RedirectURL, http.StatusFound)
		return
	}

	h.serveTokenPage(w, completion)
}
