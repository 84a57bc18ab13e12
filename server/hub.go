package server

import (
	"context"
	"crypto/subtle"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bitovi/cascade-mcp-sub005/pkce"
	"github.com/bitovi/cascade-mcp-sub005/providers"
	"github.com/bitovi/cascade-mcp-sub005/storage"
	"github.com/bitovi/cascade-mcp-sub005/token"
)

// HubStatus is the connection hub page data: which providers are
// configured, which the user has connected so far, and whether Done is
// available.
type HubStatus struct {
	Available []string
	Connected []string
	CanFinish bool
}

// HubCompletion is the outcome of the Done action. Either RedirectURL
// is set (authorization-code handoff to the protocol client) or the
// minted tokens are returned for manual copy.
type HubCompletion struct {
	RedirectURL  string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Providers    []string
}

// StartHub opens (or updates) a hub flow session. The protocol client's
// own parameters ride along on the first visit so that Done can hand an
// authorization code back to it; a plain browser visit carries none and
// ends at the manual-token page instead.
func (s *Server) StartHub(ctx context.Context, sessionID string, req AuthorizeRequest) error {
	if req.CodeChallenge != "" && req.CodeChallengeMethod != pkce.MethodS256 {
		return ErrInvalidRequest("only the S256 code_challenge_method is supported")
	}

	session, err := s.flowStore.GetFlowSession(ctx, sessionID)
	if err != nil || session.Kind != storage.FlowKindHub {
		session = &storage.FlowSession{
			ID:          sessionID,
			Kind:        storage.FlowKindHub,
			Connections: make(map[string]*providers.Token),
			CreatedAt:   time.Now(),
		}
	}
	session.ExpiresAt = time.Now().Add(s.Config.FlowSessionTTL)

	// Only overwrite the client binding when the visit carries one, so
	// a mid-flow page reload does not wipe it.
	if req.ClientID != "" || req.RedirectURI != "" || req.CodeChallenge != "" {
		session.ClientID = req.ClientID
		session.ClientRedirectURI = req.RedirectURI
		session.ClientState = req.State
		session.ClientCodeChallenge = req.CodeChallenge
		session.ClientCodeChallengeMethod = req.CodeChallengeMethod
		session.UsingClientPKCE = req.CodeChallenge != ""
		session.Scope = req.Scope
		session.Resource = req.Resource
	}

	if err := s.flowStore.SaveFlowSession(ctx, session); err != nil {
		return ErrServerError("failed to save hub session")
	}
	return nil
}

// HubStatus reports the current hub state for rendering. An absent or
// non-hub session reads as an empty hub.
func (s *Server) HubStatus(ctx context.Context, sessionID string) *HubStatus {
	status := &HubStatus{Available: s.registry.Names()}

	session, err := s.flowStore.GetFlowSession(ctx, sessionID)
	if err != nil || session.Kind != storage.FlowKindHub {
		return status
	}
	for name := range session.Connections {
		status.Connected = append(status.Connected, name)
	}
	sort.Strings(status.Connected)
	status.CanFinish = len(status.Connected) > 0
	return status
}

// StartHubConnect begins the server-side exchange leg for one provider
// and returns the upstream authorize URL. The bridge acts as a
// confidential client here: it holds the provider secret and its own
// verifier, independent of the public-client PKCE contract it keeps
// with the protocol client.
func (s *Server) StartHubConnect(ctx context.Context, sessionID, providerName string) (string, error) {
	client, err := s.registry.Get(providerName)
	if err != nil {
		return "", ErrInvalidRequest("unknown provider " + providerName)
	}

	session, err := s.flowStore.GetFlowSession(ctx, sessionID)
	if err != nil || session.Kind != storage.FlowKindHub {
		session = &storage.FlowSession{
			ID:          sessionID,
			Kind:        storage.FlowKindHub,
			Connections: make(map[string]*providers.Token),
			CreatedAt:   time.Now(),
		}
	}
	session.ExpiresAt = time.Now().Add(s.Config.FlowSessionTTL)

	verifier := pkce.GenerateVerifier()
	session.BridgeVerifier = verifier
	session.ProviderState = uuid.NewString()
	session.Provider = providerName

	if err := s.flowStore.SaveFlowSession(ctx, session); err != nil {
		return "", ErrServerError("failed to save hub session")
	}

	s.Logger.Info("Hub connect started", "provider", providerName)

	return client.AuthorizeURL(providers.AuthorizeParams{
		RedirectURI:         s.hubCallbackURL(providerName),
		CodeChallenge:       pkce.ChallengeS256(verifier),
		CodeChallengeMethod: pkce.MethodS256,
		State:               session.ProviderState,
		ResponseType:        "code",
	}), nil
}

// HandleHubCallback completes one provider's exchange and returns the
// hub page URL to redirect back to. The browser always lands back on
// the hub, never on the protocol client, so the page can render updated
// connection status.
func (s *Server) HandleHubCallback(ctx context.Context, sessionID, providerName, code, state string) (string, error) {
	client, err := s.registry.Get(providerName)
	if err != nil {
		return "", ErrInvalidRequest("unknown provider " + providerName)
	}

	session, err := s.flowStore.GetFlowSession(ctx, sessionID)
	if err != nil && state != "" {
		// The browser can come back without a usable cookie (blocked
		// third-party cookies, a different host on the redirect). The
		// state generated at connect time identifies the flow instead.
		session, err = s.flowStore.GetFlowSessionByProviderState(ctx, state)
		if err == nil {
			sessionID = session.ID
		}
	}
	if err != nil || session.Kind != storage.FlowKindHub {
		return "", ErrInvalidRequest("no hub flow in progress")
	}

	if session.ProviderState == "" ||
		subtle.ConstantTimeCompare([]byte(session.ProviderState), []byte(state)) != 1 {
		_ = s.flowStore.DeleteFlowSession(ctx, sessionID)
		s.Logger.Warn("Hub callback state mismatch", "provider", providerName)
		return "", ErrInvalidRequest("state parameter mismatch")
	}
	if code == "" {
		_ = s.flowStore.DeleteFlowSession(ctx, sessionID)
		return "", ErrInvalidRequest("code parameter is required")
	}

	upstream, err := client.Exchange(ctx, code, session.BridgeVerifier, s.hubCallbackURL(providerName))
	s.Instrumentation.RecordUpstreamExchange(ctx, providerName, err)
	if err != nil {
		s.Logger.Error("Hub provider exchange failed", "provider", providerName, "error", err)
		return "", ErrInvalidGrant("upstream code exchange failed")
	}

	if session.Connections == nil {
		session.Connections = make(map[string]*providers.Token)
	}
	session.Connections[providerName] = upstream
	session.ProviderState = ""
	session.BridgeVerifier = ""
	session.Provider = ""
	session.ExpiresAt = time.Now().Add(s.Config.FlowSessionTTL)

	if err := s.flowStore.SaveFlowSession(ctx, session); err != nil {
		return "", ErrServerError("failed to save hub session")
	}

	s.Logger.Info("Hub provider connected", "provider", providerName, "connected", len(session.Connections))
	return s.hubURL(), nil
}

// CompleteHub handles the Done action: it mints one bridge token pair
// covering every connected provider. With a client PKCE binding and a
// redirect URI it issues a one-time authorization code instead and
// sends the browser back to the protocol client. The flow session is
// cleared on success regardless of branch.
func (s *Server) CompleteHub(ctx context.Context, sessionID string) (*HubCompletion, error) {
	session, err := s.flowStore.GetFlowSession(ctx, sessionID)
	if err != nil || session.Kind != storage.FlowKindHub {
		return nil, ErrInvalidRequest("no hub flow in progress")
	}
	if len(session.Connections) == 0 {
		return nil, ErrInvalidRequest("connect at least one provider before finishing")
	}

	subject := uuid.NewString()
	creds := make(map[string]token.Credential, len(session.Connections))
	names := make([]string, 0, len(session.Connections))
	for name, tok := range session.Connections {
		creds[name] = token.Credential{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    unixOrZero(tok.ExpiresAt),
			Scope:        tok.Scope,
		}
		names = append(names, name)
	}
	sort.Strings(names)

	audience := session.Resource
	if audience == "" {
		audience = s.Config.BaseURL
	}

	pair, err := s.mintTokenPair(ctx, subject, audience, session.Scope, creds)
	if err != nil {
		return nil, err
	}
	s.Instrumentation.RecordTokenIssued(ctx, "connection_hub", token.UseAccess)

	completion := &HubCompletion{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Providers:    names,
	}

	if session.UsingClientPKCE && session.ClientRedirectURI != "" {
		code := uuid.NewString()
		authCode := &storage.AuthorizationCode{
			Code:                code,
			Kind:                storage.CodeKindBridge,
			ClientID:            session.ClientID,
			RedirectURI:         session.ClientRedirectURI,
			Scope:               session.Scope,
			CodeChallenge:       session.ClientCodeChallenge,
			CodeChallengeMethod: session.ClientCodeChallengeMethod,
			Subject:             subject,
			AccessToken:         pair.AccessToken,
			RefreshToken:        pair.RefreshToken,
			CreatedAt:           time.Now(),
			ExpiresAt:           time.Now().Add(s.Config.AuthCodeTTL),
		}
		if err := s.codeStore.SaveAuthorizationCode(ctx, authCode); err != nil {
			return nil, ErrServerError("failed to save authorization code")
		}

		redirect, err := appendQuery(session.ClientRedirectURI, url.Values{
			"code":  {code},
			"state": {session.ClientState},
		}, session.ClientState != "")
		if err != nil {
			return nil, ErrInvalidRequest("invalid redirect URI")
		}
		completion.RedirectURL = redirect
		completion.AccessToken = ""
		completion.RefreshToken = ""
	}

	_ = s.flowStore.DeleteFlowSession(ctx, sessionID)

	s.Logger.Info("Hub flow completed",
		"providers", names,
		"code_handoff", completion.RedirectURL != "")
	return completion, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
