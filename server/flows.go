package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/url"
	"time"

	"github.com/bitovi/cascade-mcp-sub005/pkce"
	"github.com/bitovi/cascade-mcp-sub005/providers"
	"github.com/bitovi/cascade-mcp-sub005/storage"
)

// DefaultProvider is used when /authorize names no provider. The
// single-provider flow predates the hub and was built against Atlassian.
const DefaultProvider = "atlassian"

// AuthorizeRequest carries the parameters of a GET /authorize request.
type AuthorizeRequest struct {
	Provider            string
	ClientID            string
	RedirectURI         string
	Scope               string
	ResponseType        string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
}

// CallbackResult tells the HTTP layer how to answer the upstream
// callback: redirect when RedirectURL is set, otherwise render the
// code for manual copy.
type CallbackResult struct {
	RedirectURL string
	Code        string
	State       string
}

// StartAuthorization begins a single-provider flow and returns the
// upstream authorize URL to redirect the browser to.
//
// When the client supplied its own code_challenge the bridge adopts it:
// it relays the challenge upstream, keeps no verifier, and at callback
// time hands the raw upstream code back to the client, which completes
// the exchange itself. Without a client challenge the bridge generates
// its own verifier and completes the exchange at the token endpoint.
func (s *Server) StartAuthorization(ctx context.Context, sessionID string, req AuthorizeRequest) (string, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = DefaultProvider
	}
	client, err := s.registry.Get(providerName)
	if err != nil {
		return "", ErrInvalidRequest(fmt.Sprintf("unknown provider %q", providerName))
	}

	if req.ResponseType != "" && req.ResponseType != "code" {
		return "", ErrInvalidRequest(fmt.Sprintf("unsupported response_type %q", req.ResponseType))
	}

	usingClientPKCE := req.CodeChallenge != ""
	if usingClientPKCE {
		if req.CodeChallengeMethod != pkce.MethodS256 {
			return "", ErrInvalidRequest("only the S256 code_challenge_method is supported")
		}
	} else if req.CodeChallengeMethod != "" {
		return "", ErrInvalidRequest("code_challenge_method without code_challenge")
	}

	session := &storage.FlowSession{
		ID:                        sessionID,
		Kind:                      storage.FlowKindSingle,
		Provider:                  providerName,
		ClientID:                  req.ClientID,
		ClientState:               req.State,
		ClientRedirectURI:         req.RedirectURI,
		Scope:                     req.Scope,
		Resource:                  req.Resource,
		ClientCodeChallenge:       req.CodeChallenge,
		ClientCodeChallengeMethod: req.CodeChallengeMethod,
		UsingClientPKCE:           usingClientPKCE,
		CreatedAt:                 time.Now(),
		ExpiresAt:                 time.Now().Add(s.Config.FlowSessionTTL),
	}

	challenge := req.CodeChallenge
	if !usingClientPKCE {
		verifier := pkce.GenerateVerifier()
		session.BridgeVerifier = verifier
		challenge = pkce.ChallengeS256(verifier)
	}

	if err := s.flowStore.SaveFlowSession(ctx, session); err != nil {
		return "", ErrServerError("failed to save authorization state")
	}

	s.Logger.Info("Authorization flow started",
		"provider", providerName,
		"client_id", req.ClientID,
		"using_client_pkce", usingClientPKCE)

	// The bridge-level scope stays in the flow session for the bridge
	// token; each provider supplies its own configured scope string
	// upstream.
	authorizeURL := client.AuthorizeURL(providers.AuthorizeParams{
		RedirectURI:         s.callbackURL(),
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkce.MethodS256,
		State:               req.State,
		ResponseType:        "code",
	})
	return authorizeURL, nil
}

// HandleCallback processes the upstream redirect for a single-provider
// flow. The incoming state must equal the stored flow state after plus
// normalization, including the both-or-neither rule: a flow started
// without state must come back without one. Any mismatch clears the
// flow and fails with a 400.
func (s *Server) HandleCallback(ctx context.Context, sessionID, code, state string) (*CallbackResult, error) {
	session, err := s.flowStore.GetFlowSession(ctx, sessionID)
	if err != nil {
		return nil, ErrInvalidRequest("no authorization flow in progress")
	}
	if session.Kind != storage.FlowKindSingle {
		return nil, ErrInvalidRequest("no single-provider flow in progress")
	}

	if subtle.ConstantTimeCompare([]byte(session.ClientState), []byte(state)) != 1 {
		_ = s.flowStore.DeleteFlowSession(ctx, sessionID)
		s.Logger.Warn("Callback state mismatch", "provider", session.Provider)
		return nil, ErrInvalidRequest("state parameter mismatch")
	}
	if code == "" {
		_ = s.flowStore.DeleteFlowSession(ctx, sessionID)
		return nil, ErrInvalidRequest("code parameter is required")
	}

	// Flow completes here either way; the session is single-shot.
	_ = s.flowStore.DeleteFlowSession(ctx, sessionID)

	if !session.UsingClientPKCE {
		// The bridge holds the verifier, so the token endpoint will
		// perform the upstream exchange. Park the code with everything
		// the exchange needs.
		authCode := &storage.AuthorizationCode{
			Code:         code,
			Kind:         storage.CodeKindUpstream,
			ClientID:     session.ClientID,
			RedirectURI:  session.ClientRedirectURI,
			Scope:        session.Scope,
			Resource:     session.Resource,
			Provider:     session.Provider,
			CodeVerifier: session.BridgeVerifier,
			CreatedAt:    time.Now(),
			ExpiresAt:    time.Now().Add(s.Config.AuthCodeTTL),
		}
		if err := s.codeStore.SaveAuthorizationCode(ctx, authCode); err != nil {
			return nil, ErrServerError("failed to save authorization code")
		}
	}

	if session.ClientRedirectURI == "" {
		return &CallbackResult{Code: code, State: session.ClientState}, nil
	}

	redirect, err := appendQuery(session.ClientRedirectURI, url.Values{
		"code":  {code},
		"state": {session.ClientState},
	}, session.ClientState != "")
	if err != nil {
		return nil, ErrInvalidRequest("invalid redirect URI")
	}
	return &CallbackResult{RedirectURL: redirect, State: session.ClientState}, nil
}

// appendQuery merges params onto a URL. The state value is only
// appended when the flow actually carried one.
func appendQuery(rawURL string, params url.Values, withState bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		if k == "state" && !withState {
			continue
		}
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
