// Package storage defines interfaces for persisting browser flow sessions,
// hub authorization codes, and registered clients. It supports various
// backend implementations; the in-memory one lives in storage/memory.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bitovi/cascade-mcp-sub005/providers"
)

// Sentinel errors returned by store implementations.
var (
	ErrNotFound = errors.New("not found")
	ErrExpired  = errors.New("expired")
	ErrCodeUsed = errors.New("authorization code already used")
)

// Flow kinds. A flow session is created for exactly one of the two
// browser flows and every later transition checks the tag.
const (
	FlowKindSingle = "single_provider"
	FlowKindHub    = "connection_hub"
)

// FlowSession is the server-side state of an in-progress browser
// authorization flow, keyed by the session ID carried in the browser
// cookie.
//
// Two distinct state parameters exist: ClientState is what the MCP
// client sent to /authorize and must be echoed back to it untouched;
// ProviderState is generated by the bridge, sent to the upstream
// provider, and validated on the provider callback.
type FlowSession struct {
	ID   string
	Kind string

	// Single-provider flow fields.
	Provider          string
	ClientID          string
	ClientState       string
	ClientRedirectURI string
	Scope             string
	Resource          string

	// Client-to-bridge PKCE. UsingClientPKCE means the client supplied
	// its own challenge and the bridge relays the provider code for the
	// client to exchange; otherwise the bridge holds BridgeVerifier and
	// exchanges on the client's behalf.
	ClientCodeChallenge       string
	ClientCodeChallengeMethod string
	UsingClientPKCE           bool
	BridgeVerifier            string

	// Bridge-to-provider state.
	ProviderState string

	// Hub flow fields: upstream credentials collected so far, by
	// provider name.
	Connections map[string]*providers.Token

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry.
func (s *FlowSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// FlowStore persists browser flow sessions.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveFlowSession saves or replaces a flow session.
	SaveFlowSession(ctx context.Context, session *FlowSession) error

	// GetFlowSession retrieves a flow session by cookie session ID.
	GetFlowSession(ctx context.Context, id string) (*FlowSession, error)

	// GetFlowSessionByProviderState retrieves a flow session by the
	// state parameter the bridge sent to the upstream provider. Use
	// this when validating provider callbacks.
	GetFlowSessionByProviderState(ctx context.Context, providerState string) (*FlowSession, error)

	// DeleteFlowSession removes a flow session.
	DeleteFlowSession(ctx context.Context, id string) error
}

// Authorization code kinds. A bridge code was minted by the connection
// hub and resolves to pre-minted bridge tokens; an upstream code is a
// raw provider code awaiting exchange with a bridge-held verifier.
const (
	CodeKindBridge   = "bridge"
	CodeKindUpstream = "upstream"
)

// AuthorizationCode is a one-time code redeemable at the token endpoint.
type AuthorizationCode struct {
	Code                string
	Kind                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
	Resource            string

	// Bridge kind: tokens minted at hub completion, released on
	// redemption.
	AccessToken  string
	RefreshToken string

	// Upstream kind: which provider issued the code and the verifier
	// the bridge generated at authorize time.
	Provider     string
	CodeVerifier string

	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// CodeStore persists hub authorization codes.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// AtomicConsumeAuthorizationCode atomically checks that a code
	// exists, is unexpired, and is unused, marks it used, and returns
	// it. This MUST be atomic so that two concurrent redemptions of the
	// same code cannot both succeed.
	AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// Client is a dynamically registered OAuth client. Registrations are
// kept for diagnostics; later flow steps accept any client_id at face
// value, so no secret is stored.
type Client struct {
	ClientID                string
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scopes                  []string
	CreatedAt               time.Time
}

// ClientStore persists registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients.
	ListClients(ctx context.Context) ([]*Client, error)
}
