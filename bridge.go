// Package bridge is the HTTP adapter for the OAuth authorization-server
// bridge: discovery, dynamic client registration, the browser-facing
// authorize/callback and connection-hub pages, the token endpoint, and
// the bearer-token extraction middleware guarding the protocol
// transport. Flow logic lives in the server package; protocol session
// handling in mcpsession.
package bridge

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bitovi/cascade-mcp-sub005/instrumentation"
	"github.com/bitovi/cascade-mcp-sub005/mcpsession"
	"github.com/bitovi/cascade-mcp-sub005/security"
	"github.com/bitovi/cascade-mcp-sub005/server"
)

// HandlerConfig configures the HTTP adapter.
type HandlerConfig struct {
	// RegistrationRatePerSecond/Burst bound POST /register per IP.
	// Defaults: 1/s with burst 5.
	RegistrationRatePerSecond int
	RegistrationBurst         int

	// TokenRatePerSecond/Burst bound the token endpoint per IP.
	// Defaults: 5/s with burst 10.
	TokenRatePerSecond int
	TokenBurst         int
}

func (c *HandlerConfig) applyDefaults() {
	if c.RegistrationRatePerSecond <= 0 {
		c.RegistrationRatePerSecond = 1
	}
	if c.RegistrationBurst <= 0 {
		c.RegistrationBurst = 5
	}
	if c.TokenRatePerSecond <= 0 {
		c.TokenRatePerSecond = 5
	}
	if c.TokenBurst <= 0 {
		c.TokenBurst = 10
	}
}

// Handler adapts the bridge onto net/http.
type Handler struct {
	server   *server.Server
	sessions *mcpsession.Manager

	registrationLimiter *security.RateLimiter
	tokenLimiter        *security.RateLimiter

	inst   *instrumentation.Instrumentation
	logger *slog.Logger
}

// NewHandler creates the HTTP adapter. The session manager is optional;
// without one the /mcp routes are not registered.
func NewHandler(srv *server.Server, sessions *mcpsession.Manager, cfg HandlerConfig) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	cfg.applyDefaults()

	logger := srv.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		server:              srv,
		sessions:            sessions,
		registrationLimiter: security.NewRateLimiter(cfg.RegistrationRatePerSecond, cfg.RegistrationBurst, logger),
		tokenLimiter:        security.NewRateLimiter(cfg.TokenRatePerSecond, cfg.TokenBurst, logger),
		inst:                srv.Instrumentation,
		logger:              logger,
	}, nil
}

// RegisterRoutes attaches every bridge endpoint to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+wellKnownAuthServer, h.ServeAuthServerMetadata)
	mux.HandleFunc("GET "+wellKnownProtectedResource, h.ServeProtectedResourceMetadata)
	mux.HandleFunc("POST /register", h.ServeClientRegistration)

	mux.HandleFunc("GET /authorize", h.ServeAuthorization)
	mux.HandleFunc("GET /callback", h.ServeCallback)

	mux.HandleFunc("GET /auth/connect", h.ServeHub)
	mux.HandleFunc("GET /auth/connect/{provider}", h.ServeHubConnect)
	mux.HandleFunc("GET /auth/callback/{provider}", h.ServeHubCallback)
	mux.HandleFunc("GET /auth/done", h.ServeHubDone)

	mux.HandleFunc("POST /access-token", h.ServeToken)
	mux.HandleFunc("POST /refresh-token", h.ServeToken)

	if h.sessions != nil {
		mux.HandleFunc("POST /mcp", h.sessions.HandlePost)
		mux.HandleFunc("GET /mcp", h.sessions.HandleGet)
		mux.HandleFunc("DELETE /mcp", h.sessions.HandleDelete)
	}
}

// Close releases background resources (rate limiter cleanup goroutines).
func (h *Handler) Close() {
	h.registrationLimiter.Stop()
	h.tokenLimiter.Stop()
}

func (h *Handler) baseURL() string {
	return h.server.Config.BaseURL
}
