// Package server implements the bridge's OAuth flow logic: the
// single-provider authorize/callback state machine, the multi-provider
// connection hub, and the token exchange grants. The root package
// adapts these operations onto the HTTP surface.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bitovi/cascade-mcp-sub005/instrumentation"
	"github.com/bitovi/cascade-mcp-sub005/providers"
	"github.com/bitovi/cascade-mcp-sub005/security"
	"github.com/bitovi/cascade-mcp-sub005/storage"
	"github.com/bitovi/cascade-mcp-sub005/token"
)

// Config holds flow-level configuration.
type Config struct {
	// BaseURL is the bridge's own origin, used as issuer, default
	// audience, and the base for callback URLs. Required, no trailing
	// slash.
	BaseURL string

	// FlowSessionTTL bounds how long a browser flow may stay open.
	// Default 15 minutes.
	FlowSessionTTL time.Duration

	// AuthCodeTTL is the lifetime of one-time authorization codes.
	// Default 5 minutes.
	AuthCodeTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.FlowSessionTTL <= 0 {
		c.FlowSessionTTL = 15 * time.Minute
	}
	if c.AuthCodeTTL <= 0 {
		c.AuthCodeTTL = 5 * time.Minute
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Server owns the flow state machines. All its stores are interfaces;
// the in-memory implementations live in storage/memory.
type Server struct {
	Config Config

	registry    *providers.Registry
	flowStore   storage.FlowStore
	codeStore   storage.CodeStore
	clientStore storage.ClientStore
	codec       *token.Codec
	cookies     *CookieManager

	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// Options carries the collaborators for New.
type Options struct {
	Config      Config
	Registry    *providers.Registry
	FlowStore   storage.FlowStore
	CodeStore   storage.CodeStore
	ClientStore storage.ClientStore
	Codec       *token.Codec

	// CookieKey encrypts the browser-session cookie. 32 bytes.
	CookieKey []byte

	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// New creates a Server and validates its collaborators.
func New(opts Options) (*Server, error) {
	if opts.Config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if opts.FlowStore == nil || opts.CodeStore == nil || opts.ClientStore == nil {
		return nil, fmt.Errorf("flow, code, and client stores are required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}

	opts.Config.applyDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enc, err := security.NewEncryptor(opts.CookieKey)
	if err != nil {
		return nil, fmt.Errorf("cookie key: %w", err)
	}

	secure := strings.HasPrefix(opts.Config.BaseURL, "https://")

	return &Server{
		Config:          opts.Config,
		registry:        opts.Registry,
		flowStore:       opts.FlowStore,
		codeStore:       opts.CodeStore,
		clientStore:     opts.ClientStore,
		codec:           opts.Codec,
		cookies:         NewCookieManager(enc, opts.Config.FlowSessionTTL, secure),
		Instrumentation: opts.Instrumentation,
		Logger:          logger,
	}, nil
}

// Registry returns the configured provider registry.
func (s *Server) Registry() *providers.Registry { return s.registry }

// Codec returns the token codec.
func (s *Server) Codec() *token.Codec { return s.codec }

// Cookies returns the browser-session cookie manager.
func (s *Server) Cookies() *CookieManager { return s.cookies }

// ClientStore returns the registered-client store.
func (s *Server) ClientStore() storage.ClientStore { return s.clientStore }

// callbackURL is the single-provider flow's redirect target at the
// upstream provider.
func (s *Server) callbackURL() string {
	return s.Config.BaseURL + "/callback"
}

// hubCallbackURL is the per-provider redirect target for the hub flow.
func (s *Server) hubCallbackURL(provider string) string {
	return s.Config.BaseURL + "/auth/callback/" + provider
}

// hubURL is the connection hub page.
func (s *Server) hubURL() string {
	return s.Config.BaseURL + "/auth/connect"
}
