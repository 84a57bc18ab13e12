// Command bridge runs the OAuth authorization-server bridge: an HTTP
// server that fronts upstream OAuth providers for MCP clients, mints
// bridge tokens embedding the upstream credentials, and carries the
// protocol transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bridge "github.com/bitovi/cascade-mcp-sub005"
	"github.com/bitovi/cascade-mcp-sub005/instrumentation"
	"github.com/bitovi/cascade-mcp-sub005/mcpsession"
	"github.com/bitovi/cascade-mcp-sub005/providers"
	"github.com/bitovi/cascade-mcp-sub005/providers/atlassian"
	"github.com/bitovi/cascade-mcp-sub005/providers/figma"
	"github.com/bitovi/cascade-mcp-sub005/providers/google"
	"github.com/bitovi/cascade-mcp-sub005/security"
	"github.com/bitovi/cascade-mcp-sub005/server"
	"github.com/bitovi/cascade-mcp-sub005/storage/memory"
	"github.com/bitovi/cascade-mcp-sub005/token"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("Bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "cascade-bridge",
		ServiceVersion: "1.0.0",
	})
	if err != nil {
		return err
	}

	cookieKey, err := loadCookieKey(cfg, logger)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	codec, err := token.NewCodec(token.Config{
		Secret:       []byte(cfg.SigningSecret),
		Issuer:       cfg.BaseURL,
		StrictExpiry: cfg.StrictExpiry,
		AccessTTL:    cfg.AccessTokenTTL,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	store := memory.New()
	defer store.Stop()

	srv, err := server.New(server.Options{
		Config: server.Config{
			BaseURL:        cfg.BaseURL,
			FlowSessionTTL: cfg.FlowSessionTTL,
			AuthCodeTTL:    cfg.AuthCodeTTL,
		},
		Registry:        registry,
		FlowStore:       store,
		CodeStore:       store,
		ClientStore:     store,
		Codec:           codec,
		CookieKey:       cookieKey,
		Instrumentation: inst,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	// The session manager and the HTTP adapter reference each other:
	// the adapter routes /mcp to the manager, the manager borrows the
	// adapter's authentication and 401 construction. Late-bind through
	// closures.
	var handler *bridge.Handler
	sessions, err := mcpsession.NewManager(mcpsession.Config{
		Authenticate: func(r *http.Request) (*token.AuthContext, error) {
			return handler.Authenticate(r)
		},
		WriteUnauthorized: func(w http.ResponseWriter, r *http.Request, clientName, code, description string) {
			handler.WriteUnauthorized(w, r, clientName, code, description)
		},
		IdleTimeout:     cfg.IdleSessionTimeout,
		ReapInterval:    cfg.SessionReapInterval,
		Instrumentation: inst,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer sessions.Stop()

	handler, err = bridge.NewHandler(srv, sessions, bridge.HandlerConfig{
		RegistrationRatePerSecond: cfg.RateLimit.RegistrationRate,
		RegistrationBurst:         cfg.RateLimit.RegistrationBurst,
		TokenRatePerSecond:        cfg.RateLimit.TokenRate,
		TokenBurst:                cfg.RateLimit.TokenBurst,
	})
	if err != nil {
		return err
	}
	defer handler.Close()

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the notification stream is a long-lived GET.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Bridge listening",
			"addr", cfg.ListenAddr,
			"base_url", cfg.BaseURL,
			"providers", registry.Names(),
			"strict_expiry", cfg.StrictExpiry)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return inst.Shutdown(ctx)
}

func loadCookieKey(cfg *Config, logger *slog.Logger) ([]byte, error) {
	if cfg.CookieKey != "" {
		return security.KeyFromBase64(cfg.CookieKey)
	}
	logger.Warn("No cookie key configured, generating an ephemeral one; open browser flows will not survive a restart")
	return security.GenerateKey()
}

func buildRegistry(cfg *Config) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	for name, pc := range cfg.Providers {
		var (
			client providers.Client
			err    error
		)
		switch name {
		case atlassian.Name:
			client, err = atlassian.New(atlassian.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  pc.RedirectURL,
				Scopes:       pc.Scopes,
			})
		case figma.Name:
			client, err = figma.New(figma.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  pc.RedirectURL,
				Scopes:       pc.Scopes,
			})
		case google.Name:
			client, err = google.New(google.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  pc.RedirectURL,
				Scopes:       pc.Scopes,
			})
		default:
			return nil, fmt.Errorf("unknown provider %q in configuration", name)
		}
		if err != nil {
			return nil, err
		}
		if err := registry.Register(client); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
