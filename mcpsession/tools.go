package mcpsession

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bitovi/cascade-mcp-sub005/token"
)

// NewBridgeServer is the default per-session server factory. It exposes
// the bridge's introspection tools, which read the auth context bound
// to the request. Deployments with real provider tools supply their own
// factory through Config.NewServer.
func NewBridgeServer(sessionID string) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		"cascade-bridge",
		"1.0.0",
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithPromptCapabilities(false),
	)

	whoami := mcp.NewTool("whoami",
		mcp.WithDescription("Show the authenticated subject, token scope, and connected providers"),
	)
	srv.AddTool(whoami, handleWhoami)

	listConnections := mcp.NewTool("list-connections",
		mcp.WithDescription("List connected upstream providers with credential scope and expiry"),
	)
	srv.AddTool(listConnections, handleListConnections)

	return srv
}

func handleWhoami(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ac, ok := token.AuthContextFrom(ctx)
	if !ok || ac.Claims == nil {
		return nil, ErrTokenNoLongerValid
	}

	providers := ac.Claims.ProviderNames()
	sort.Strings(providers)

	var b strings.Builder
	fmt.Fprintf(&b, "subject: %s\n", ac.Claims.Subject)
	if ac.Claims.Scope != "" {
		fmt.Fprintf(&b, "scope: %s\n", ac.Claims.Scope)
	}
	fmt.Fprintf(&b, "providers: %s\n", strings.Join(providers, ", "))
	if exp := ac.Claims.EarliestCredentialExpiry(); !exp.IsZero() {
		fmt.Fprintf(&b, "earliest credential expiry: %s\n", exp.UTC().Format(time.RFC3339))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func handleListConnections(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ac, ok := token.AuthContextFrom(ctx)
	if !ok || ac.Claims == nil {
		return nil, ErrTokenNoLongerValid
	}

	names := ac.Claims.ProviderNames()
	sort.Strings(names)
	if len(names) == 0 {
		return mcp.NewToolResultText("no providers connected"), nil
	}

	var b strings.Builder
	for _, name := range names {
		cred, ok := ac.Claims.Credential(name)
		if !ok {
			continue
		}
		expiry := "unknown"
		if exp := cred.Expiry(); !exp.IsZero() {
			expiry = exp.UTC().Format(time.RFC3339)
		}
		scope := cred.Scope
		if scope == "" {
			scope = "(none)"
		}
		fmt.Fprintf(&b, "%s\tscope=%s\texpires=%s\n", name, scope, expiry)
	}
	return mcp.NewToolResultText(b.String()), nil
}
