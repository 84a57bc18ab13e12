package bridge

// Wire constants shared across the HTTP surface.
const (
	// HeaderSessionID carries the protocol session ID on transport
	// requests and responses.
	HeaderSessionID = "Mcp-Session-Id"

	// HeaderProtocolVersion is sent by protocol clients.
	HeaderProtocolVersion = "Mcp-Protocol-Version"

	tokenTypeBearer = "Bearer"

	// realm names the protected resource in WWW-Authenticate challenges.
	realm = "mcp"

	// vsCodeClientName is the clientInfo.name announced by the one
	// client that needs the non-standard resource_metadata_url
	// challenge parameter.
	vsCodeClientName = "Visual Studio Code"

	wellKnownAuthServer        = "/.well-known/oauth-authorization-server"
	wellKnownProtectedResource = "/.well-known/oauth-protected-resource"
)
