package bridge

import "github.com/bitovi/cascade-mcp-sub005/server"

// OAuth wire errors live in the server package so flow logic can return
// them without importing this package; re-exported here for callers
// that only deal with the HTTP surface.
type OAuthError = server.OAuthError

const (
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidGrant         = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient        = server.ErrorCodeInvalidClient
	ErrorCodeInvalidScope         = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken         = server.ErrorCodeInvalidToken
	ErrorCodeUnsupportedGrantType = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError          = server.ErrorCodeServerError
	ErrorCodeAccessDenied         = server.ErrorCodeAccessDenied
	ErrorCodeInvalidRedirectURI   = server.ErrorCodeInvalidRedirectURI
	ErrorCodeRateLimitExceeded    = server.ErrorCodeRateLimitExceeded
)

// NewOAuthError creates a new OAuth error.
var NewOAuthError = server.NewOAuthError
