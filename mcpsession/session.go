package mcpsession

import (
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bitovi/cascade-mcp-sub005/token"
)

// Session binds a per-session MCP server instance, its event replay
// buffer, the current transport, and the most recently presented auth
// context. The server and event store live for the whole session; the
// transport is replaced on reconnect.
type Session struct {
	ID string

	// mu serializes lifecycle decisions for this session: two near
	// simultaneous requests for the same id must not both conclude
	// they are the one performing a reconnect, and the reaper must
	// not close a session that is mid-request.
	mu sync.Mutex

	server    *mcpserver.MCPServer
	events    *EventStore
	transport *Transport

	auth         *token.AuthContext
	clientName   string
	lastActivity time.Time
}

// touch overwrites the auth binding and refreshes the activity
// timestamp. A token refreshed mid-session propagates to subsequent
// tool calls this way, without a new session. Caller holds s.mu.
func (s *Session) touch(ac *token.AuthContext) {
	s.auth = ac
	s.lastActivity = time.Now()
}

// idleSince reports whether the session saw no activity after cutoff.
// Caller holds s.mu.
func (s *Session) idleSince(cutoff time.Time) bool {
	return s.lastActivity.Before(cutoff)
}
