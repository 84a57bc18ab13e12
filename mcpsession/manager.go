// Package mcpsession owns the live MCP protocol sessions: it pairs a
// per-session server instance and event replay buffer with a
// replaceable streaming transport, re-validates the bearer token on
// every request, and reaps sessions whose clients silently went away.
package mcpsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bitovi/cascade-mcp-sub005/instrumentation"
	"github.com/bitovi/cascade-mcp-sub005/token"
)

const (
	headerSessionID   = "Mcp-Session-Id"
	headerLastEventID = "Last-Event-ID"

	errorCodeInvalidToken = "invalid_token"

	// DefaultIdleTimeout is how long a session may sit without a
	// request before the reaper closes it. Transport close callbacks
	// are unreliable for abrupt disconnects, so liveness is inferred
	// from activity recency.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultReapInterval is how often the idle reaper runs.
	DefaultReapInterval = time.Minute

	maxMessageBytes = 4 << 20
)

// ErrTokenNoLongerValid signals that a request's bearer token cannot
// back any further protocol work. The manager translates it into a 401
// with the shared WWW-Authenticate construction instead of a 500;
// per-session tool handlers may return it too.
var ErrTokenNoLongerValid = errors.New("token is no longer valid")

// AuthFailure is implemented by authentication errors that carry an
// OAuth error code and description for the 401 body. Errors without it
// fall back to a generic invalid_token challenge.
type AuthFailure interface {
	error
	AuthCode() string
	AuthDescription() string
}

// Config wires the manager to the rest of the bridge. Authentication
// and 401 construction are injected so that the challenge header is
// built in exactly one place.
type Config struct {
	// Authenticate verifies the request's bearer token. Required.
	Authenticate func(r *http.Request) (*token.AuthContext, error)

	// WriteUnauthorized emits the shared 401 response. clientName is
	// the protocol client's self-reported name when one was seen on
	// this request, for challenge-parameter compatibility. Required.
	WriteUnauthorized func(w http.ResponseWriter, r *http.Request, clientName, code, description string)

	// NewServer builds the per-session MCP server instance. Defaults
	// to a server exposing the bridge's introspection tools.
	NewServer func(sessionID string) *mcpserver.MCPServer

	IdleTimeout  time.Duration
	ReapInterval time.Duration
	EventBuffer  int

	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// Manager is the concurrent session registry. The map lock guards map
// shape only; each session carries its own lock for lifecycle work, so
// the reaper never holds the registry lock across a close call.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session

	inst   *instrumentation.Instrumentation
	logger *slog.Logger

	stopReaper chan struct{}
	stopOnce   sync.Once
}

// NewManager creates the session manager and starts its idle reaper.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Authenticate == nil {
		return nil, fmt.Errorf("authenticate callback is required")
	}
	if cfg.WriteUnauthorized == nil {
		return nil, fmt.Errorf("unauthorized writer is required")
	}
	if cfg.NewServer == nil {
		cfg.NewServer = NewBridgeServer
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		cfg:        cfg,
		sessions:   make(map[string]*Session),
		inst:       cfg.Instrumentation,
		logger:     cfg.Logger,
		stopReaper: make(chan struct{}),
	}
	m.inst.RegisterLiveSessionsCallback(func() int64 { return int64(m.Count()) })
	go m.reapLoop()
	return m, nil
}

// Stop halts the idle reaper and closes every live session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopReaper) })

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, sess := range sessions {
		sess.mu.Lock()
		if err := sess.transport.Close(); err != nil {
			m.logger.Debug("Transport close during shutdown", "session_id", id, "error", err)
		}
		sess.mu.Unlock()
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// rpcEnvelope is the subset of a JSON-RPC message the manager needs to
// route: the method for initialize detection, the id to distinguish
// requests from notifications, and clientInfo for the VS Code
// challenge quirk.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	} `json:"params"`
}

func (e *rpcEnvelope) isInitialize() bool { return e.Method == "initialize" }

// HandlePost serves the JSON-RPC request channel. No session id plus
// an initialize method creates a session; a known id plus initialize
// reconnects it, replacing the transport but keeping the server
// instance and event store; any other method reuses the session. The
// bearer token is re-verified every time and the stored auth context
// overwritten, and an authentication failure never touches the
// session map. A freshly created session whose initialize request is
// rejected is removed again before the response goes out.
func (m *Manager) HandlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, -32700, "Failed to read request body", nil)
		return
	}

	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeRPCError(w, http.StatusBadRequest, -32700, "Invalid JSON-RPC message", nil)
		return
	}

	clientName := ""
	if env.isInitialize() {
		clientName = env.Params.ClientInfo.Name
	}

	ac, err := m.cfg.Authenticate(r)
	if err != nil {
		m.writeAuthFailure(w, r, clientName, err)
		return
	}

	sessionID := r.Header.Get(headerSessionID)
	var sess *Session
	created := false
	switch {
	case sessionID == "":
		if !env.isInitialize() {
			writeRPCError(w, http.StatusBadRequest, -32600, "No valid session ID provided", env.ID)
			return
		}
		sess = m.createSession(r, ac, &env)
		created = true
	default:
		sess = m.get(sessionID)
		if sess == nil {
			writeRPCError(w, http.StatusBadRequest, -32001, "Session not found", env.ID)
			return
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sessionID != "" && env.isInitialize() {
		// Reconnect: same id, same server and event store, fresh
		// transport. The stale transport's streams may already be
		// defunct, so its close error is tolerated.
		if err := sess.transport.Close(); err != nil {
			m.logger.Debug("Stale transport close on reconnect", "session_id", sess.ID, "error", err)
		}
		sess.transport = newTransport(sess.ID, sess.events)
		sess.clientName = clientName
		m.logger.Info("Session reconnected", "session_id", sess.ID, "client", clientName)
	}
	sess.touch(ac)

	if ac == nil || ac.Claims == nil {
		m.writeTransportError(w, r, sess.clientName, ErrTokenNoLongerValid)
		return
	}

	ctx := token.WithAuthContext(r.Context(), ac)
	response := sess.server.HandleMessage(ctx, body)

	if _, failed := response.(mcp.JSONRPCError); failed && created {
		// The initialize request was rejected, so the session never
		// came to life. Remove it immediately and withhold the id
		// header; the error response is all the client gets.
		m.mu.Lock()
		delete(m.sessions, sess.ID)
		m.mu.Unlock()
		if err := sess.transport.Close(); err != nil {
			m.logger.Debug("Transport close after rejected initialize", "session_id", sess.ID, "error", err)
		}
		m.logger.Info("Session discarded after rejected initialize", "session_id", sess.ID)
	} else {
		w.Header().Set(headerSessionID, sess.ID)
	}
	if response == nil {
		// Notifications get no JSON-RPC response.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	data, err := json.Marshal(response)
	if err != nil {
		m.writeTransportError(w, r, sess.clientName, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (m *Manager) createSession(r *http.Request, ac *token.AuthContext, env *rpcEnvelope) *Session {
	id := uuid.NewString()
	events := NewEventStore(m.cfg.EventBuffer)
	sess := &Session{
		ID:         id,
		server:     m.cfg.NewServer(id),
		events:     events,
		transport:  newTransport(id, events),
		clientName: env.Params.ClientInfo.Name,
	}
	sess.touch(ac)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.inst.RecordSessionCreated(r.Context())
	m.logger.Info("Session created",
		"session_id", id,
		"client", env.Params.ClientInfo.Name,
		"protocol_version", env.Params.ProtocolVersion,
		"subject", ac.Subject())
	return sess
}

// HandleGet serves the SSE notification stream. The session id and a
// valid bearer token are both required before the session is touched;
// the auth context and activity timestamp refresh exactly as on POST.
// A Last-Event-ID header replays missed events and displaces any
// stream registration the caller abandoned, so a dropped browser tab
// does not turn the next reconnect into a 409.
func (m *Manager) HandleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	ac, err := m.cfg.Authenticate(r)
	if err != nil {
		m.writeAuthFailure(w, r, "", err)
		return
	}

	sess := m.get(sessionID)
	if sess == nil {
		http.Error(w, "Session not found", http.StatusBadRequest)
		return
	}

	lastEventID := uint64(0)
	resuming := false
	if v := r.Header.Get(headerLastEventID); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			lastEventID = n
			resuming = true
		}
	}

	// Grab the current transport under the session lock, then stream
	// without it so the reaper and POSTs are not blocked for the
	// stream's lifetime.
	sess.mu.Lock()
	sess.touch(ac)
	transport := sess.transport
	events := sess.events
	clientName := sess.clientName
	sess.mu.Unlock()

	ch, cancel, err := transport.Subscribe(r.Context(), resuming)
	if errors.Is(err, ErrStreamActive) {
		http.Error(w, "Notification stream already open for this session", http.StatusConflict)
		return
	}
	if err != nil {
		m.writeTransportError(w, r, clientName, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(headerSessionID, sess.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range events.After(lastEventID) {
		writeSSEEvent(w, ev)
	}
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// HandleDelete terminates a session explicitly.
func (m *Manager) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	sess := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if sess == nil {
		http.Error(w, "Session not found", http.StatusBadRequest)
		return
	}

	sess.mu.Lock()
	if err := sess.transport.Close(); err != nil {
		m.logger.Debug("Transport close on delete", "session_id", sessionID, "error", err)
	}
	sess.mu.Unlock()

	m.logger.Info("Session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopReaper:
			return
		case <-ticker.C:
			m.reapIdle(time.Now().Add(-m.cfg.IdleTimeout))
		}
	}
}

// reapIdle closes and removes every session idle past cutoff. It
// iterates a snapshot so the registry lock is never held across a
// close call, and skips sessions that are mid-request rather than
// waiting on them.
func (m *Manager) reapIdle(cutoff time.Time) {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		snapshot = append(snapshot, sess)
	}
	m.mu.RUnlock()

	for _, sess := range snapshot {
		if !sess.mu.TryLock() {
			continue
		}
		if !sess.idleSince(cutoff) {
			sess.mu.Unlock()
			continue
		}

		m.mu.Lock()
		delete(m.sessions, sess.ID)
		m.mu.Unlock()

		if err := sess.transport.Close(); err != nil {
			m.logger.Debug("Transport close on reap", "session_id", sess.ID, "error", err)
		}
		idle := time.Since(sess.lastActivity)
		sess.mu.Unlock()

		m.inst.RecordSessionReaped(context.Background())
		m.logger.Info("Idle session reaped", "session_id", sess.ID, "idle", idle)
	}
}

func (m *Manager) writeAuthFailure(w http.ResponseWriter, r *http.Request, clientName string, err error) {
	code, description := errorCodeInvalidToken, "Token validation failed"
	var af AuthFailure
	if errors.As(err, &af) {
		code, description = af.AuthCode(), af.AuthDescription()
	}
	m.cfg.WriteUnauthorized(w, r, clientName, code, description)
}

// writeTransportError maps request-handling failures to responses. A
// token that is no longer valid is a 401 with the shared challenge
// construction, never a 500.
func (m *Manager) writeTransportError(w http.ResponseWriter, r *http.Request, clientName string, err error) {
	if errors.Is(err, ErrTokenNoLongerValid) {
		m.cfg.WriteUnauthorized(w, r, clientName, errorCodeInvalidToken, "Token is no longer valid")
		return
	}
	m.logger.Error("Session request failed", "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeSSEEvent(w io.Writer, ev Event) {
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
}

func writeRPCError(w http.ResponseWriter, status, code int, message string, id json.RawMessage) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
