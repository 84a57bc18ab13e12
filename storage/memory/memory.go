// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and
// single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bitovi/cascade-mcp-sub005/providers"
	"github.com/bitovi/cascade-mcp-sub005/storage"
)

// Store is an in-memory implementation of storage.FlowStore,
// storage.CodeStore, and storage.ClientStore.
type Store struct {
	mu sync.RWMutex

	flowSessions    map[string]*storage.FlowSession
	byProviderState map[string]string // provider state -> session ID

	authCodes map[string]*storage.AuthorizationCode

	clients map[string]*storage.Client

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var (
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// of one minute.
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. If cleanupInterval is 0 or negative, one minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		flowSessions:    make(map[string]*storage.FlowSession),
		byProviderState: make(map[string]string),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		clients:         make(map[string]*storage.Client),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Stop gracefully stops the cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// FlowStore Implementation
// ============================================================

// cloneFlowSession copies a flow session, including the Connections map
// and its token records, so the stored struct is never shared with a
// caller.
func cloneFlowSession(session *storage.FlowSession) *storage.FlowSession {
	out := *session
	if session.Connections != nil {
		out.Connections = make(map[string]*providers.Token, len(session.Connections))
		for name, tok := range session.Connections {
			t := *tok
			out.Connections[name] = &t
		}
	}
	return &out
}

// SaveFlowSession saves or replaces a flow session. The store keeps its
// own copy; later mutations of the argument are not persisted.
func (s *Store) SaveFlowSession(ctx context.Context, session *storage.FlowSession) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop a stale provider-state index entry if the session is being
	// replaced with a different provider state.
	if prev, ok := s.flowSessions[session.ID]; ok && prev.ProviderState != "" && prev.ProviderState != session.ProviderState {
		delete(s.byProviderState, prev.ProviderState)
	}

	s.flowSessions[session.ID] = cloneFlowSession(session)
	if session.ProviderState != "" {
		s.byProviderState[session.ProviderState] = session.ID
	}
	return nil
}

// GetFlowSession retrieves a flow session by cookie session ID. The
// caller gets a copy: concurrent requests for the same browser session
// each work on their own snapshot and race only through SaveFlowSession.
func (s *Store) GetFlowSession(ctx context.Context, id string) (*storage.FlowSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.flowSessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if session.Expired(time.Now()) {
		return nil, storage.ErrExpired
	}
	return cloneFlowSession(session), nil
}

// GetFlowSessionByProviderState retrieves a flow session by the state
// the bridge sent to the upstream provider.
func (s *Store) GetFlowSessionByProviderState(ctx context.Context, providerState string) (*storage.FlowSession, error) {
	s.mu.RLock()
	id, ok := s.byProviderState[providerState]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.GetFlowSession(ctx, id)
}

// DeleteFlowSession removes a flow session.
func (s *Store) DeleteFlowSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.flowSessions[id]; ok && session.ProviderState != "" {
		delete(s.byProviderState, session.ProviderState)
	}
	delete(s.flowSessions, id)
	return nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("authorization code cannot be nil")
	}
	if code.Code == "" {
		return fmt.Errorf("authorization code value cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code.Code] = code
	return nil
}

// AtomicConsumeAuthorizationCode atomically checks and marks a code as
// used under the write lock, so concurrent redemptions cannot both
// succeed.
func (s *Store) AtomicConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if time.Now().After(authCode.ExpiresAt) {
		delete(s.authCodes, code)
		return nil, storage.ErrExpired
	}
	if authCode.Used {
		s.logger.Warn("Authorization code reuse detected",
			"client_id", authCode.ClientID)
		return nil, storage.ErrCodeUsed
	}

	authCode.Used = true
	return authCode, nil
}

// DeleteAuthorizationCode removes an authorization code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authCodes, code)
	return nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	if client.ClientID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return client, nil
}

// ListClients lists all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expiredSessions, expiredCodes int
	for id, session := range s.flowSessions {
		if session.Expired(now) {
			if session.ProviderState != "" {
				delete(s.byProviderState, session.ProviderState)
			}
			delete(s.flowSessions, id)
			expiredSessions++
		}
	}
	for code, authCode := range s.authCodes {
		if now.After(authCode.ExpiresAt) {
			delete(s.authCodes, code)
			expiredCodes++
		}
	}

	if expiredSessions > 0 || expiredCodes > 0 {
		s.logger.Debug("Cleaned up expired entries",
			"flow_sessions", expiredSessions,
			"auth_codes", expiredCodes)
	}
}
