// Package session owns the authenticated state of the daemon: which server
// and user are active, one API client per server, and the connection state
// derived from session operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/credentials"
	"github.com/offcast/offcast/internal/database"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/prefs"
)

// ErrNoSession is returned by operations that require an active session
var ErrNoSession = errors.New("session: no active session")

// Manager is the single authority for session and connection state.
// All public methods are safe for concurrent use.
type Manager struct {
	db       *database.DB
	creds    *credentials.Store
	prefs    *prefs.Prefs
	deviceID string

	mu      sync.RWMutex
	current *Session
	state   ConnectionState
	clients map[string]*jellyfin.Client

	sessionSubs map[int]chan *Session
	stateSubs   map[int]chan ConnectionState
	nextID      int
}

// NewManager creates the session manager in the Disconnected state
func NewManager(db *database.DB, creds *credentials.Store, p *prefs.Prefs, deviceID string) *Manager {
	return &Manager{
		db:          db,
		creds:       creds,
		prefs:       p,
		deviceID:    deviceID,
		state:       Disconnected(),
		clients:     make(map[string]*jellyfin.Client),
		sessionSubs: make(map[int]chan *Session),
		stateSubs:   make(map[int]chan ConnectionState),
	}
}

// Current returns the active session, or nil when disconnected
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// State returns the current connection state
func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SubscribeSession registers a replay-1 session observer
func (m *Manager) SubscribeSession() (<-chan *Session, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan *Session, 1)
	m.sessionSubs[id] = ch
	ch <- m.current

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.sessionSubs[id]; ok {
			delete(m.sessionSubs, id)
			close(c)
		}
	}
	return ch, cancel
}

// SubscribeState registers a replay-1 connection-state observer
func (m *Manager) SubscribeState() (<-chan ConnectionState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan ConnectionState, 1)
	m.stateSubs[id] = ch
	ch <- m.state

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.stateSubs[id]; ok {
			delete(m.stateSubs, id)
			close(c)
		}
	}
	return ch, cancel
}

// publishLocked pushes the current session and state to all observers,
// conflating so each observer sees the latest value even when it lags.
// Callers must hold m.mu.
func (m *Manager) publishLocked() {
	for _, ch := range m.sessionSubs {
		events.Conflate(ch, m.current)
	}
	for _, ch := range m.stateSubs {
		events.Conflate(ch, m.state)
	}
}

// StartSession makes (serverURL, serverID, userID, accessToken) the active
// session: configures the per-server API client, persists credentials and
// the active-session pointer, and publishes ConnectionState=Online. Any
// failure leaves the manager Disconnected and is returned, never thrown.
func (m *Manager) StartSession(ctx context.Context, serverURL, serverID, userID, accessToken, caller string) error {
	log.Info().
		Str("server_id", serverID).
		Str("user_id", userID).
		Str("caller", caller).
		Msg("Starting session")

	err := m.startSession(ctx, serverURL, serverID, userID, accessToken)
	if err != nil {
		log.Error().Err(err).Str("caller", caller).Msg("Failed to start session")
		m.mu.Lock()
		m.current = nil
		m.state = Disconnected()
		m.publishLocked()
		m.mu.Unlock()
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

func (m *Manager) startSession(ctx context.Context, serverURL, serverID, userID, accessToken string) error {
	// Cached rows are optional; the session carries what exists locally
	server, err := m.db.GetServer(serverID)
	if err != nil {
		return err
	}
	user, err := m.db.GetUser(userID, serverID)
	if err != nil {
		return err
	}

	client := m.clientFor(serverID)
	client.SetBaseURL(serverURL)
	client.SetToken(accessToken)

	username := ""
	if user != nil {
		username = user.Name
	}
	if err := m.creds.Put(credentials.Token{
		ServerID:    serverID,
		UserID:      userID,
		ServerURL:   serverURL,
		AccessToken: accessToken,
		Username:    username,
	}); err != nil {
		return err
	}
	if err := m.creds.SetCurrent(serverID, userID); err != nil {
		return err
	}
	if err := m.prefs.SetActiveSession(prefs.ActiveSession{
		ServerID:  serverID,
		UserID:    userID,
		ServerURL: serverURL,
	}); err != nil {
		return err
	}

	session := &Session{
		ServerID:  serverID,
		UserID:    userID,
		ServerURL: serverURL,
		User:      user,
		Server:    server,
	}

	m.mu.Lock()
	m.current = session
	m.state = Online(session)
	m.publishLocked()
	m.mu.Unlock()

	if err := m.db.TouchUserLogin(userID, serverID); err != nil {
		log.Debug().Err(err).Msg("Failed to record login time")
	}
	return nil
}

// SwitchServer activates the most recently used user on another server
func (m *Manager) SwitchServer(ctx context.Context, serverID string) error {
	server, err := m.db.GetServer(serverID)
	if err != nil {
		return err
	}
	if server == nil {
		return fmt.Errorf("unknown server %q", serverID)
	}

	token, err := m.creds.Best(serverID)
	if err != nil {
		return fmt.Errorf("no saved login for server %q: %w", serverID, err)
	}
	return m.switchTo(ctx, server, token)
}

// SwitchUser activates a specific user on a server using its saved token
func (m *Manager) SwitchUser(ctx context.Context, serverID, userID string) error {
	server, err := m.db.GetServer(serverID)
	if err != nil {
		return err
	}
	if server == nil {
		return fmt.Errorf("unknown server %q", serverID)
	}

	token, err := m.creds.Get(serverID, userID)
	if err != nil {
		return fmt.Errorf("no saved login for user %q on server %q: %w", userID, serverID, err)
	}
	return m.switchTo(ctx, server, token)
}

func (m *Manager) switchTo(ctx context.Context, server *database.Server, token *credentials.Token) error {
	// Orphaned tokens (missing user row) are treated as absent
	user, err := m.db.GetUser(token.UserID, server.ID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user row for saved login %q on server %q", token.UserID, server.ID)
	}

	serverURL := token.ServerURL
	if serverURL == "" {
		serverURL = server.Address
	}
	return m.StartSession(ctx, serverURL, server.ID, token.UserID, token.AccessToken, "switch")
}

// RestoreLastSession re-activates the session recorded in preferences.
// A missing pointer or token is not an error: the pointer is cleared and the
// manager stays Disconnected.
func (m *Manager) RestoreLastSession(ctx context.Context) error {
	pointer := m.prefs.ActiveSession()
	if pointer == nil {
		log.Debug().Msg("No saved session to restore")
		return nil
	}

	token, err := m.creds.Get(pointer.ServerID, pointer.UserID)
	if err != nil {
		log.Info().
			Str("server_id", pointer.ServerID).
			Str("user_id", pointer.UserID).
			Msg("Saved session has no token, clearing pointer")
		return m.prefs.ClearActiveSession()
	}

	serverURL := pointer.ServerURL
	if serverURL == "" {
		serverURL = token.ServerURL
	}
	return m.StartSession(ctx, serverURL, pointer.ServerID, pointer.UserID, token.AccessToken, "restore")
}

// clientFor returns the cached client for a server, creating it if needed
func (m *Manager) clientFor(serverID string) *jellyfin.Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[serverID]; ok {
		return client
	}
	client := jellyfin.NewClient("", "", m.deviceID)
	m.clients[serverID] = client
	return client
}

// Client returns the API client for the current session
func (m *Manager) Client() (*jellyfin.Client, error) {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	if current == nil {
		return nil, ErrNoSession
	}
	return m.clientFor(current.ServerID), nil
}

// GetOrRestoreClient reconstructs an API client for background work against
// a server that may not be the current session, using the best saved token.
func (m *Manager) GetOrRestoreClient(serverID string) (*jellyfin.Client, error) {
	m.mu.RLock()
	client, ok := m.clients[serverID]
	m.mu.RUnlock()
	if ok && client.Token() != "" {
		return client, nil
	}

	server, err := m.db.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return nil, fmt.Errorf("unknown server %q", serverID)
	}

	token, err := m.creds.Best(serverID)
	if err != nil {
		return nil, fmt.Errorf("no saved login for server %q: %w", serverID, err)
	}

	client = m.clientFor(serverID)
	serverURL := token.ServerURL
	if serverURL == "" {
		serverURL = server.Address
	}
	client.SetBaseURL(serverURL)
	client.SetToken(token.AccessToken)
	return client, nil
}

// EnterOfflineMode flips the connection state to Offline while preserving
// the session. Without a session this is a warning no-op.
func (m *Manager) EnterOfflineMode() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		log.Warn().Msg("Cannot enter offline mode without an active session")
		return
	}
	if m.state.Kind == StateOffline {
		return
	}
	m.state = Offline(m.current, time.Now())
	m.publishLocked()
	log.Info().Str("server_id", m.current.ServerID).Msg("Entered offline mode")
}

// ReturnOnline flips the connection state back to Online
func (m *Manager) ReturnOnline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		log.Warn().Msg("Cannot return online without an active session")
		return
	}
	if m.state.Kind == StateOnline {
		return
	}
	m.state = Online(m.current)
	m.publishLocked()
	log.Info().Str("server_id", m.current.ServerID).Msg("Returned online")
}

// Logout clears the active-session pointer and live state. The per-user
// token rows are kept so a later login can skip credential entry.
func (m *Manager) Logout() error {
	if err := m.prefs.ClearActiveSession(); err != nil {
		return err
	}
	if err := m.creds.ClearCurrent(); err != nil {
		return err
	}

	m.mu.Lock()
	previous := m.current
	m.current = nil
	m.state = Disconnected()
	m.publishLocked()
	m.mu.Unlock()

	if previous != nil {
		log.Info().
			Str("server_id", previous.ServerID).
			Str("user_id", previous.UserID).
			Msg("Logged out")
	}
	return nil
}
