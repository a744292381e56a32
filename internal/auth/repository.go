// Package auth drives the login flows against a Jellyfin server and owns
// the startup authentication state consumed before anything else runs.
package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/credentials"
	"github.com/offcast/offcast/internal/database"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/session"
)

// State is the startup authentication state. Loading is the only initial
// state and restoration moves it exactly once.
type State string

const (
	StateLoading          State = "loading"
	StateAuthenticated    State = "authenticated"
	StateNotAuthenticated State = "not_authenticated"
)

// Result is the outcome of an authentication attempt. Failures carry a
// message instead of an error so callers never see an exception path.
type Result struct {
	Success bool
	Message string
	User    *jellyfin.User
}

func failure(message string) Result {
	return Result{Message: message}
}

// Repository authenticates against servers and settles the startup state
type Repository struct {
	db       *database.DB
	creds    *credentials.Store
	sessions *session.Manager
	deviceID string

	mu        sync.Mutex
	state     State
	stateSubs map[int]chan State
	nextID    int
	settled   bool
}

// NewRepository creates a repository in the Loading state
func NewRepository(db *database.DB, creds *credentials.Store, sessions *session.Manager, deviceID string) *Repository {
	return &Repository{
		db:        db,
		creds:     creds,
		sessions:  sessions,
		deviceID:  deviceID,
		state:     StateLoading,
		stateSubs: make(map[int]chan State),
	}
}

// State returns the current authentication state
func (r *Repository) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SubscribeState registers a replay-1 authentication-state observer
func (r *Repository) SubscribeState() (<-chan State, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	ch := make(chan State, 1)
	r.stateSubs[id] = ch
	ch <- r.state

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.stateSubs[id]; ok {
			delete(r.stateSubs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (r *Repository) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == s {
		return
	}
	r.state = s
	for _, ch := range r.stateSubs {
		events.Conflate(ch, s)
	}
}

// settle records the one-time Loading transition. Later auth changes still
// update the state but the initial restore only resolves once.
func (r *Repository) settle(authenticated bool) {
	r.mu.Lock()
	alreadySettled := r.settled
	r.settled = true
	r.mu.Unlock()

	if alreadySettled && r.State() != StateLoading {
		return
	}
	if authenticated {
		r.setState(StateAuthenticated)
	} else {
		r.setState(StateNotAuthenticated)
	}
}

// RestoreAuthenticationState validates the stored session against the
// server by fetching the current user. Any failure clears stored auth and
// resolves to NotAuthenticated; nothing propagates as an error.
func (r *Repository) RestoreAuthenticationState(ctx context.Context) bool {
	pointer := r.sessions.Current()
	if pointer == nil {
		if err := r.sessions.RestoreLastSession(ctx); err != nil {
			log.Warn().Err(err).Msg("Session restore failed during auth restore")
			r.settle(false)
			return false
		}
		pointer = r.sessions.Current()
	}
	if pointer == nil {
		r.settle(false)
		return false
	}

	client, err := r.sessions.Client()
	if err != nil {
		r.settle(false)
		return false
	}

	user, err := client.CurrentUser(ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Str("server_id", pointer.ServerID).
			Msg("Stored token failed validation, clearing auth")
		r.clearAuth(pointer)
		r.settle(false)
		return false
	}

	log.Info().
		Str("server_id", pointer.ServerID).
		Str("user", user.Name).
		Msg("Restored authenticated session")
	r.settle(true)
	return true
}

// clearAuth removes the stored token and session pointer so no half-valid
// state survives a failed validation
func (r *Repository) clearAuth(sess *session.Session) {
	if err := r.sessions.Logout(); err != nil {
		log.Warn().Err(err).Msg("Failed to clear session during auth reset")
	}
	if err := r.creds.Delete(sess.ServerID, sess.UserID); err != nil {
		log.Debug().Err(err).Msg("Failed to delete stored token")
	}
}

// AuthenticateByName logs in with username and password and starts the
// session on success
func (r *Repository) AuthenticateByName(ctx context.Context, serverURL, serverID, username, password string) Result {
	client := jellyfin.NewClient(serverURL, "", r.deviceID)
	authResult, err := client.AuthenticateByName(ctx, username, password)
	if err != nil {
		if jellyfin.IsUnauthorized(err) {
			return failure("invalid username or password")
		}
		log.Warn().Err(err).Str("server_url", serverURL).Msg("Authentication request failed")
		return failure("could not reach the server")
	}
	return r.completeAuth(ctx, serverURL, serverID, authResult)
}

// InitiateQuickConnect starts a quick-connect flow on the server
func (r *Repository) InitiateQuickConnect(ctx context.Context, serverURL string) (*jellyfin.QuickConnectResult, error) {
	client := jellyfin.NewClient(serverURL, "", r.deviceID)
	return client.InitiateQuickConnect(ctx)
}

// QuickConnectState polls the state of a pending quick-connect secret
func (r *Repository) QuickConnectState(ctx context.Context, serverURL, secret string) (*jellyfin.QuickConnectResult, error) {
	client := jellyfin.NewClient(serverURL, "", r.deviceID)
	return client.QuickConnectState(ctx, secret)
}

// AuthenticateWithQuickConnect exchanges an approved quick-connect secret
// for a session
func (r *Repository) AuthenticateWithQuickConnect(ctx context.Context, serverURL, serverID, secret string) Result {
	client := jellyfin.NewClient(serverURL, "", r.deviceID)
	authResult, err := client.AuthenticateWithQuickConnect(ctx, secret)
	if err != nil {
		if jellyfin.IsUnauthorized(err) {
			return failure("quick connect request was not approved")
		}
		log.Warn().Err(err).Str("server_url", serverURL).Msg("Quick connect authentication failed")
		return failure("could not reach the server")
	}
	return r.completeAuth(ctx, serverURL, serverID, authResult)
}

// completeAuth persists the server and user rows and starts the session
func (r *Repository) completeAuth(ctx context.Context, serverURL, serverID string, authResult *jellyfin.AuthResult) Result {
	if authResult.User.ID == "" || authResult.AccessToken == "" {
		return failure("server returned an incomplete authentication response")
	}

	if err := r.db.UpsertServer(&database.Server{ID: serverID, Address: serverURL}); err != nil {
		log.Error().Err(err).Msg("Failed to persist server row")
		return failure("could not save the server")
	}
	if err := r.db.UpsertUser(&database.User{
		ID:       authResult.User.ID,
		ServerID: serverID,
		Name:     authResult.User.Name,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to persist user row")
		return failure("could not save the user")
	}

	if err := r.sessions.StartSession(ctx, serverURL, serverID, authResult.User.ID, authResult.AccessToken, "auth"); err != nil {
		log.Error().Err(err).Msg("Failed to start session after authentication")
		return failure("could not start the session")
	}

	r.settle(true)
	r.setState(StateAuthenticated)
	return Result{Success: true, User: &authResult.User}
}

// Logout ends the server-side session best-effort and always clears local
// auth data, even when the server call fails
func (r *Repository) Logout(ctx context.Context) error {
	if client, err := r.sessions.Client(); err == nil {
		if err := client.EndSession(ctx); err != nil {
			log.Warn().Err(err).Msg("Server-side logout failed, clearing local auth anyway")
		}
	}

	err := r.sessions.Logout()
	r.setState(StateNotAuthenticated)
	return err
}
