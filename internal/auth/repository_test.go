package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/offcast/offcast/internal/credentials"
	"github.com/offcast/offcast/internal/database"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/prefs"
	"github.com/offcast/offcast/internal/session"
)

func testRepository(t *testing.T) (*Repository, *session.Manager, *database.DB, *credentials.Store, *prefs.Prefs) {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("database open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	creds, err := credentials.Open(filepath.Join(dir, "creds"))
	if err != nil {
		t.Fatalf("credentials open failed: %v", err)
	}
	p, err := prefs.Open(dir)
	if err != nil {
		t.Fatalf("prefs open failed: %v", err)
	}

	sessions := session.NewManager(db, creds, p, "test-device")
	return NewRepository(db, creds, sessions, "test-device"), sessions, db, creds, p
}

func seedSession(t *testing.T, db *database.DB, creds *credentials.Store, p *prefs.Prefs, serverURL, serverID, userID string) {
	t.Helper()
	if err := db.UpsertServer(&database.Server{ID: serverID, Name: "Home", Address: serverURL}); err != nil {
		t.Fatalf("seed server failed: %v", err)
	}
	if err := db.UpsertUser(&database.User{ID: userID, ServerID: serverID, Name: "alice"}); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	if err := creds.Put(credentials.Token{
		ServerID:    serverID,
		UserID:      userID,
		ServerURL:   serverURL,
		AccessToken: "tok-stored",
	}); err != nil {
		t.Fatalf("seed token failed: %v", err)
	}
	if err := creds.SetCurrent(serverID, userID); err != nil {
		t.Fatalf("set current failed: %v", err)
	}
	if err := p.SetActiveSession(prefs.ActiveSession{ServerID: serverID, UserID: userID, ServerURL: serverURL}); err != nil {
		t.Fatalf("set active session failed: %v", err)
	}
}

func TestRestoreAuthenticationState_ValidToken(t *testing.T) {
	repo, _, db, creds, p := testRepository(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Users/Me" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(jellyfin.User{ID: "user1", Name: "alice"})
	}))
	defer srv.Close()

	seedSession(t, db, creds, p, srv.URL, "srv1", "user1")

	if repo.State() != StateLoading {
		t.Fatalf("expected Loading before restore, got %v", repo.State())
	}
	if !repo.RestoreAuthenticationState(context.Background()) {
		t.Fatal("restore should succeed with a valid token")
	}
	if repo.State() != StateAuthenticated {
		t.Fatalf("expected Authenticated, got %v", repo.State())
	}
}

func TestRestoreAuthenticationState_RejectedTokenClearsAuth(t *testing.T) {
	repo, sessions, db, creds, p := testRepository(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	seedSession(t, db, creds, p, srv.URL, "srv1", "user1")

	if repo.RestoreAuthenticationState(context.Background()) {
		t.Fatal("restore should fail when the server rejects the token")
	}
	if repo.State() != StateNotAuthenticated {
		t.Fatalf("expected NotAuthenticated, got %v", repo.State())
	}
	if sessions.Current() != nil {
		t.Fatalf("session should be cleared, got %+v", sessions.Current())
	}
	if _, err := creds.Get("srv1", "user1"); err == nil {
		t.Fatal("stored token should be deleted after rejection")
	}
}

func TestRestoreAuthenticationState_NoStoredSession(t *testing.T) {
	repo, _, _, _, _ := testRepository(t)

	if repo.RestoreAuthenticationState(context.Background()) {
		t.Fatal("restore should report false with nothing stored")
	}
	if repo.State() != StateNotAuthenticated {
		t.Fatalf("expected NotAuthenticated, got %v", repo.State())
	}
}

func TestAuthenticateByName(t *testing.T) {
	repo, sessions, _, creds, _ := testRepository(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Users/AuthenticateByName" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Username string `json:"Username"`
			Pw       string `json:"Pw"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Pw != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(jellyfin.AuthResult{
			User:        jellyfin.User{ID: "user1", Name: body.Username},
			AccessToken: "tok-fresh",
			ServerID:    "srv1",
		})
	}))
	defer srv.Close()

	result := repo.AuthenticateByName(context.Background(), srv.URL, "srv1", "alice", "wrong")
	if result.Success {
		t.Fatal("bad password should fail")
	}
	if result.Message != "invalid username or password" {
		t.Fatalf("unexpected failure message %q", result.Message)
	}

	result = repo.AuthenticateByName(context.Background(), srv.URL, "srv1", "alice", "hunter2")
	if !result.Success {
		t.Fatalf("login should succeed, got %+v", result)
	}
	if result.User == nil || result.User.Name != "alice" {
		t.Fatalf("unexpected user %+v", result.User)
	}
	if repo.State() != StateAuthenticated {
		t.Fatalf("expected Authenticated, got %v", repo.State())
	}

	current := sessions.Current()
	if current == nil || current.ServerID != "srv1" || current.UserID != "user1" {
		t.Fatalf("unexpected session %+v", current)
	}
	token, err := creds.Get("srv1", "user1")
	if err != nil {
		t.Fatalf("token should be stored: %v", err)
	}
	if token.AccessToken != "tok-fresh" {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestAuthenticateByName_ServerUnreachable(t *testing.T) {
	repo, _, _, _, _ := testRepository(t)

	result := repo.AuthenticateByName(context.Background(), "http://127.0.0.1:1", "srv1", "alice", "hunter2")
	if result.Success {
		t.Fatal("unreachable server should fail")
	}
	if result.Message != "could not reach the server" {
		t.Fatalf("unexpected failure message %q", result.Message)
	}
}

func TestLogout_ClearsLocalStateWhenServerFails(t *testing.T) {
	repo, sessions, db, creds, p := testRepository(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Users/Me":
			json.NewEncoder(w).Encode(jellyfin.User{ID: "user1", Name: "alice"})
		case "/Sessions/Logout":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	seedSession(t, db, creds, p, srv.URL, "srv1", "user1")
	if !repo.RestoreAuthenticationState(context.Background()) {
		t.Fatal("restore should succeed")
	}

	if err := repo.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if repo.State() != StateNotAuthenticated {
		t.Fatalf("expected NotAuthenticated, got %v", repo.State())
	}
	if sessions.Current() != nil {
		t.Fatal("session should be cleared after logout")
	}
	if _, err := creds.Get("srv1", "user1"); err != nil {
		t.Fatalf("logout keeps the token for later restore: %v", err)
	}
}

func TestSubscribeState_SettlesOnce(t *testing.T) {
	repo, _, _, _, _ := testRepository(t)

	states, cancel := repo.SubscribeState()
	defer cancel()

	if got := <-states; got != StateLoading {
		t.Fatalf("expected Loading replay, got %v", got)
	}

	repo.settle(false)
	repo.settle(true)

	if got := <-states; got != StateNotAuthenticated {
		t.Fatalf("expected NotAuthenticated, got %v", got)
	}
	select {
	case got := <-states:
		t.Fatalf("second settle should be ignored, got %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}
