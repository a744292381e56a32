package credentials

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	token := Token{
		ServerID:    "srv1",
		UserID:      "user1",
		ServerURL:   "http://jf.local:8096",
		AccessToken: "secret-token",
		Username:    "alice",
	}
	if err := store.Put(token); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get("srv1", "user1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.AccessToken != "secret-token" || got.Username != "alice" {
		t.Fatalf("unexpected token %+v", got)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Put(Token{ServerID: "srv1", UserID: "user1", AccessToken: "tok"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.SetCurrent("srv1", "user1"); err != nil {
		t.Fatalf("set current failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	current, err := reopened.Current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if current.AccessToken != "tok" {
		t.Fatalf("unexpected token %+v", current)
	}
}

func TestStore_TokenFileIsEncrypted(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Put(Token{ServerID: "srv1", UserID: "user1", AccessToken: "plaintext-secret"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, tokenFileName))
	if err != nil {
		t.Fatalf("read token file failed: %v", err)
	}
	if bytes.Contains(raw, []byte("plaintext-secret")) {
		t.Fatal("token file contains plaintext secret")
	}
}

func TestStore_BestPicksMostRecent(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if err := store.Put(Token{ServerID: "srv1", UserID: "old", AccessToken: "a"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := store.Put(Token{ServerID: "srv1", UserID: "new", AccessToken: "b"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	best, err := store.Best("srv1")
	if err != nil {
		t.Fatalf("best failed: %v", err)
	}
	if best.UserID != "new" {
		t.Fatalf("expected most recent token, got %+v", best)
	}
}

func TestStore_ClearCurrentKeepsTokens(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Put(Token{ServerID: "srv1", UserID: "user1", AccessToken: "tok"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.SetCurrent("srv1", "user1"); err != nil {
		t.Fatalf("set current failed: %v", err)
	}
	if err := store.ClearCurrent(); err != nil {
		t.Fatalf("clear current failed: %v", err)
	}

	if _, err := store.Current(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}

	// The per-user token row survives logout
	if _, err := store.Get("srv1", "user1"); err != nil {
		t.Fatalf("token should survive clear: %v", err)
	}
}
