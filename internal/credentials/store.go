// Package credentials persists per-server, per-user access tokens encrypted
// at rest with AES-GCM. The encryption key is derived with scrypt from a
// random secret generated on first run and stored next to the token file.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/scrypt"
)

const (
	keyFileName   = "offcast.key"
	tokenFileName = "tokens.enc"

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrNotFound is returned when no token exists for the requested scope.
var ErrNotFound = errors.New("credentials: token not found")

// Token is a stored access token for one server+user pair.
type Token struct {
	ServerID    string    `json:"server_id"`
	UserID      string    `json:"user_id"`
	ServerURL   string    `json:"server_url"`
	AccessToken string    `json:"access_token"`
	Username    string    `json:"username"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// vault is the decrypted on-disk layout.
type vault struct {
	// Current identifies the active token slot; empty when logged out.
	CurrentServerID string  `json:"current_server_id,omitempty"`
	CurrentUserID   string  `json:"current_user_id,omitempty"`
	Tokens          []Token `json:"tokens"`
}

// Store holds tokens in memory and mirrors every change to the encrypted file.
type Store struct {
	dir string
	key []byte

	mu sync.Mutex
	v  vault
}

// Open loads (or initializes) the credential store under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials dir: %w", err)
	}

	key, err := loadOrCreateKey(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, err
	}

	s := &Store{dir: dir, key: key}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put stores or replaces the token for (serverID, userID).
func (s *Store) Put(token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token.UpdatedAt = time.Now()
	for i, t := range s.v.Tokens {
		if t.ServerID == token.ServerID && t.UserID == token.UserID {
			s.v.Tokens[i] = token
			return s.save()
		}
	}
	s.v.Tokens = append(s.v.Tokens, token)
	return s.save()
}

// Get returns the token for (serverID, userID).
func (s *Store) Get(serverID, userID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.v.Tokens {
		if t.ServerID == serverID && t.UserID == userID {
			token := t
			return &token, nil
		}
	}
	return nil, ErrNotFound
}

// Best returns the most recently updated token for a server, used to
// reconstruct API clients for background work.
func (s *Store) Best(serverID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []Token
	for _, t := range s.v.Tokens {
		if t.ServerID == serverID {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	token := candidates[0]
	return &token, nil
}

// Delete removes the token for (serverID, userID). Missing tokens are not an error.
func (s *Store) Delete(serverID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.v.Tokens {
		if t.ServerID == serverID && t.UserID == userID {
			s.v.Tokens = append(s.v.Tokens[:i], s.v.Tokens[i+1:]...)
			return s.save()
		}
	}
	return nil
}

// SetCurrent records which token slot is active.
func (s *Store) SetCurrent(serverID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.v.CurrentServerID = serverID
	s.v.CurrentUserID = userID
	return s.save()
}

// ClearCurrent clears the active slot without touching stored tokens.
func (s *Store) ClearCurrent() error {
	return s.SetCurrent("", "")
}

// Current returns the token in the active slot, or ErrNotFound when logged out.
func (s *Store) Current() (*Token, error) {
	s.mu.Lock()
	serverID, userID := s.v.CurrentServerID, s.v.CurrentUserID
	s.mu.Unlock()

	if serverID == "" || userID == "" {
		return nil, ErrNotFound
	}
	return s.Get(serverID, userID)
}

func (s *Store) load() error {
	path := filepath.Join(s.dir, tokenFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}

	plaintext, err := decrypt(s.key, data)
	if err != nil {
		// A corrupt or foreign-key token file is unrecoverable; start clean
		// rather than wedging every session operation behind it.
		log.Warn().Err(err).Str("path", path).Msg("Token file unreadable, starting with empty credential store")
		return nil
	}

	if err := json.Unmarshal(plaintext, &s.v); err != nil {
		log.Warn().Err(err).Msg("Token file corrupt, starting with empty credential store")
		s.v = vault{}
	}
	return nil
}

func (s *Store) save() error {
	plaintext, err := json.Marshal(s.v)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	ciphertext, err := encrypt(s.key, plaintext)
	if err != nil {
		return err
	}

	// Atomic replace so a crash mid-write never loses the previous state
	path := filepath.Join(s.dir, tokenFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// loadOrCreateKey reads the per-install secret and derives the AES key from
// it with scrypt. A missing secret is generated and written with 0600.
func loadOrCreateKey(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		secret = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			return nil, fmt.Errorf("failed to generate key secret: %w", err)
		}
		if err := os.WriteFile(path, secret, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write key file: %w", err)
		}
		log.Info().Str("path", path).Msg("Generated new credential key file")
	} else if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := scrypt.Key(secret, []byte("offcast-credentials"), scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
