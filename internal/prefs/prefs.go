// Package prefs persists lightweight daemon preferences: the pointer to the
// last active session plus the download and offline toggles.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const fileName = "prefs.json"

// ActiveSession points at the last session so it can be restored at startup.
type ActiveSession struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	ServerURL string `json:"server_url"`
}

type data struct {
	ActiveSession *ActiveSession `json:"active_session,omitempty"`
	WifiOnly      bool           `json:"wifi_only"`
	ManualOffline bool           `json:"manual_offline"`
}

// Prefs provides concurrent access to the preferences file.
type Prefs struct {
	path string

	mu sync.Mutex
	d  data
}

// Open loads preferences from dir, creating defaults if the file is missing.
func Open(dir string) (*Prefs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create prefs dir: %w", err)
	}

	p := &Prefs{path: filepath.Join(dir, fileName)}

	raw, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prefs: %w", err)
	}
	if err := json.Unmarshal(raw, &p.d); err != nil {
		log.Warn().Err(err).Str("path", p.path).Msg("Preferences file corrupt, starting with defaults")
		p.d = data{}
	}
	return p, nil
}

// ActiveSession returns the stored session pointer, or nil when none is set.
func (p *Prefs) ActiveSession() *ActiveSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.d.ActiveSession == nil {
		return nil
	}
	s := *p.d.ActiveSession
	return &s
}

// SetActiveSession records the session pointer.
func (p *Prefs) SetActiveSession(s ActiveSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.d.ActiveSession = &s
	return p.save()
}

// ClearActiveSession removes the session pointer; used on logout.
func (p *Prefs) ClearActiveSession() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.d.ActiveSession = nil
	return p.save()
}

// WifiOnly reports whether downloads are restricted to unmetered networks.
func (p *Prefs) WifiOnly() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.d.WifiOnly
}

// SetWifiOnly updates the download network constraint.
func (p *Prefs) SetWifiOnly(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.d.WifiOnly = v
	return p.save()
}

// ManualOffline reports the user's manual offline override.
func (p *Prefs) ManualOffline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.d.ManualOffline
}

// SetManualOffline updates the manual offline override.
func (p *Prefs) SetManualOffline(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.d.ManualOffline = v
	return p.save()
}

func (p *Prefs) save() error {
	raw, err := json.MarshalIndent(p.d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prefs: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to replace prefs: %w", err)
	}
	return nil
}
