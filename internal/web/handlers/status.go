package handlers

import (
	"net/http"
	"time"
)

type sessionPayload struct {
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name,omitempty"`
	ServerURL  string `json:"server_url"`
	UserID     string `json:"user_id"`
	UserName   string `json:"user_name,omitempty"`
}

type statusPayload struct {
	AuthState    string          `json:"auth_state"`
	Connection   string          `json:"connection"`
	LastSyncTime *time.Time      `json:"last_sync_time,omitempty"`
	Socket       string          `json:"socket"`
	Link         string          `json:"link"`
	Offline      bool            `json:"offline"`
	ManualOff    bool            `json:"manual_offline"`
	WifiOnly     bool            `json:"wifi_only"`
	Session      *sessionPayload `json:"session,omitempty"`
}

// Status reports the daemon's aggregate state in one round trip
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	state := h.sessions.State()

	payload := statusPayload{
		AuthState:  string(h.auth.State()),
		Connection: string(state.Kind),
		Socket:     string(h.pipeline.State()),
		Link:       string(h.network.Current().Link),
		Offline:    h.offline.IsOffline(),
		ManualOff:  h.offline.ManualOffline(),
		WifiOnly:   h.prefs.WifiOnly(),
	}
	if !state.LastSyncTime.IsZero() {
		t := state.LastSyncTime
		payload.LastSyncTime = &t
	}
	if s := state.Session; s != nil {
		payload.Session = &sessionPayload{
			ServerID:  s.ServerID,
			ServerURL: s.ServerURL,
			UserID:    s.UserID,
		}
		if s.Server != nil {
			payload.Session.ServerName = s.Server.Name
		}
		if s.User != nil {
			payload.Session.UserName = s.User.Name
		}
	}

	respondJSON(w, http.StatusOK, payload)
}

// SetOffline toggles the manual offline override
func (h *Handlers) SetOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Offline bool `json:"offline"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.offline.SetManualOffline(body.Offline); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"offline": h.offline.IsOffline()})
}

// SetWifiOnly toggles the wifi-only download restriction
func (h *Handlers) SetWifiOnly(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WifiOnly bool `json:"wifi_only"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.prefs.SetWifiOnly(body.WifiOnly); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"wifi_only": h.prefs.WifiOnly()})
}
