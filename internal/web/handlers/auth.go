package handlers

import (
	"net/http"

	"github.com/offcast/offcast/internal/auth"
)

type authResultPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Name    string `json:"user_name,omitempty"`
}

func authResultJSON(w http.ResponseWriter, result auth.Result) {
	payload := authResultPayload{Success: result.Success, Message: result.Message}
	if result.User != nil {
		payload.UserID = result.User.ID
		payload.Name = result.User.Name
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnauthorized
	}
	respondJSON(w, status, payload)
}

// Login authenticates with username and password
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerURL string `json:"server_url"`
		ServerID  string `json:"server_id"`
		Username  string `json:"username"`
		Password  string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ServerURL == "" || body.ServerID == "" || body.Username == "" {
		respondError(w, http.StatusBadRequest, "server_url, server_id and username are required")
		return
	}
	authResultJSON(w, h.auth.AuthenticateByName(r.Context(), body.ServerURL, body.ServerID, body.Username, body.Password))
}

// QuickConnectInitiate starts a quick-connect pairing attempt
func (h *Handlers) QuickConnectInitiate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerURL string `json:"server_url"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.auth.InitiateQuickConnect(r.Context(), body.ServerURL)
	if err != nil {
		respondError(w, http.StatusBadGateway, "quick connect unavailable")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// QuickConnectState polls a pending quick-connect secret
func (h *Handlers) QuickConnectState(w http.ResponseWriter, r *http.Request) {
	serverURL := r.URL.Query().Get("server_url")
	secret := r.URL.Query().Get("secret")
	if serverURL == "" || secret == "" {
		respondError(w, http.StatusBadRequest, "server_url and secret are required")
		return
	}
	result, err := h.auth.QuickConnectState(r.Context(), serverURL, secret)
	if err != nil {
		respondError(w, http.StatusBadGateway, "quick connect unavailable")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// QuickConnectAuthenticate exchanges an approved secret for a session
func (h *Handlers) QuickConnectAuthenticate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerURL string `json:"server_url"`
		ServerID  string `json:"server_id"`
		Secret    string `json:"secret"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	authResultJSON(w, h.auth.AuthenticateWithQuickConnect(r.Context(), body.ServerURL, body.ServerID, body.Secret))
}

// Logout ends the session and clears local auth state
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"auth_state": string(h.auth.State())})
}

// SwitchServer activates a different saved server
func (h *Handlers) SwitchServer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerID string `json:"server_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.sessions.SwitchServer(r.Context(), body.ServerID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"server_id": body.ServerID})
}

// SwitchUser activates a different saved user on a server
func (h *Handlers) SwitchUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ServerID string `json:"server_id"`
		UserID   string `json:"user_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.sessions.SwitchUser(r.Context(), body.ServerID, body.UserID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"server_id": body.ServerID, "user_id": body.UserID})
}
