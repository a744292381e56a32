package handlers

import (
	"net/http"

	"github.com/offcast/offcast/internal/jellyfin"
)

// DiscoverServers broadcasts on the local network and returns responders
func (h *Handlers) DiscoverServers(w http.ResponseWriter, r *http.Request) {
	servers, err := jellyfin.Discover(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "discovery failed")
		return
	}
	if servers == nil {
		servers = []jellyfin.DiscoveredServer{}
	}
	respondJSON(w, http.StatusOK, servers)
}

// ResolveServer normalizes a user-entered address and probes it
func (h *Handlers) ResolveServer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}

	resolved, info, err := jellyfin.ResolveAddress(r.Context(), body.Address)
	if err != nil {
		respondError(w, http.StatusBadGateway, "no server reachable at that address")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"address": resolved,
		"info":    info,
	})
}
