package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Item returns a media item, served from cache when possible
func (h *Handlers) Item(w http.ResponseWriter, r *http.Request) {
	item, err := h.media.Item(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// RefreshItem bypasses the cache and refetches an item
func (h *Handlers) RefreshItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.media.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// NextUp returns the continue-watching shelf
func (h *Handlers) NextUp(w http.ResponseWriter, r *http.Request) {
	limit := 24
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := h.media.NextUp(r.Context(), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// SetPlayed marks an item played or unplayed
func (h *Handlers) SetPlayed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Played bool `json:"played"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	data, err := h.userData.SetPlayed(r.Context(), chi.URLParam(r, "id"), body.Played)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, data)
}

// SetFavorite marks an item as favorite or clears the flag
func (h *Handlers) SetFavorite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Favorite bool `json:"favorite"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	data, err := h.userData.SetFavorite(r.Context(), chi.URLParam(r, "id"), body.Favorite)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, data)
}

// SetRating sets or clears the like/dislike rating. A null likes value
// clears the rating.
func (h *Handlers) SetRating(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Likes *bool `json:"likes"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	data, err := h.userData.SetRating(r.Context(), chi.URLParam(r, "id"), body.Likes)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, data)
}

// SetWatchlist adds or removes an item from the watchlist
func (h *Handlers) SetWatchlist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Watchlisted bool `json:"watchlisted"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	itemID := chi.URLParam(r, "id")
	var err error
	if body.Watchlisted {
		err = h.userData.AddToWatchlist(r.Context(), itemID)
	} else {
		err = h.userData.RemoveFromWatchlist(r.Context(), itemID)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"watchlisted": body.Watchlisted})
}
