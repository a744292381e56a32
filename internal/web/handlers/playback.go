package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/offcast/offcast/internal/media"
)

// NowPlaying reports the current playback state, or 204 when idle
func (h *Handlers) NowPlaying(w http.ResponseWriter, r *http.Request) {
	current := h.playback.Current()
	if current == nil {
		respondJSON(w, http.StatusNoContent, nil)
		return
	}
	respondJSON(w, http.StatusOK, current)
}

// StartPlayback reports playback start to the server
func (h *Handlers) StartPlayback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemID   string `json:"item_id"`
		SourceID string `json:"source_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ItemID == "" {
		respondError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	if err := h.playback.Start(r.Context(), body.ItemID, body.SourceID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.playback.Current())
}

// PlaybackProgress reports a position update
func (h *Handlers) PlaybackProgress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PositionTicks int64 `json:"position_ticks"`
		Paused        bool  `json:"paused"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.playback.Progress(r.Context(), body.PositionTicks, body.Paused); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StopPlayback reports playback stop with the final position
func (h *Handlers) StopPlayback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PositionTicks int64 `json:"position_ticks"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.playback.Stop(r.Context(), body.PositionTicks); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// Segments returns the skippable media segments for an item
func (h *Handlers) Segments(w http.ResponseWriter, r *http.Request) {
	segments, err := h.playback.Segments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, segments)
}

type sourcePayload struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Container string `json:"container"`
	Size      int64  `json:"size"`
	StreamURL string `json:"stream_url"`
}

// Sources lists an item's media sources with display labels and direct
// stream URLs
func (h *Handlers) Sources(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	item, err := h.media.Item(r.Context(), itemID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	client, err := h.sessions.Client()
	if err != nil {
		respondDomainError(w, err)
		return
	}

	payload := make([]sourcePayload, 0, len(item.MediaSources))
	for _, source := range item.MediaSources {
		payload = append(payload, sourcePayload{
			ID:        source.ID,
			Label:     media.SourceLabel(source),
			Container: source.Container,
			Size:      source.Size,
			StreamURL: client.StreamURL(itemID, source.ID, source.Container),
		})
	}
	respondJSON(w, http.StatusOK, payload)
}
