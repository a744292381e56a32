package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/offcast/offcast/internal/database"
)

type downloadPayload struct {
	ID              string  `json:"id"`
	ItemID          string  `json:"item_id"`
	ItemName        string  `json:"item_name"`
	ItemType        string  `json:"item_type"`
	SourceID        string  `json:"source_id"`
	SourceName      string  `json:"source_name,omitempty"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	FilePath        string  `json:"file_path,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func downloadJSON(d *database.Download) downloadPayload {
	return downloadPayload{
		ID:              d.ID,
		ItemID:          d.ItemID,
		ItemName:        d.ItemName,
		ItemType:        d.ItemType,
		SourceID:        d.SourceID,
		SourceName:      d.SourceName,
		Status:          string(d.Status),
		Progress:        d.Progress,
		BytesDownloaded: d.BytesDownloaded,
		TotalBytes:      d.TotalBytes,
		FilePath:        d.FilePath,
		Error:           d.Error,
	}
}

// ListDownloads returns every download for the active session
func (h *Handlers) ListDownloads(w http.ResponseWriter, r *http.Request) {
	downloads, err := h.downloads.Downloads()
	if err != nil {
		respondDomainError(w, err)
		return
	}
	payload := make([]downloadPayload, 0, len(downloads))
	for _, d := range downloads {
		payload = append(payload, downloadJSON(d))
	}
	respondJSON(w, http.StatusOK, payload)
}

// StartDownload queues a new download
func (h *Handlers) StartDownload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemID   string `json:"item_id"`
		SourceID string `json:"source_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ItemID == "" || body.SourceID == "" {
		respondError(w, http.StatusBadRequest, "item_id and source_id are required")
		return
	}

	d, err := h.downloads.StartDownload(r.Context(), body.ItemID, body.SourceID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, downloadJSON(d))
}

// PauseDownload pauses a queued or running download
func (h *Handlers) PauseDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.PauseDownload(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeDownload requeues a paused or failed download
func (h *Handlers) ResumeDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.ResumeDownload(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// CancelDownload aborts a download and removes its partial files
func (h *Handlers) CancelDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.CancelDownload(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// DeleteDownload removes a completed download and its files
func (h *Handlers) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.DeleteDownload(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DownloadStorage reports downloaded bytes and free disk space
func (h *Handlers) DownloadStorage(w http.ResponseWriter, r *http.Request) {
	allServers := r.URL.Query().Get("all") == "true"
	used, err := h.downloads.StorageUsage(allServers)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	free, err := h.downloads.FreeSpace()
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{
		"used_bytes": used,
		"free_bytes": free,
	})
}
