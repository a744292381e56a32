// Package handlers implements the JSON control API of the daemon.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/auth"
	"github.com/offcast/offcast/internal/connectivity"
	"github.com/offcast/offcast/internal/downloader"
	"github.com/offcast/offcast/internal/media"
	"github.com/offcast/offcast/internal/offline"
	"github.com/offcast/offcast/internal/playback"
	"github.com/offcast/offcast/internal/prefs"
	"github.com/offcast/offcast/internal/session"
	"github.com/offcast/offcast/internal/socket"
)

// Handlers carries the daemon components the API exposes
type Handlers struct {
	auth      *auth.Repository
	sessions  *session.Manager
	downloads *downloader.Manager
	media     *media.Repository
	playback  *playback.Manager
	userData  *playback.UserDataRepository
	pipeline  *socket.Pipeline
	network   *connectivity.Monitor
	offline   *offline.Manager
	prefs     *prefs.Prefs
}

// New creates the handler set
func New(
	authRepo *auth.Repository,
	sessions *session.Manager,
	downloads *downloader.Manager,
	mediaRepo *media.Repository,
	playbackMgr *playback.Manager,
	userData *playback.UserDataRepository,
	pipeline *socket.Pipeline,
	network *connectivity.Monitor,
	offlineMgr *offline.Manager,
	p *prefs.Prefs,
) *Handlers {
	return &Handlers{
		auth:      authRepo,
		sessions:  sessions,
		downloads: downloads,
		media:     mediaRepo,
		playback:  playbackMgr,
		userData:  userData,
		pipeline:  pipeline,
		network:   network,
		offline:   offlineMgr,
		prefs:     p,
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeBody parses a JSON request body into dst
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, downloader.ErrDownloadNotFound),
		errors.Is(err, downloader.ErrItemNotFound),
		errors.Is(err, downloader.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, downloader.ErrAlreadyDownloaded),
		errors.Is(err, downloader.ErrAlreadyDownloading),
		errors.Is(err, downloader.ErrNotResumable):
		return http.StatusConflict
	case errors.Is(err, downloader.ErrInsufficientSpace):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func respondDomainError(w http.ResponseWriter, err error) {
	respondJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}
