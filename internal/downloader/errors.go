package downloader

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"
)

var (
	// ErrAlreadyDownloaded is returned when a completed download exists for
	// the requested item and source
	ErrAlreadyDownloaded = errors.New("item is already downloaded")

	// ErrAlreadyDownloading is returned when a non-terminal download exists
	// for the requested item and source
	ErrAlreadyDownloading = errors.New("item is already downloading")

	// ErrItemNotFound is returned when the server does not know the item
	ErrItemNotFound = errors.New("item not found")

	// ErrSourceNotFound is returned when the item has no such media source
	ErrSourceNotFound = errors.New("source not found")

	// ErrInsufficientSpace is returned when the download root is low on space
	ErrInsufficientSpace = errors.New("insufficient storage space")

	// ErrNotResumable is returned when resume is requested for a download
	// that is neither paused nor failed
	ErrNotResumable = errors.New("download is not paused or failed")

	// ErrDownloadNotFound is returned for operations on unknown download ids
	ErrDownloadNotFound = errors.New("download not found")
)

// errSuperseded flows out of a chain whose guarded completion write lost to
// a concurrent pause or cancel. The worker drops the outcome instead of
// recording it.
var errSuperseded = errors.New("download status superseded")

// failureMessage maps a job error to the short category stored on the row
// and shown to the user
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientSpace), errors.Is(err, syscall.ENOSPC):
		return "insufficient storage space"
	case strings.Contains(err.Error(), "stopped after 10 redirects"):
		return "too many redirects"
	case errors.Is(err, fs.ErrExist):
		return "file already exists"
	default:
		return "download failed: " + err.Error()
	}
}
