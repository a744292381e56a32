package downloader

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/database"
)

// Reconcile heals download rows whose on-disk state no longer matches.
// Downloads stuck in downloading (the process died mid-transfer) are
// requeued, and completed downloads whose files were removed behind our
// back are demoted to queued so the next dispatch re-fetches them.
func (m *Manager) Reconcile() {
	stuck, err := m.db.ListDownloadsByStatus(database.DownloadStatusDownloading)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list downloads for reconciliation")
		return
	}
	for _, d := range stuck {
		m.activeMu.Lock()
		_, running := m.active[d.ID]
		m.activeMu.Unlock()
		if running {
			continue
		}
		log.Info().
			Str("download_id", d.ID).
			Str("item_id", d.ItemID).
			Msg("Requeueing download orphaned by a previous run")
		if _, err := m.db.TransitionDownload(d.ID, database.DownloadStatusQueued, database.DownloadStatusDownloading); err != nil {
			log.Warn().Err(err).Str("download_id", d.ID).Msg("Failed to requeue orphaned download")
		}
	}

	completed, err := m.db.ListDownloadsByStatus(database.DownloadStatusCompleted)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list completed downloads for reconciliation")
		return
	}
	for _, d := range completed {
		if d.FilePath == "" {
			continue
		}
		if _, err := os.Stat(d.FilePath); err == nil {
			continue
		}
		log.Warn().
			Str("download_id", d.ID).
			Str("path", d.FilePath).
			Msg("Downloaded file missing from disk, requeueing")

		// The local source now points at nothing
		if err := m.db.DeleteSource(d.ID + "-local"); err != nil {
			log.Debug().Err(err).Str("download_id", d.ID).Msg("Failed to delete stale local source")
		}
		if err := m.db.UpdateDownloadProgress(d.ID, 0, 0, d.TotalBytes); err != nil {
			log.Debug().Err(err).Str("download_id", d.ID).Msg("Failed to reset download progress")
		}
		if _, err := m.db.TransitionDownload(d.ID, database.DownloadStatusQueued, database.DownloadStatusCompleted); err != nil {
			log.Warn().Err(err).Str("download_id", d.ID).Msg("Failed to requeue download with missing file")
		}
	}

	// Local source rows whose files vanished are dropped entirely
	locals, err := m.db.ListAllLocalSources()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list local sources for reconciliation")
		return
	}
	for _, s := range locals {
		if s.Path == "" {
			continue
		}
		if _, err := os.Stat(s.Path); err == nil {
			continue
		}
		log.Warn().
			Str("source_id", s.ID).
			Str("path", s.Path).
			Msg("Local source file missing from disk, removing record")
		if err := m.db.DeleteSource(s.ID); err != nil {
			log.Warn().Err(err).Str("source_id", s.ID).Msg("Failed to delete stale local source")
		}
	}

	m.nudge()
}

// watchRoot watches the download root for files disappearing out from
// under completed downloads and triggers a reconciliation pass when they
// do. Events are debounced since deletes often arrive in bursts.
func (m *Manager) watchRoot() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create downloads watcher, relying on periodic sweep")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(m.config.Root); err != nil {
		log.Warn().Err(err).Str("root", m.config.Root).Msg("Failed to watch download root")
		return
	}

	// Item directories are created as downloads run; watch them as they appear
	entries, err := os.ReadDir(m.config.Root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				watcher.Add(m.layout.itemDir(entry.Name()))
			}
		}
	}

	var sweep *time.Timer
	scheduleSweep := func() {
		if sweep != nil {
			sweep.Stop()
		}
		sweep = time.AfterFunc(2*time.Second, m.Reconcile)
	}
	defer func() {
		if sweep != nil {
			sweep.Stop()
		}
	}()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					watcher.Add(event.Name)
				}
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				log.Debug().Str("path", event.Name).Msg("Download file removed externally")
				scheduleSweep()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("Downloads watcher error")
		}
	}
}
