// Package downloader turns download requests into durable, resumable
// background job chains: a media-bytes job followed by trickplay, image,
// and subtitle follow-ups, all persisted so they survive restarts.
package downloader

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/connectivity"
	"github.com/offcast/offcast/internal/database"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/prefs"
	"github.com/offcast/offcast/internal/session"
)

// Config holds downloader configuration
type Config struct {
	Root          string
	MaxConcurrent int
	SweepSchedule string
}

// DefaultConfig returns default configuration
func DefaultConfig(root string) Config {
	return Config{
		Root:          root,
		MaxConcurrent: 2,
		SweepSchedule: "@every 15m",
	}
}

// Manager owns the download queue. At most MaxConcurrent chains run at
// once; each in-flight chain is a named work unit keyed by its download id,
// so re-submitting an id that is already running is a no-op.
type Manager struct {
	db       *database.DB
	sessions *session.Manager
	bus      *events.Bus
	prefs    *prefs.Prefs
	network  *connectivity.Monitor
	config   Config
	layout   layout

	// Signal that queued downloads may be ready to dispatch
	queueReady chan struct{}

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
	slots    chan struct{}

	sweeper *cron.Cron

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// New creates a download manager
func New(db *database.DB, sessions *session.Manager, bus *events.Bus, p *prefs.Prefs, network *connectivity.Monitor, config Config) *Manager {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	return &Manager{
		db:         db,
		sessions:   sessions,
		bus:        bus,
		prefs:      p,
		network:    network,
		config:     config,
		layout:     layout{root: config.Root},
		queueReady: make(chan struct{}, 1),
		active:     make(map[string]context.CancelFunc),
		slots:      make(chan struct{}, config.MaxConcurrent),
	}
}

// Start launches the dispatcher, the reconciliation sweep, and the
// downloads-root watcher
func (m *Manager) Start() error {
	m.runMu.Lock()
	if m.running {
		m.runMu.Unlock()
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true
	m.runMu.Unlock()

	if err := os.MkdirAll(m.config.Root, 0o755); err != nil {
		return err
	}

	log.Info().
		Str("root", m.config.Root).
		Int("max_concurrent", m.config.MaxConcurrent).
		Msg("Starting download manager")

	// Heal state left behind by a crash before dispatching anything
	m.Reconcile()

	m.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Download dispatcher panicked")
			}
		}()
		m.dispatcher()
	})

	m.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Download watcher panicked")
			}
		}()
		m.watchRoot()
	})

	m.sweeper = cron.New()
	if _, err := m.sweeper.AddFunc(m.config.SweepSchedule, m.Reconcile); err != nil {
		log.Warn().Err(err).Str("schedule", m.config.SweepSchedule).Msg("Failed to schedule reconciliation sweep")
	} else {
		m.sweeper.Start()
	}

	m.wg.Go(func() {
		m.watchConnectivity()
	})

	return nil
}

// Stop cancels in-flight chains and waits for the loops to exit. In-flight
// downloads are reset to queued so they resume on restart.
func (m *Manager) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.runMu.Unlock()

	log.Info().Msg("Stopping download manager")

	if m.sweeper != nil {
		m.sweeper.Stop()
	}
	m.cancel()
	m.wg.Wait()

	m.runMu.Lock()
	m.running = false
	m.runMu.Unlock()

	log.Info().Msg("Download manager stopped")
}

// nudge wakes the dispatcher without blocking
func (m *Manager) nudge() {
	select {
	case m.queueReady <- struct{}{}:
	default:
	}
}

// watchConnectivity wakes the dispatcher whenever the network comes back
func (m *Manager) watchConnectivity() {
	ch, cancel := m.network.Subscribe()
	defer cancel()
	for {
		select {
		case <-m.ctx.Done():
			return
		case status, ok := <-ch:
			if !ok {
				return
			}
			if status.Online {
				m.nudge()
			}
		}
	}
}

// dispatcher moves queued downloads into workers as slots free up
func (m *Manager) dispatcher() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.queueReady:
			m.dispatch()
		case <-ticker.C:
			m.dispatch()
		}
	}
}

func (m *Manager) dispatch() {
	if !m.networkAllows() {
		return
	}

	queued, err := m.db.ListDownloadsByStatus(database.DownloadStatusQueued)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list queued downloads")
		return
	}

	for _, d := range queued {
		m.activeMu.Lock()
		if _, running := m.active[d.ID]; running {
			m.activeMu.Unlock()
			continue
		}

		select {
		case m.slots <- struct{}{}:
		default:
			m.activeMu.Unlock()
			return
		}

		jobCtx, cancelJob := context.WithCancel(m.ctx)
		m.active[d.ID] = cancelJob
		m.activeMu.Unlock()

		claimed, err := m.db.TransitionDownload(d.ID, database.DownloadStatusDownloading, database.DownloadStatusQueued)
		if err != nil {
			log.Error().Err(err).Str("download_id", d.ID).Msg("Failed to mark download active")
			m.release(d.ID)
			continue
		}
		if !claimed {
			// Paused or cancelled since the queue was listed
			m.release(d.ID)
			continue
		}

		download := d
		m.wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("download_id", download.ID).Msg("Download worker panicked")
					if _, dbErr := m.db.SetDownloadError(download.ID, "internal error"); dbErr != nil {
						log.Error().Err(dbErr).Str("download_id", download.ID).Msg("Failed to record download error")
					}
				}
			}()
			defer m.release(download.ID)
			m.work(jobCtx, download)
		})
	}
}

func (m *Manager) release(downloadID string) {
	m.activeMu.Lock()
	if cancelJob, ok := m.active[downloadID]; ok {
		cancelJob()
		delete(m.active, downloadID)
	}
	m.activeMu.Unlock()
	<-m.slots
	m.nudge()
}

// work runs one chain and records its outcome
func (m *Manager) work(ctx context.Context, d *database.Download) {
	log.Info().
		Str("download_id", d.ID).
		Str("item_id", d.ItemID).
		Str("source_id", d.SourceID).
		Msg("Download started")

	err := m.runChain(ctx, d)
	if errors.Is(err, errSuperseded) {
		// A pause or cancel landed while the chain was finishing; its
		// status write stands
		log.Debug().Str("download_id", d.ID).Msg("Download chain superseded")
		return
	}
	if err == nil {
		m.bus.Publish(events.Event{
			Kind:     events.KindDownloadCompleted,
			Priority: events.PriorityNormal,
			ServerID: d.ServerID,
			ItemID:   d.ItemID,
			Data:     map[string]any{"download_id": d.ID},
		})
		return
	}

	if errors.Is(err, context.Canceled) {
		if m.ctx.Err() != nil {
			// Shutdown: resume from the partial file on next start
			if _, dbErr := m.db.TransitionDownload(d.ID, database.DownloadStatusQueued, database.DownloadStatusDownloading); dbErr != nil {
				log.Warn().Err(dbErr).Str("download_id", d.ID).Msg("Failed to requeue download on shutdown")
			}
			return
		}
		// Pause or cancel already recorded the target status
		log.Debug().Str("download_id", d.ID).Msg("Download chain cancelled")
		return
	}

	message := failureMessage(err)
	log.Error().Err(err).Str("download_id", d.ID).Msg("Download failed")
	marked, dbErr := m.db.SetDownloadError(d.ID, message)
	if dbErr != nil {
		log.Error().Err(dbErr).Str("download_id", d.ID).Msg("Failed to record download error")
	}
	if !marked {
		// A pause or cancel already moved the row to a terminal status
		return
	}
	m.bus.Publish(events.Event{
		Kind:     events.KindDownloadFailed,
		Priority: events.PriorityNormal,
		ServerID: d.ServerID,
		ItemID:   d.ItemID,
		Data:     map[string]any{"download_id": d.ID, "error": message},
	})
}

// networkAllows applies the connectivity constraint: downloads need a
// connected network, and an unmetered one when the Wi-Fi-only preference
// is set
func (m *Manager) networkAllows() bool {
	status := m.network.Current()
	if !status.Online {
		return false
	}
	if m.prefs.WifiOnly() && status.Link == connectivity.LinkMetered {
		return false
	}
	return true
}

// StartDownload validates the request against the server, persists a queued
// download row, and enqueues its chain
func (m *Manager) StartDownload(ctx context.Context, itemID, sourceID string) (*database.Download, error) {
	sess := m.sessions.Current()
	if sess == nil {
		return nil, session.ErrNoSession
	}

	existing, err := m.db.FindDownloadBySource(sess.ServerID, sess.UserID, itemID, sourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case database.DownloadStatusCompleted:
			return nil, ErrAlreadyDownloaded
		case database.DownloadStatusQueued, database.DownloadStatusDownloading, database.DownloadStatusPaused:
			return nil, ErrAlreadyDownloading
		case database.DownloadStatusFailed:
			// A fresh request supersedes the failed attempt
			if err := m.db.DeleteDownload(existing.ID); err != nil {
				return nil, err
			}
		}
	}

	client, err := m.sessions.Client()
	if err != nil {
		return nil, err
	}

	item, err := client.Item(ctx, itemID)
	if err != nil {
		var se *jellyfin.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	var source *jellyfin.MediaSource
	for i := range item.MediaSources {
		if item.MediaSources[i].ID == sourceID {
			source = &item.MediaSources[i]
			break
		}
	}
	if source == nil {
		return nil, ErrSourceNotFound
	}

	if err := checkStorage(m.config.Root, source.Size); err != nil {
		return nil, err
	}

	remote := &database.Source{
		ID:       source.ID,
		ItemID:   itemID,
		ServerID: sess.ServerID,
		UserID:   sess.UserID,
		Type:     database.SourceTypeRemote,
		Name:     source.Name,
		Path:     source.Path,
		Size:     source.Size,
	}
	if err := m.db.UpsertSource(remote); err != nil {
		return nil, err
	}

	d := &database.Download{
		ID:         uuid.NewString(),
		ServerID:   sess.ServerID,
		UserID:     sess.UserID,
		ItemID:     itemID,
		ItemName:   item.Name,
		ItemType:   item.Type,
		SourceID:   sourceID,
		SourceName: source.Name,
		Status:     database.DownloadStatusQueued,
		TotalBytes: source.Size,
		FilePath:   m.layout.mediaPath(itemID, sourceID, source.Container),
	}
	if err := m.db.CreateDownload(d); err != nil {
		return nil, err
	}

	log.Info().
		Str("download_id", d.ID).
		Str("item_id", itemID).
		Str("item_name", item.Name).
		Msg("Download queued")

	m.bus.Publish(events.Event{
		Kind:     events.KindDownloadQueued,
		Priority: events.PriorityNormal,
		ServerID: sess.ServerID,
		ItemID:   itemID,
		Data:     map[string]any{"download_id": d.ID},
	})
	m.nudge()
	return d, nil
}

// cancelChain stops the in-flight chain for a download id, if any
func (m *Manager) cancelChain(downloadID string) {
	m.activeMu.Lock()
	cancelJob, ok := m.active[downloadID]
	m.activeMu.Unlock()
	if ok {
		cancelJob()
	}
}

// PauseDownload stops the chain and flips the row to paused, keeping the
// partial file for a later resume
func (m *Manager) PauseDownload(id string) error {
	d, err := m.db.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDownloadNotFound
	}
	paused, err := m.db.TransitionDownload(id, database.DownloadStatusPaused,
		database.DownloadStatusQueued, database.DownloadStatusDownloading)
	if err != nil {
		return err
	}
	if !paused {
		return errors.New("download is not active")
	}
	m.cancelChain(id)

	log.Info().Str("download_id", id).Msg("Download paused")
	return nil
}

// ResumeDownload re-enqueues a paused or failed download. Any in-flight
// chain with the same id is replaced.
func (m *Manager) ResumeDownload(id string) error {
	d, err := m.db.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDownloadNotFound
	}
	requeued, err := m.db.TransitionDownload(id, database.DownloadStatusQueued,
		database.DownloadStatusPaused, database.DownloadStatusFailed)
	if err != nil {
		return err
	}
	if !requeued {
		return ErrNotResumable
	}

	m.cancelChain(id)
	if err := m.db.ClearDownloadError(id); err != nil {
		return err
	}

	log.Info().Str("download_id", id).Msg("Download resumed")
	m.bus.Publish(events.Event{
		Kind:     events.KindDownloadQueued,
		Priority: events.PriorityNormal,
		ServerID: d.ServerID,
		ItemID:   d.ItemID,
		Data:     map[string]any{"download_id": d.ID},
	})
	m.nudge()
	return nil
}

// CancelDownload stops the chain, removes the partial media files for this
// source only, and deletes the row. Sibling sources of the same item are
// left alone.
func (m *Manager) CancelDownload(id string) error {
	d, err := m.db.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDownloadNotFound
	}

	m.cancelChain(id)

	if d.FilePath != "" {
		for _, path := range []string{d.FilePath, d.FilePath + ".part"} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", path).Msg("Failed to remove download file")
			}
		}
	}
	m.layout.removeIfEmpty(d.ItemID)

	if err := m.db.DeleteDownload(id); err != nil {
		return err
	}

	log.Info().Str("download_id", id).Str("item_id", d.ItemID).Msg("Download cancelled")
	return nil
}

// DeleteDownload removes the entire per-item directory, the item's local
// source records, and the download row
func (m *Manager) DeleteDownload(id string) error {
	d, err := m.db.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrDownloadNotFound
	}

	m.cancelChain(id)

	if err := os.RemoveAll(m.layout.itemDir(d.ItemID)); err != nil {
		log.Warn().Err(err).Str("item_id", d.ItemID).Msg("Failed to remove item directory")
	}
	if err := m.db.DeleteLocalSourcesByItem(d.ItemID); err != nil {
		return err
	}
	if err := m.db.DeleteDownload(id); err != nil {
		return err
	}

	log.Info().Str("download_id", id).Str("item_id", d.ItemID).Msg("Download deleted")
	return nil
}

// Downloads lists the current session's downloads
func (m *Manager) Downloads() ([]*database.Download, error) {
	sess := m.sessions.Current()
	if sess == nil {
		return nil, session.ErrNoSession
	}
	return m.db.ListDownloads(sess.ServerID, sess.UserID)
}

// IsItemDownloaded reports whether the item has a completed download in
// the current session's scope
func (m *Manager) IsItemDownloaded(itemID string) (bool, error) {
	sess := m.sessions.Current()
	if sess == nil {
		return false, session.ErrNoSession
	}
	return m.db.HasDownloadWithStatus(sess.ServerID, sess.UserID, itemID, database.DownloadStatusCompleted)
}

// IsItemDownloading reports whether the item has an active download in
// the current session's scope
func (m *Manager) IsItemDownloading(itemID string) (bool, error) {
	sess := m.sessions.Current()
	if sess == nil {
		return false, session.ErrNoSession
	}
	return m.db.HasDownloadWithStatus(sess.ServerID, sess.UserID, itemID,
		database.DownloadStatusQueued, database.DownloadStatusDownloading)
}

// StorageUsage sums completed download bytes, either for the current
// session's server or across all servers
func (m *Manager) StorageUsage(allServers bool) (int64, error) {
	if allServers {
		return m.db.SumDownloadedBytes("")
	}
	sess := m.sessions.Current()
	if sess == nil {
		return 0, session.ErrNoSession
	}
	return m.db.SumDownloadedBytes(sess.ServerID)
}

// FreeSpace returns the bytes available on the download filesystem
func (m *Manager) FreeSpace() (int64, error) {
	return freeBytes(m.config.Root)
}
