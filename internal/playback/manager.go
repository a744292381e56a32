// Package playback tracks the item currently playing, reports its progress
// to the server, and serves skip-segment and user-data state.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/session"
)

// NowPlaying describes the in-progress playback, if any
type NowPlaying struct {
	ItemID        string
	SourceID      string
	PlaySessionID string
	PositionTicks int64
	Paused        bool
	StartedAt     time.Time
}

// Manager owns the now-playing state for the current session
type Manager struct {
	sessions *session.Manager
	bus      *events.Bus

	mu      sync.Mutex
	current *NowPlaying

	segMu    sync.Mutex
	segments map[string][]jellyfin.MediaSegment
}

// NewManager creates a playback manager with nothing playing
func NewManager(sessions *session.Manager, bus *events.Bus) *Manager {
	return &Manager{
		sessions: sessions,
		bus:      bus,
		segments: make(map[string][]jellyfin.MediaSegment),
	}
}

// Current returns the now-playing state, or nil when idle
func (m *Manager) Current() *NowPlaying {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	snapshot := *m.current
	return &snapshot
}

// Start reports playback start to the server and begins tracking the item
func (m *Manager) Start(ctx context.Context, itemID, sourceID string) error {
	client, err := m.sessions.Client()
	if err != nil {
		return err
	}

	playSessionID := uuid.NewString()
	if err := client.ReportPlaybackStart(ctx, itemID, sourceID, playSessionID); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = &NowPlaying{
		ItemID:        itemID,
		SourceID:      sourceID,
		PlaySessionID: playSessionID,
		StartedAt:     time.Now(),
	}
	m.mu.Unlock()

	log.Info().Str("item_id", itemID).Str("source_id", sourceID).Msg("Playback started")
	return nil
}

// Progress reports the playback position. With nothing playing it is a
// silent no-op so stray ticks from a stopped player cannot fail.
func (m *Manager) Progress(ctx context.Context, positionTicks int64, paused bool) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil
	}
	np := *m.current
	m.current.PositionTicks = positionTicks
	m.current.Paused = paused
	m.mu.Unlock()

	client, err := m.sessions.Client()
	if err != nil {
		return err
	}
	return client.ReportPlaybackProgress(ctx, np.ItemID, np.SourceID, np.PlaySessionID, positionTicks, paused)
}

// Stop reports playback stopped and refreshes the item's user data so watch
// state catches up immediately instead of waiting for a push event
func (m *Manager) Stop(ctx context.Context, positionTicks int64) error {
	m.mu.Lock()
	np := m.current
	m.current = nil
	m.mu.Unlock()

	if np == nil {
		return nil
	}

	client, err := m.sessions.Client()
	if err != nil {
		return err
	}
	if err := client.ReportPlaybackStopped(ctx, np.ItemID, np.SourceID, np.PlaySessionID, positionTicks); err != nil {
		return err
	}

	log.Info().
		Str("item_id", np.ItemID).
		Int64("position_ticks", positionTicks).
		Msg("Playback stopped")

	sess := m.sessions.Current()
	if sess != nil {
		m.bus.Publish(events.Event{
			Kind:     events.KindUserDataChanged,
			Priority: events.PriorityHigh,
			ServerID: sess.ServerID,
			ItemID:   np.ItemID,
		})
	}
	return nil
}

// Segments returns the skippable media segments for an item, fetching once
// per session and serving from cache afterwards
func (m *Manager) Segments(ctx context.Context, itemID string) ([]jellyfin.MediaSegment, error) {
	sess := m.sessions.Current()
	if sess == nil {
		return nil, session.ErrNoSession
	}
	key := sess.ServerID + "/" + itemID

	m.segMu.Lock()
	if cached, ok := m.segments[key]; ok {
		m.segMu.Unlock()
		return cached, nil
	}
	m.segMu.Unlock()

	client, err := m.sessions.Client()
	if err != nil {
		return nil, err
	}
	segments, err := client.MediaSegments(ctx, itemID)
	if err != nil {
		return nil, err
	}

	m.segMu.Lock()
	m.segments[key] = segments
	m.segMu.Unlock()
	return segments, nil
}
