// Package media serves item metadata for the current session through a
// bounded cache that is invalidated by server push events.
package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/session"
)

const defaultCacheSize = 256

// Repository fetches items for the current session, caching results until a
// push event invalidates them.
type Repository struct {
	sessions *session.Manager
	bus      *events.Bus
	items    *itemCache

	nextUpMu    sync.Mutex
	nextUp      []jellyfin.Item
	nextUpKey   string
	nextUpValid bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex
}

// NewRepository creates a repository with an empty cache
func NewRepository(sessions *session.Manager, bus *events.Bus) *Repository {
	return &Repository{
		sessions: sessions,
		bus:      bus,
		items:    newItemCache(defaultCacheSize),
	}
}

// Start launches the invalidation loop
func (r *Repository) Start(ctx context.Context) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Go(func() {
		r.invalidationLoop(loopCtx)
	})
}

// Stop halts the invalidation loop
func (r *Repository) Stop() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if !r.started {
		return
	}
	r.started = false
	r.cancel()
	r.wg.Wait()
}

// Item returns the item from cache or fetches it through the current
// session's API client
func (r *Repository) Item(ctx context.Context, itemID string) (*jellyfin.Item, error) {
	sess := r.sessions.Current()
	if sess == nil {
		return nil, session.ErrNoSession
	}

	if item := r.items.get(sess.ServerID, itemID); item != nil {
		return item, nil
	}
	return r.Refresh(ctx, itemID)
}

// Refresh fetches the item from the server, bypassing and repopulating
// the cache
func (r *Repository) Refresh(ctx context.Context, itemID string) (*jellyfin.Item, error) {
	sess := r.sessions.Current()
	if sess == nil {
		return nil, session.ErrNoSession
	}
	client, err := r.sessions.Client()
	if err != nil {
		return nil, err
	}

	item, err := client.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	r.items.put(sess.ServerID, item)
	return item, nil
}

// NextUp returns the next-up episode list, cached per session until a
// user-data or library change invalidates it
func (r *Repository) NextUp(ctx context.Context, limit int) ([]jellyfin.Item, error) {
	sess := r.sessions.Current()
	if sess == nil {
		return nil, session.ErrNoSession
	}
	key := sess.ServerID + "/" + sess.UserID

	r.nextUpMu.Lock()
	if r.nextUpValid && r.nextUpKey == key {
		cached := r.nextUp
		r.nextUpMu.Unlock()
		return cached, nil
	}
	r.nextUpMu.Unlock()

	client, err := r.sessions.Client()
	if err != nil {
		return nil, err
	}
	items, err := client.NextUp(ctx, limit)
	if err != nil {
		return nil, err
	}

	r.nextUpMu.Lock()
	r.nextUp = items
	r.nextUpKey = key
	r.nextUpValid = true
	r.nextUpMu.Unlock()
	return items, nil
}

func (r *Repository) invalidateNextUp() {
	r.nextUpMu.Lock()
	r.nextUpValid = false
	r.nextUpMu.Unlock()
}

// invalidationLoop applies push events to the caches. Every invalidation is
// idempotent, so replays and out-of-order delivery are harmless.
func (r *Repository) invalidationLoop(ctx context.Context) {
	ch, cancel := r.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			switch event.Kind {
			case events.KindLibraryChanged:
				log.Debug().Str("server_id", event.ServerID).Msg("Library changed, clearing item cache")
				r.items.clear()
				r.invalidateNextUp()

			case events.KindUserDataChanged:
				r.items.invalidate(event.ServerID, event.ItemID)
				r.invalidateNextUp()

			case events.KindBatchUserDataChanged:
				if ids, ok := event.Data.([]string); ok {
					for _, id := range ids {
						r.items.invalidate(event.ServerID, id)
					}
				}
				r.invalidateNextUp()
			}
		}
	}
}
