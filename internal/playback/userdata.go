package playback

import (
	"context"

	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/session"
)

// UserDataRepository mutates per-item watched/favorite/rating state on the
// server and announces each change on the bus so caches refresh.
type UserDataRepository struct {
	sessions *session.Manager
	bus      *events.Bus
}

// NewUserDataRepository creates a user-data repository
func NewUserDataRepository(sessions *session.Manager, bus *events.Bus) *UserDataRepository {
	return &UserDataRepository{sessions: sessions, bus: bus}
}

func (r *UserDataRepository) publishChange(itemID string) {
	sess := r.sessions.Current()
	if sess == nil {
		return
	}
	r.bus.Publish(events.Event{
		Kind:     events.KindUserDataChanged,
		Priority: events.PriorityHigh,
		ServerID: sess.ServerID,
		ItemID:   itemID,
	})
}

// SetPlayed marks an item watched or unwatched
func (r *UserDataRepository) SetPlayed(ctx context.Context, itemID string, played bool) (*jellyfin.UserData, error) {
	client, err := r.sessions.Client()
	if err != nil {
		return nil, err
	}
	data, err := client.SetPlayed(ctx, itemID, played)
	if err != nil {
		return nil, err
	}
	r.publishChange(itemID)
	return data, nil
}

// SetFavorite flags or unflags an item as a favorite
func (r *UserDataRepository) SetFavorite(ctx context.Context, itemID string, favorite bool) (*jellyfin.UserData, error) {
	client, err := r.sessions.Client()
	if err != nil {
		return nil, err
	}
	data, err := client.SetFavorite(ctx, itemID, favorite)
	if err != nil {
		return nil, err
	}
	r.publishChange(itemID)
	return data, nil
}

// SetRating records a thumbs up, thumbs down, or neither
func (r *UserDataRepository) SetRating(ctx context.Context, itemID string, likes *bool) (*jellyfin.UserData, error) {
	client, err := r.sessions.Client()
	if err != nil {
		return nil, err
	}
	data, err := client.SetRating(ctx, itemID, likes)
	if err != nil {
		return nil, err
	}
	r.publishChange(itemID)
	return data, nil
}

// AddToWatchlist puts an item on the watchlist. The server has no watchlist
// entity, so favorites back the feature.
func (r *UserDataRepository) AddToWatchlist(ctx context.Context, itemID string) error {
	_, err := r.SetFavorite(ctx, itemID, true)
	return err
}

// RemoveFromWatchlist takes an item off the watchlist
func (r *UserDataRepository) RemoveFromWatchlist(ctx context.Context, itemID string) error {
	_, err := r.SetFavorite(ctx, itemID, false)
	return err
}
