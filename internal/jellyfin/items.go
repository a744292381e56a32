package jellyfin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Item fetches a single item with media sources and user data
func (c *Client) Item(ctx context.Context, itemID string) (*Item, error) {
	q := url.Values{}
	q.Set("Fields", "MediaSources,MediaStreams")
	var item Item
	if err := c.do(ctx, http.MethodGet, "/Items/"+itemID, q, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// NextUp fetches the next-up episodes for the current user
func (c *Client) NextUp(ctx context.Context, limit int) ([]Item, error) {
	q := url.Values{}
	q.Set("Limit", fmt.Sprintf("%d", limit))
	var resp itemsResponse
	if err := c.do(ctx, http.MethodGet, "/Shows/NextUp", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// PlaybackInfoFor resolves the playable media sources for an item
func (c *Client) PlaybackInfoFor(ctx context.Context, itemID string) (*PlaybackInfo, error) {
	var info PlaybackInfo
	if err := c.do(ctx, http.MethodGet, "/Items/"+itemID+"/PlaybackInfo", nil, nil, &info); err != nil {
		return nil, err
	}
	if info.ErrorCode != "" {
		return nil, fmt.Errorf("playback info error: %s", info.ErrorCode)
	}
	return &info, nil
}

// MediaSegments fetches skippable segments (intro, credits) for an item
func (c *Client) MediaSegments(ctx context.Context, itemID string) ([]MediaSegment, error) {
	var resp mediaSegmentsResponse
	if err := c.do(ctx, http.MethodGet, "/MediaSegments/"+itemID, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// TrickplayManifest fetches the trickplay tile sets available for an item,
// keyed by media source then tile width
func (c *Client) TrickplayManifest(ctx context.Context, itemID string) (map[string]map[string]TrickplayInfo, error) {
	var manifest map[string]map[string]TrickplayInfo
	if err := c.do(ctx, http.MethodGet, "/Videos/"+itemID+"/Trickplay", nil, nil, &manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// SetPlayed marks an item played or unplayed
func (c *Client) SetPlayed(ctx context.Context, itemID string, played bool) (*UserData, error) {
	method := http.MethodPost
	if !played {
		method = http.MethodDelete
	}
	var data UserData
	if err := c.do(ctx, method, "/UserPlayedItems/"+itemID, nil, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SetFavorite marks an item favorite or not. Favorites double as the
// watchlist; there is no dedicated watchlist entity on the server.
func (c *Client) SetFavorite(ctx context.Context, itemID string, favorite bool) (*UserData, error) {
	method := http.MethodPost
	if !favorite {
		method = http.MethodDelete
	}
	var data UserData
	if err := c.do(ctx, method, "/UserFavoriteItems/"+itemID, nil, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SetRating sets or clears the user's like/dislike rating for an item
func (c *Client) SetRating(ctx context.Context, itemID string, likes *bool) (*UserData, error) {
	if likes == nil {
		var data UserData
		if err := c.do(ctx, http.MethodDelete, "/UserItems/"+itemID+"/Rating", nil, nil, &data); err != nil {
			return nil, err
		}
		return &data, nil
	}
	q := url.Values{}
	q.Set("likes", fmt.Sprintf("%t", *likes))
	var data UserData
	if err := c.do(ctx, http.MethodPost, "/UserItems/"+itemID+"/Rating", q, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// ReportPlaybackStart tells the server playback began
func (c *Client) ReportPlaybackStart(ctx context.Context, itemID, sourceID, playSessionID string) error {
	report := playbackReport{ItemID: itemID, MediaSourceID: sourceID, PlaySessionID: playSessionID}
	return c.do(ctx, http.MethodPost, "/Sessions/Playing", nil, report, nil)
}

// ReportPlaybackProgress reports the current playback position
func (c *Client) ReportPlaybackProgress(ctx context.Context, itemID, sourceID, playSessionID string, positionTicks int64, paused bool) error {
	report := playbackReport{
		ItemID:        itemID,
		MediaSourceID: sourceID,
		PlaySessionID: playSessionID,
		PositionTicks: positionTicks,
		IsPaused:      paused,
	}
	return c.do(ctx, http.MethodPost, "/Sessions/Playing/Progress", nil, report, nil)
}

// ReportPlaybackStopped tells the server playback ended at the given position
func (c *Client) ReportPlaybackStopped(ctx context.Context, itemID, sourceID, playSessionID string, positionTicks int64) error {
	report := playbackReport{
		ItemID:        itemID,
		MediaSourceID: sourceID,
		PlaySessionID: playSessionID,
		PositionTicks: positionTicks,
	}
	return c.do(ctx, http.MethodPost, "/Sessions/Playing/Stopped", nil, report, nil)
}
