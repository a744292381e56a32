package jellyfin

import (
	"fmt"
	"net/url"
)

// ImageURL builds the primary image URL for an item
func (c *Client) ImageURL(itemID, tag string) string {
	u := c.BaseURL() + "/Items/" + itemID + "/Images/Primary"
	if tag != "" {
		u += "?tag=" + url.QueryEscape(tag)
	}
	return u
}

// BackdropURL builds the first backdrop image URL for an item
func (c *Client) BackdropURL(itemID, tag string) string {
	u := c.BaseURL() + "/Items/" + itemID + "/Images/Backdrop/0"
	if tag != "" {
		u += "?tag=" + url.QueryEscape(tag)
	}
	return u
}

// StreamURL builds the direct-stream URL for a media source
func (c *Client) StreamURL(itemID, sourceID, container string) string {
	q := url.Values{}
	q.Set("MediaSourceId", sourceID)
	q.Set("Static", "true")
	if container == "" {
		container = "mkv"
	}
	return fmt.Sprintf("%s/Videos/%s/stream.%s?%s", c.BaseURL(), itemID, container, q.Encode())
}

// TrickplayURL builds the URL for one trickplay tile image
func (c *Client) TrickplayURL(itemID string, width, index int) string {
	return fmt.Sprintf("%s/Videos/%s/Trickplay/%d/%d.jpg", c.BaseURL(), itemID, width, index)
}

// SubtitleURL builds the URL for an external subtitle stream.
// DeliveryURL from the media stream takes precedence when present.
func (c *Client) SubtitleURL(itemID, sourceID string, streamIndex int, format string) string {
	if format == "" {
		format = "srt"
	}
	return fmt.Sprintf("%s/Videos/%s/%s/Subtitles/%d/Stream.%s",
		c.BaseURL(), itemID, sourceID, streamIndex, format)
}

// AbsoluteURL resolves a server-relative path (e.g. a DeliveryUrl) against the base URL
func (c *Client) AbsoluteURL(path string) string {
	if path == "" {
		return ""
	}
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return c.BaseURL() + path
}
