package jellyfin

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// SocketURL builds the WebSocket endpoint for the server's push channel
func (c *Client) SocketURL() (string, error) {
	parsed, err := url.Parse(c.BaseURL())
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = "/socket"

	q := url.Values{}
	q.Set("api_key", c.Token())
	q.Set("deviceId", c.deviceID)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

// DialSocket opens the push-notification WebSocket connection
func (c *Client) DialSocket(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.SocketURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial failed: %w", err)
	}
	return conn, nil
}
