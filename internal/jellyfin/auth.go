package jellyfin

import (
	"context"
	"net/http"
	"net/url"
)

// AuthenticateByName authenticates with username and password. The client's
// token is updated on success.
func (c *Client) AuthenticateByName(ctx context.Context, username, password string) (*AuthResult, error) {
	body := map[string]string{
		"Username": username,
		"Pw":       password,
	}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/Users/AuthenticateByName", nil, body, &result); err != nil {
		return nil, err
	}
	c.SetToken(result.AccessToken)
	return &result, nil
}

// InitiateQuickConnect starts a quick-connect pairing attempt and returns
// the short code to display
func (c *Client) InitiateQuickConnect(ctx context.Context) (*QuickConnectResult, error) {
	var result QuickConnectResult
	if err := c.do(ctx, http.MethodPost, "/QuickConnect/Initiate", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QuickConnectState polls the state of a pairing attempt
func (c *Client) QuickConnectState(ctx context.Context, secret string) (*QuickConnectResult, error) {
	q := url.Values{}
	q.Set("secret", secret)
	var result QuickConnectResult
	if err := c.do(ctx, http.MethodGet, "/QuickConnect/Connect", q, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AuthenticateWithQuickConnect exchanges an authorized quick-connect secret
// for a session token
func (c *Client) AuthenticateWithQuickConnect(ctx context.Context, secret string) (*AuthResult, error) {
	body := map[string]string{"Secret": secret}
	var result AuthResult
	if err := c.do(ctx, http.MethodPost, "/Users/AuthenticateWithQuickConnect", nil, body, &result); err != nil {
		return nil, err
	}
	c.SetToken(result.AccessToken)
	return &result, nil
}

// CurrentUser fetches the user bound to the current token; a 401 here means
// the stored token is no longer valid
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/Users/Me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// EndSession reports a logout to the server. The local token is untouched;
// callers decide what to clear.
func (c *Client) EndSession(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/Sessions/Logout", nil, nil, nil)
}
