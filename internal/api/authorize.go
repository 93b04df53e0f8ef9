package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

const feedAuthorizePath = "/v3/feed/market-data-feed/authorize"

// ErrNoFeedURI is returned when the authorization response carries no URI.
var ErrNoFeedURI = errors.New("authorization response has no feed uri")

// Authorize exchanges token for the market-data WebSocket URI.
func (c *Client) Authorize(ctx context.Context, token string) (string, error) {
	auth, err := get[FeedAuthorization](ctx, c, feedAuthorizePath, token)
	if err != nil {
		return "", fmt.Errorf("authorize feed: %w", err)
	}
	if auth.AuthorizedRedirectURI == "" {
		return "", ErrNoFeedURI
	}

	u, err := url.Parse(auth.AuthorizedRedirectURI)
	if err != nil {
		return "", fmt.Errorf("parse feed uri: %w", err)
	}
	if u.Scheme != "wss" && u.Scheme != "ws" {
		return "", fmt.Errorf("feed uri scheme %q is not a websocket scheme", u.Scheme)
	}

	return auth.AuthorizedRedirectURI, nil
}
