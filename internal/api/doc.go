// Package api is a small client for the feed provider's REST API.
//
// Only the market-data feed authorization endpoint is used: it exchanges an
// access token for a short-lived, pre-authorized WebSocket URI.
//
// Endpoint:
//   - GET https://api.upstox.com/v3/feed/market-data-feed/authorize
package api
