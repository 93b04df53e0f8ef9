package api

// envelope is the provider's response wrapper.
type envelope[T any] struct {
	Status string     `json:"status"`
	Data   T          `json:"data"`
	Errors []apiIssue `json:"errors,omitempty"`
}

type apiIssue struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// FeedAuthorization from GET /v3/feed/market-data-feed/authorize
type FeedAuthorization struct {
	AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
}
