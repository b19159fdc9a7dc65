package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"hhpilot/internal/logging"
)

// APIClient is the authenticated portal client. It injects the bearer token
// and transparently refreshes it once when a request comes back Forbidden
// with an expired access token.
type APIClient struct {
	*Client
	oauth *OAuthClient

	tokenMu   sync.Mutex
	token     AccessToken
	onRefresh func(AccessToken)
}

// APIClientOptions configures an authenticated client.
type APIClientOptions struct {
	ClientOptions
	OAuth *OAuthClient
	Token AccessToken
	// OnRefresh observes every successful token refresh, e.g. to persist the
	// new triple.
	OnRefresh func(AccessToken)
}

// NewAPIClient creates an authenticated client against the portal API.
func NewAPIClient(opts APIClientOptions) (*APIClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	base, err := NewClient(opts.ClientOptions)
	if err != nil {
		return nil, err
	}
	return &APIClient{
		Client:    base,
		oauth:     opts.OAuth,
		token:     opts.Token,
		onRefresh: opts.OnRefresh,
	}, nil
}

// AccessToken returns the current token triple.
func (c *APIClient) AccessToken() AccessToken {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token
}

// SetAccessToken replaces the token triple.
func (c *APIClient) SetAccessToken(t AccessToken) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = t
}

// IsAccessExpired reports whether the stored access token is expired.
func (c *APIClient) IsAccessExpired() bool {
	return c.AccessToken().IsExpired(time.Now())
}

// Request performs an authenticated request. On Forbidden with an expired
// token it refreshes once and retries the original request exactly once.
func (c *APIClient) Request(ctx context.Context, method, endpoint string, params Params, opts ...RequestOption) (map[string]interface{}, error) {
	data, err := c.request(ctx, method, endpoint, params, opts...)
	if err == nil {
		return data, nil
	}

	var forbidden *ForbiddenError
	if !errors.As(err, &forbidden) {
		return nil, err
	}

	token := c.AccessToken()
	if !token.IsExpired(time.Now()) || token.RefreshToken == "" || c.oauth == nil {
		return nil, err
	}

	logging.OAuth("access token expired, refreshing")
	fresh, refreshErr := c.oauth.RefreshAccessToken(ctx, token.RefreshToken)
	if refreshErr != nil {
		// The original token stays in place on failure.
		return nil, refreshErr
	}

	c.SetAccessToken(fresh)
	if c.onRefresh != nil {
		c.onRefresh(fresh)
	}

	return c.request(ctx, method, endpoint, params, opts...)
}

func (c *APIClient) request(ctx context.Context, method, endpoint string, params Params, opts ...RequestOption) (map[string]interface{}, error) {
	if token := c.AccessToken(); token.AccessToken != "" {
		opts = append(opts, WithHeader("Authorization", "Bearer "+token.AccessToken))
	}
	return c.Client.Request(ctx, method, endpoint, params, opts...)
}

// Me fetches the authenticated user's profile.
func (c *APIClient) Me(ctx context.Context) (map[string]interface{}, error) {
	return c.Request(ctx, "GET", "me", nil)
}
