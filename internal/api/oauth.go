package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"hhpilot/internal/logging"
)

// Portal endpoints.
const (
	DefaultBaseURL      = "https://api.hh.ru/"
	DefaultOAuthBaseURL = "https://hh.ru/oauth/"
)

// AccessToken holds the OAuth token triple. Refresh tokens are single-use and
// only valid once the access token has expired.
type AccessToken struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	AccessExpiresAt int64  `json:"access_expires_at"` // epoch seconds
}

// IsExpired reports whether the access token is past its lifetime. A zero
// expiry is treated as expired.
func (t AccessToken) IsExpired(now time.Time) bool {
	return now.Unix() >= t.AccessExpiresAt
}

// OAuthClient drives the code→token and refresh-token exchanges.
type OAuthClient struct {
	*Client
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
	State        string
}

// OAuthOptions configures an OAuth client.
type OAuthOptions struct {
	ClientOptions
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string
	State        string
}

// NewOAuthClient creates an OAuth client against the portal's oauth base URL.
func NewOAuthClient(opts OAuthOptions) (*OAuthClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOAuthBaseURL
	}
	base, err := NewClient(opts.ClientOptions)
	if err != nil {
		return nil, err
	}
	return &OAuthClient{
		Client:       base,
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		RedirectURI:  opts.RedirectURI,
		Scope:        opts.Scope,
		State:        opts.State,
	}, nil
}

// AuthorizeURL builds the interactive authorization URL. Empty fields are
// omitted.
func (c *OAuthClient) AuthorizeURL() string {
	v := url.Values{}
	for key, val := range map[string]string{
		"client_id":     c.ClientID,
		"redirect_uri":  c.RedirectURI,
		"response_type": "code",
		"scope":         c.Scope,
		"state":         c.State,
	} {
		if val != "" {
			v.Set(key, val)
		}
	}
	return c.resolveURL("authorize") + "?" + v.Encode()
}

// Authenticate exchanges an authorization code for a token triple.
func (c *OAuthClient) Authenticate(ctx context.Context, code string) (AccessToken, error) {
	logging.OAuth("exchanging authorization code")
	return c.tokenRequest(ctx, Params{
		"grant_type":    "authorization_code",
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"redirect_uri":  c.RedirectURI,
		"code":          code,
	})
}

// RefreshAccessToken exchanges a refresh token for a fresh triple.
func (c *OAuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (AccessToken, error) {
	logging.OAuth("refreshing access token")
	return c.tokenRequest(ctx, Params{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
}

func (c *OAuthClient) tokenRequest(ctx context.Context, params Params) (AccessToken, error) {
	data, err := c.Request(ctx, http.MethodPost, "token", params)
	if err != nil {
		return AccessToken{}, err
	}

	access, _ := data["access_token"].(string)
	refresh, _ := data["refresh_token"].(string)
	expiresIn, ok := data["expires_in"].(float64)
	if access == "" || !ok {
		return AccessToken{}, fmt.Errorf("malformed token response: %v", data)
	}

	return AccessToken{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: time.Now().Unix() + int64(expiresIn),
	}, nil
}
