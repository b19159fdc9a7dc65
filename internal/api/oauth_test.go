package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOAuth(t *testing.T, srv *httptest.Server) *OAuthClient {
	t.Helper()
	c, err := NewOAuthClient(OAuthOptions{
		ClientOptions: ClientOptions{
			BaseURL:   srv.URL + "/",
			UserAgent: "test-agent",
			Delay:     time.Millisecond,
			Session:   srv.Client(),
		},
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost/cb",
	})
	require.NoError(t, err)
	return c
}

func TestAuthorizeURL(t *testing.T) {
	c := &OAuthClient{
		Client:      &Client{baseURL: "https://hh.ru/oauth/"},
		ClientID:    "cid",
		RedirectURI: "http://localhost/cb",
		State:       "xyz",
	}

	u, err := url.Parse(c.AuthorizeURL())
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://localhost/cb", q.Get("redirect_uri"))
	assert.Equal(t, "xyz", q.Get("state"))
	// Empty fields are omitted entirely.
	_, hasScope := q["scope"]
	assert.False(t, hasScope)
}

func TestAuthenticate(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Write([]byte(`{"access_token":"A","refresh_token":"R","expires_in":86400}`))
	}))
	defer srv.Close()

	c := newTestOAuth(t, srv)
	before := time.Now().Unix()
	token, err := c.Authenticate(context.Background(), "CODE")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "CODE", gotForm.Get("code"))
	assert.Equal(t, "cid", gotForm.Get("client_id"))

	assert.Equal(t, "A", token.AccessToken)
	assert.Equal(t, "R", token.RefreshToken)
	assert.GreaterOrEqual(t, token.AccessExpiresAt, before+86400)
}

func TestRefreshAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "R", r.PostForm.Get("refresh_token"))
		w.Write([]byte(`{"access_token":"A2","refresh_token":"R2","expires_in":3600}`))
	}))
	defer srv.Close()

	c := newTestOAuth(t, srv)
	token, err := c.RefreshAccessToken(context.Background(), "R")
	require.NoError(t, err)
	assert.Equal(t, "A2", token.AccessToken)
	assert.Equal(t, "R2", token.RefreshToken)
}

func TestMalformedTokenResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected":true}`))
	}))
	defer srv.Close()

	c := newTestOAuth(t, srv)
	_, err := c.Authenticate(context.Background(), "CODE")
	assert.Error(t, err)
}

func TestIsExpired(t *testing.T) {
	now := time.Unix(2000, 0)
	assert.True(t, AccessToken{}.IsExpired(now))
	assert.True(t, AccessToken{AccessExpiresAt: 1000}.IsExpired(now))
	assert.True(t, AccessToken{AccessExpiresAt: 2000}.IsExpired(now))
	assert.False(t, AccessToken{AccessExpiresAt: 3000}.IsExpired(now))
}
