package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hhpilot/internal/api"
)

func TestLoadCreatesProfile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "default")

	cfg, err := Load(dir)
	require.NoError(t, err)

	// Identity fields are generated and persisted on first run.
	assert.NotEmpty(t, cfg.UserAgent)
	assert.NotEmpty(t, cfg.OAuthUserAgent)
	assert.NotEmpty(t, cfg.TelemetryClientID)
	assert.NotNil(t, cfg.ExcludedTerms)
	assert.FileExists(t, cfg.Path())

	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.UserAgent, again.UserAgent)
	assert.Equal(t, cfg.TelemetryClientID, again.TelemetryClientID)
}

func TestTokenRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Nil(t, cfg.Token)

	token := api.AccessToken{
		AccessToken:     "at",
		RefreshToken:    "rt",
		AccessExpiresAt: 1700000000,
	}
	require.NoError(t, cfg.SetToken(token))

	reloaded, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, reloaded.Token)
	assert.Equal(t, token, *reloaded.Token)

	require.NoError(t, reloaded.ClearToken())
	final, err := Load(dir)
	require.NoError(t, err)
	assert.Nil(t, final.Token)
}

func TestDelay(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, api.DefaultDelay, cfg.Delay())

	cfg.APIDelay = 1.5
	assert.Equal(t, 1500*time.Millisecond, cfg.Delay())
}

func TestProxyFallback(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://env-http:3128")
	t.Setenv("HTTPS_PROXY", "")

	cfg := &Config{}
	assert.Equal(t, "http://env-http:3128", cfg.Proxy())

	t.Setenv("HTTPS_PROXY", "http://env-https:3128")
	assert.Equal(t, "http://env-https:3128", cfg.Proxy())

	cfg.ProxyURL = "socks5://explicit:1080"
	assert.Equal(t, "socks5://explicit:1080", cfg.Proxy())
}

func TestResolveProfileID(t *testing.T) {
	t.Setenv("HH_PROFILE_ID", "")
	assert.Equal(t, DefaultProfileID, ResolveProfileID(""))
	assert.Equal(t, "work", ResolveProfileID("work"))

	t.Setenv("HH_PROFILE_ID", "env-profile")
	assert.Equal(t, "env-profile", ResolveProfileID(""))
	assert.Equal(t, "work", ResolveProfileID("work"))
}

func TestBaseDirEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_DIR", "/tmp/hhpilot-test-base")
	assert.Equal(t, "/tmp/hhpilot-test-base", BaseDir())
}

func TestMalformedConfigRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{broken"), 0600))

	_, err := Load(dir)
	require.Error(t, err)
}
