// Package config manages the per-profile JSON settings file. Each profile is
// a directory holding config.json, the SQLite database, and logs; the active
// profile is selected by flag or by the HH_PROFILE_ID environment variable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"hhpilot/internal/api"
)

const (
	// DefaultProfileID is used when no profile is selected.
	DefaultProfileID = "default"

	configFileName = "config.json"
	dbFileName     = "hhpilot.db"
)

// OpenAIConfig configures the cover-letter and reply text generator. An empty
// Token disables generation and the static templates are used instead.
type OpenAIConfig struct {
	Token               string  `json:"token,omitempty"`
	Model               string  `json:"model,omitempty"`
	Temperature         float64 `json:"temperature,omitempty"`
	MaxCompletionTokens int     `json:"max_completion_tokens,omitempty"`
	CompletionEndpoint  string  `json:"completion_endpoint,omitempty"`
}

// Config is the persisted shape of config.json.
type Config struct {
	Token *api.AccessToken `json:"token,omitempty"`

	// APIDelay is the minimum gap between portal requests, in seconds.
	// Zero means the client default.
	APIDelay float64 `json:"api_delay,omitempty"`

	// UserAgent is sent on API traffic; OAuthUserAgent on token traffic.
	// Both are generated on first run so a profile keeps a stable identity.
	UserAgent      string `json:"user_agent,omitempty"`
	OAuthUserAgent string `json:"oauth_user_agent,omitempty"`

	ProxyURL string `json:"proxy_url,omitempty"`

	// ReplyMessage is the default template for the reply engine. Supports
	// brace alternations and %(...)s placeholders.
	ReplyMessage string `json:"reply_message,omitempty"`

	// ExcludedTerms filters vacancies whose name contains any term,
	// case-insensitive. Never nil after Load.
	ExcludedTerms []string `json:"excluded_terms"`

	OpenAI OpenAIConfig `json:"openai,omitempty"`

	// TelemetryClientID identifies this installation in diagnostic reports.
	// Generated once and kept for the profile's lifetime.
	TelemetryClientID string `json:"telemetry_client_id,omitempty"`

	mu   sync.Mutex
	path string
}

// BaseDir resolves the root directory holding all profiles: the CONFIG_DIR
// environment variable when set, otherwise ~/.hhpilot.
func BaseDir() string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hhpilot"
	}
	return filepath.Join(home, ".hhpilot")
}

// ResolveProfileID picks the active profile: the explicit value when
// non-empty, then HH_PROFILE_ID, then the default.
func ResolveProfileID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id := os.Getenv("HH_PROFILE_ID"); id != "" {
		return id
	}
	return DefaultProfileID
}

// ProfileDir returns the directory for a profile under the base dir.
func ProfileDir(baseDir, profileID string) string {
	return filepath.Join(baseDir, profileID)
}

// Load reads config.json from the profile directory, creating the directory
// and a fresh config on first run. Missing identity fields (user agents,
// telemetry client id) are generated and written back immediately.
func Load(profileDir string) (*Config, error) {
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	cfg := &Config{path: filepath.Join(profileDir, configFileName)}

	data, err := os.ReadFile(cfg.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cfg.path, err)
		}
	}

	changed := false
	if cfg.UserAgent == "" {
		cfg.UserAgent = api.RandomUserAgent()
		changed = true
	}
	if cfg.OAuthUserAgent == "" {
		cfg.OAuthUserAgent = api.RandomUserAgent()
		changed = true
	}
	if cfg.TelemetryClientID == "" {
		cfg.TelemetryClientID = uuid.NewString()
		changed = true
	}
	if cfg.ExcludedTerms == nil {
		cfg.ExcludedTerms = []string{}
	}

	if changed {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save writes the config back to disk, pretty-printed for hand editing.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file location.
func (c *Config) Path() string { return c.path }

// ProfileDir returns the directory containing this config.
func (c *Config) ProfileDir() string { return filepath.Dir(c.path) }

// DBPath returns the profile's SQLite database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.ProfileDir(), dbFileName)
}

// Delay converts api_delay to a duration, falling back to the client default.
func (c *Config) Delay() time.Duration {
	if c.APIDelay <= 0 {
		return api.DefaultDelay
	}
	return time.Duration(c.APIDelay * float64(time.Second))
}

// Proxy resolves the proxy URL: the config value, then HTTPS_PROXY, then
// HTTP_PROXY. Empty means direct.
func (c *Config) Proxy() string {
	if c.ProxyURL != "" {
		return c.ProxyURL
	}
	if p := os.Getenv("HTTPS_PROXY"); p != "" {
		return p
	}
	return os.Getenv("HTTP_PROXY")
}

// SetToken stores a fresh token and persists immediately, so a refresh that
// happens mid-run survives a later crash.
func (c *Config) SetToken(token api.AccessToken) error {
	c.mu.Lock()
	c.Token = &token
	c.mu.Unlock()
	return c.Save()
}

// ClearToken drops the stored token.
func (c *Config) ClearToken() error {
	c.mu.Lock()
	c.Token = nil
	c.mu.Unlock()
	return c.Save()
}
