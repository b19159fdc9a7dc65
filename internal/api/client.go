package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"hhpilot/internal/logging"
)

// DefaultDelay is the floor for the spacing between consecutive requests on
// one client.
const DefaultDelay = 334 * time.Millisecond

// ClientOptions configures a base client.
type ClientOptions struct {
	BaseURL   string // must end with "/"
	UserAgent string // empty: a random Android app UA is generated
	Delay     time.Duration
	ProxyURL  string
	Timeout   time.Duration
	// Session is shared across clients created in the same tool instance
	// (cookie jar, proxy, TLS settings). Nil creates a fresh one.
	Session *http.Client
}

// Client is the base portal HTTP client. A per-instance mutex serializes all
// requests and enforces the minimum inter-request spacing.
type Client struct {
	baseURL   string
	userAgent string
	delay     time.Duration
	session   *http.Client

	mu   sync.Mutex
	last time.Time
}

// NewClient creates a base client. The base URL must end with a slash.
func NewClient(opts ClientOptions) (*Client, error) {
	if !strings.HasSuffix(opts.BaseURL, "/") {
		return nil, fmt.Errorf("base URL must end with '/': %q", opts.BaseURL)
	}

	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = RandomUserAgent()
	}

	session := opts.Session
	if session == nil {
		s, err := NewSession(opts.ProxyURL, opts.Timeout)
		if err != nil {
			return nil, err
		}
		session = s
	}
	// The 3xx range must surface as RedirectError, including on sessions
	// supplied by the caller.
	session.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		baseURL:   opts.BaseURL,
		userAgent: ua,
		delay:     delay,
		session:   session,
	}, nil
}

// NewSession builds the shared HTTP session: cookie jar, optional proxy,
// TLS verification off (the mobile API endpoints sit behind middleboxes that
// re-sign certificates), and no redirect following.
func NewSession(proxyURL string, timeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		Proxy:           http.ProxyFromEnvironment,
	}
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Jar:       jar,
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// Session exposes the underlying HTTP session so sibling clients (web form
// endpoints, telemetry) share cookies and proxy settings.
func (c *Client) Session() *http.Client { return c.session }

// UserAgent returns the user-agent sent with every request.
func (c *Client) UserAgent() string { return c.userAgent }

// Delay returns the configured minimum inter-request spacing.
func (c *Client) Delay() time.Duration { return c.delay }

// Params is a flat request parameter mapping. Nil values are dropped;
// everything else is rendered with fmt.Sprint.
type Params map[string]interface{}

func (p Params) values() url.Values {
	v := url.Values{}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		val := p[k]
		if val == nil {
			continue
		}
		if list, ok := val.([]string); ok {
			for _, item := range list {
				v.Add(k, item)
			}
			continue
		}
		v.Add(k, fmt.Sprint(val))
	}
	return v
}

// RequestOption adjusts a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	delay    time.Duration
	jsonBody bool
	headers  map[string]string
}

// WithDelay overrides the minimum spacing for this call. Only positive values
// raise the floor.
func WithDelay(d time.Duration) RequestOption {
	return func(rc *requestConfig) { rc.delay = d }
}

// WithJSONBody serializes POST/PUT parameters as a JSON document instead of a
// form body.
func WithJSONBody() RequestOption {
	return func(rc *requestConfig) { rc.jsonBody = true }
}

// WithHeader adds a header to this request.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		if rc.headers == nil {
			rc.headers = map[string]string{}
		}
		rc.headers[key] = value
	}
}

// Request performs a portal request and decodes the JSON response. An empty
// body decodes to an empty map. Statuses outside [200, 300) surface as
// taxonomy errors; the 3xx range is never followed.
func (c *Client) Request(ctx context.Context, method, endpoint string, params Params, opts ...RequestOption) (map[string]interface{}, error) {
	rc := requestConfig{delay: c.delay}
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.delay < c.delay {
		rc.delay = c.delay
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := rc.delay - time.Since(c.last); wait > 0 && !c.last.IsZero() {
		logging.APIDebug("pacing %s before %s %s", wait, method, endpoint)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	req, err := c.buildRequest(ctx, method, endpoint, params, &rc)
	if err != nil {
		return nil, err
	}
	defer func() { c.last = time.Now() }()

	logging.APIDebug("%s %s", method, req.URL)
	resp, err := c.session.Do(req)
	if err != nil {
		return nil, &BadResponseError{URL: req.URL.String(), Reason: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BadResponseError{URL: req.URL.String(), StatusCode: resp.StatusCode, Reason: err.Error()}
	}

	data, err := decodeBody(req.URL.String(), resp.StatusCode, body)
	if err != nil {
		return nil, err
	}

	if err := dispatchStatus(method, req.URL.String(), resp, data); err != nil {
		logging.APIWarn("%s %s -> %d", method, req.URL, resp.StatusCode)
		return nil, err
	}
	return data, nil
}

func (c *Client) buildRequest(ctx context.Context, method, endpoint string, params Params, rc *requestConfig) (*http.Request, error) {
	target := c.resolveURL(endpoint)

	var body io.Reader
	hasBody := method == http.MethodPost || method == http.MethodPut
	contentType := ""

	if hasBody {
		if rc.jsonBody {
			data, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			body = strings.NewReader(string(data))
			contentType = "application/json"
		} else {
			body = strings.NewReader(params.values().Encode())
			contentType = "application/x-www-form-urlencoded"
		}
	} else if len(params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + params.values().Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-HH-App-Active", "true")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range rc.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// resolveURL returns absolute endpoints verbatim and joins relative ones
// against the base URL.
func (c *Client) resolveURL(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return c.baseURL + strings.TrimPrefix(endpoint, "/")
}

func decodeBody(url string, status int, body []byte) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return map[string]interface{}{}, nil
	}

	var raw interface{}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, &BadResponseError{URL: url, StatusCode: status, Reason: "response is not JSON"}
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	default:
		// A handful of endpoints answer with a bare list.
		return map[string]interface{}{"items": v}, nil
	}
}
