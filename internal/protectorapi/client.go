package protectorapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-protector/internal/bridges/protector"
)

const (
	// SessionCookieName is the vendor session cookie.
	SessionCookieName = "ss-id"

	defaultTimeout  = 15 * time.Second
	pageSize        = 500
	maxResponseSize = 8 << 20

	pathAuth      = "/auth"
	pathDoors     = "/api/doors"
	pathReaders   = "/api/readers"
	pathOverview  = "/api/system/overview/System"
	pathNegotiate = "/rt/notificationHub/negotiate"
)

var (
	_ protector.Directory  = (*Client)(nil)
	_ protector.Negotiator = (*Client)(nil)
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the vendor web root, e.g. https://protector.example.com
	BaseURL string

	// Username and Password enable login and re-authentication.
	Username string
	Password string

	// SessionCookie is a pre-obtained ss-id value. Optional when
	// credentials are set.
	SessionCookie string

	// PartitionID scopes door and reader listings.
	PartitionID int

	// VerifySSL enables TLS certificate verification.
	VerifySSL bool

	// Timeout bounds each HTTP request. Default: 15 seconds.
	Timeout time.Duration

	// HTTPClient overrides the transport. Timeout and VerifySSL are ignored
	// when set.
	HTTPClient *http.Client

	Logger Logger
}

// Client talks to one vendor system.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL     string
	username    string
	password    string
	partitionID int
	httpClient  *http.Client
	logger      Logger

	cookie   string
	cookieMu sync.RWMutex

	// loginMu serialises logins so concurrent 401s trigger one.
	loginMu sync.Mutex
}

// NewClient creates a Client.
//
// Parameters:
//   - cfg: Connection and credential settings for one instance
//
// Returns:
//   - *Client: Ready for use; no request is made until the first call
//   - error: ErrInvalidConfig if the base URL or session source is missing
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be http or https", ErrInvalidConfig, cfg.BaseURL)
	}
	if cfg.SessionCookie == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, fmt.Errorf("%w: session cookie or username and password required", ErrInvalidConfig)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				//nolint:gosec // verify_ssl is an explicit per-instance setting for self-signed appliances
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
			},
		}
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		partitionID: cfg.PartitionID,
		httpClient:  httpClient,
		logger:      cfg.Logger,
		cookie:      cfg.SessionCookie,
	}, nil
}

// SessionCookie returns the current ss-id value.
func (c *Client) SessionCookie() string {
	c.cookieMu.RLock()
	defer c.cookieMu.RUnlock()
	return c.cookie
}

func (c *Client) setSessionCookie(v string) {
	c.cookieMu.Lock()
	c.cookie = v
	c.cookieMu.Unlock()
}

func (c *Client) hasCredentials() bool {
	return c.username != "" && c.password != ""
}

// Login posts the configured credentials to /auth and stores the returned
// ss-id cookie.
func (c *Client) Login(ctx context.Context) error {
	if !c.hasCredentials() {
		return fmt.Errorf("%w: no credentials configured", ErrLoginFailed)
	}

	body, err := json.Marshal(map[string]string{"Username": c.username, "Password": c.password})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathAuth, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookieName && ck.Value != "" {
			c.setSessionCookie(ck.Value)
			c.logDebug("protector login succeeded")
			return nil
		}
	}
	return fmt.Errorf("%w: no %s cookie in response", ErrLoginFailed, SessionCookieName)
}

// relogin logs in unless another caller already replaced the stale cookie.
func (c *Client) relogin(ctx context.Context, stale string) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if current := c.SessionCookie(); current != "" && current != stale {
		return nil
	}
	return c.Login(ctx)
}

// PartitionDoors returns the door allowlist of the configured partition.
func (c *Client) PartitionDoors(ctx context.Context) ([]protector.PartitionDoor, error) {
	var page struct {
		Results []protector.PartitionDoor `json:"Results"`
	}
	if err := c.getJSON(ctx, pathDoors, c.partitionQuery(), &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// PartitionReaders returns the readers of the configured partition.
func (c *Client) PartitionReaders(ctx context.Context) ([]protector.PartitionReader, error) {
	var page struct {
		Results []protector.PartitionReader `json:"Results"`
	}
	if err := c.getJSON(ctx, pathReaders, c.partitionQuery(), &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// Topology returns the root of the system overview tree.
func (c *Client) Topology(ctx context.Context) (*protector.TopologyNode, error) {
	var overview struct {
		Status *protector.TopologyNode `json:"Status"`
	}
	if err := c.getJSON(ctx, pathOverview, nil, &overview); err != nil {
		return nil, err
	}
	if overview.Status == nil {
		return nil, fmt.Errorf("%w: overview has no Status node", ErrDecodeFailed)
	}
	return overview.Status, nil
}

// Negotiate asks the notification hub for a fresh connection token.
func (c *Client) Negotiate(ctx context.Context) (string, error) {
	q := url.Values{"negotiateVersion": {"1"}}
	data, err := c.do(ctx, http.MethodPost, pathNegotiate, q, nil, "text/plain")
	if err != nil {
		return "", err
	}

	var resp struct {
		ConnectionToken string `json:"connectionToken"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: negotiate: %w", ErrDecodeFailed, err)
	}
	if resp.ConnectionToken == "" {
		return "", ErrNegotiateFailed
	}
	return resp.ConnectionToken, nil
}

func (c *Client) partitionQuery() url.Values {
	return url.Values{
		"PartitionId": {strconv.Itoa(c.partitionID)},
		"PageNumber":  {"1"},
		"PerPage":     {strconv.Itoa(pageSize)},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecodeFailed, path, err)
	}
	return nil
}

// do sends one request with the session cookie. A 401 triggers one login
// and one retry when credentials are configured.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) ([]byte, error) {
	if c.SessionCookie() == "" {
		if err := c.relogin(ctx, ""); err != nil {
			return nil, err
		}
	}

	cookie := c.SessionCookie()
	status, data, err := c.send(ctx, method, path, query, body, contentType, cookie)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if !c.hasCredentials() {
			return nil, fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
		}
		c.logDebug("protector session expired, re-authenticating", "path", path)
		if err := c.relogin(ctx, cookie); err != nil {
			return nil, err
		}
		status, data, err = c.send(ctx, method, path, query, body, contentType, c.SessionCookie())
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %s %s after login", ErrUnauthorized, method, path)
		}
	}

	if status < 200 || status > 299 {
		c.logWarn("protector request failed", "method", method, "path", path, "status", status)
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrRequestFailed, method, path, status)
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte, contentType, cookie string) (int, []byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookie})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading %s: %w", ErrRequestFailed, path, err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}
