package pim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// SessionHeader carries the session id on every authenticated request.
	SessionHeader = "X-Session-Id"

	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 10
	maxErrorBody     = 512
)

// Config configures a Client.
type Config struct {
	// Domain is the server host, optionally with scheme. Without a scheme
	// https is used.
	Domain   string
	Username string
	Password string
	Customer string

	HTTPClient *http.Client  // nil = a client with Timeout
	Timeout    time.Duration // 0 = 30s
	RateLimit  float64       // requests per second, 0 = 10, < 0 = unlimited
	Burst      int           // 0 = 1
	Logger     *slog.Logger
}

// Client talks to one remote server. Safe for concurrent use.
type Client struct {
	baseURL  *url.URL
	username string
	password string
	customer string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu      sync.Mutex
	session string
}

// NewClient creates a client. No request is made until the first call.
func NewClient(cfg Config) (*Client, error) {
	base, err := BaseURL(cfg.Domain)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Limit(cfg.RateLimit)
	switch {
	case cfg.RateLimit == 0:
		limit = defaultRateLimit
	case cfg.RateLimit < 0:
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		customer: cfg.Customer,
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With("component", "pim", "server", base.Host),
	}, nil
}

// BaseURL turns a configured domain into the API root.
func BaseURL(domain string) (*url.URL, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, fmt.Errorf("server domain is empty")
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	u, err := url.Parse(strings.TrimRight(domain, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server domain %q: %w", domain, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server domain %q: no host", domain)
	}
	return u, nil
}

// Login authenticates and stores the session id for later requests.
func (c *Client) Login(ctx context.Context) error {
	body := loginRequest{Username: c.username, Password: c.password, Customer: c.customer}
	var resp loginResponse
	if err := c.send(ctx, http.MethodPost, "/rest/user/login", nil, body, "", &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if resp.SessionID == "" {
		return fmt.Errorf("login: %w", ErrNoSession)
	}

	c.mu.Lock()
	c.session = resp.SessionID
	c.mu.Unlock()
	c.logger.Debug("logged in")
	return nil
}

// ModuleConfig fetches the remote configuration of module.
func (c *Client) ModuleConfig(ctx context.Context, module string) (*ModuleConfig, error) {
	var cfg ModuleConfig
	path := "/rest/modules/" + url.PathEscape(module) + "/config"
	if err := c.do(ctx, http.MethodGet, path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("module config %q: %w", module, err)
	}
	return &cfg, nil
}

// Events fetches up to limit events of connector with an id greater than
// after, oldest first.
func (c *Client) Events(ctx context.Context, connector string, after int64, limit int) ([]RemoteEvent, error) {
	query := url.Values{}
	query.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp eventsResponse
	path := "/rest/events/" + url.PathEscape(connector)
	if err := c.do(ctx, http.MethodGet, path, query, &resp); err != nil {
		return nil, fmt.Errorf("events %q after %d: %w", connector, after, err)
	}
	return resp.Events, nil
}

// do sends an authenticated request, logging in first if needed and once
// more if the session was rejected.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	err = c.send(ctx, method, path, query, nil, session, out)
	if !IsUnauthorized(err) {
		return err
	}

	c.logger.Debug("session rejected, logging in again", "path", path)
	c.mu.Lock()
	if c.session == session {
		c.session = ""
	}
	c.mu.Unlock()

	session, err = c.ensureSession(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, query, nil, session, out)
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session != "" {
		return session, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, in any, session string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
