// Package httpclient fetches remote media over HTTP for the cache layers.
// Requests get a default timeout when the caller's context has none, and
// response bodies are bounded so a misbehaving origin cannot exhaust memory.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

const (
	// DefaultTimeout is applied when the request context has no deadline
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodyBytes bounds a single media download
	DefaultMaxBodyBytes int64 = 50 << 20

	defaultMaxIdleConns          = 32
	defaultMaxIdleConnsPerHost   = 8
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 15 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "aimusicverse-audiocore"

	componentHTTP = "httpclient"
)

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes
var ErrBodyTooLarge = errors.New(nil).
	Component(componentHTTP).
	Category(errors.CategoryLimit).
	Context("reason", "body_too_large").
	Build()

// Config holds configuration for creating a client
type Config struct {
	// DefaultTimeout is applied if the request context has no deadline
	DefaultTimeout time.Duration
	// UserAgent is added to requests that do not set one
	UserAgent string
	// MaxBodyBytes bounds Fetch results
	MaxBodyBytes int64

	MaxIdleConnsPerHost   int
	ResponseHeaderTimeout time.Duration

	Logger logger.Logger
}

// DefaultConfig returns a Config with production defaults
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        DefaultTimeout,
		UserAgent:             defaultUserAgent,
		MaxBodyBytes:          DefaultMaxBodyBytes,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

// Client is safe for concurrent use
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string
	maxBodyBytes   int64
	logger         logger.Logger
}

// New creates a client. A nil cfg uses DefaultConfig; zero fields take
// their defaults.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.UserAgent != "" {
			c.UserAgent = cfg.UserAgent
		}
		if cfg.MaxBodyBytes > 0 {
			c.MaxBodyBytes = cfg.MaxBodyBytes
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		if cfg.ResponseHeaderTimeout > 0 {
			c.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		}
		c.Logger = cfg.Logger
	}
	if c.Logger == nil {
		c.Logger = logger.Global().Module(componentHTTP)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: c.ResponseHeaderTimeout,
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
		maxBodyBytes:   c.MaxBodyBytes,
		logger:         c.Logger,
	}
}

// StdClient exposes the underlying client, mainly for transport mocking
func (c *Client) StdClient() *http.Client {
	return c.client
}

// Do executes req, applying the default timeout when ctx has no deadline.
// The returned cancel func must be called once the body is consumed.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, context.CancelFunc, error) {
	if req == nil {
		return nil, func() {}, fmt.Errorf("nil request")
	}

	cancel := context.CancelFunc(func() {})
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, func() {}, err
	}
	return resp, cancel, nil
}

// Fetch downloads url and returns the body. Non-2xx statuses and bodies
// larger than the configured bound are errors.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component(componentHTTP).
			Category(errors.CategoryValidation).
			URLContext(url).
			Build()
	}

	resp, cancel, err := c.Do(ctx, req)
	defer cancel()
	if err != nil {
		return nil, errors.New(err).
			Component(componentHTTP).
			Category(errors.CategoryNetwork).
			URLContext(url).
			Timing("fetch", time.Since(start)).
			Build()
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("closing response body failed", logger.Error(closeErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("unexpected status %d fetching media", resp.StatusCode).
			Component(componentHTTP).
			Category(errors.CategoryHTTP).
			URLContext(url).
			Context("status_code", resp.StatusCode).
			Build()
	}

	if resp.ContentLength > c.maxBodyBytes {
		return nil, c.tooLarge(url, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, errors.New(err).
			Component(componentHTTP).
			Category(errors.CategoryNetwork).
			URLContext(url).
			Context("operation", "read_body").
			Build()
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, c.tooLarge(url, int64(len(body)))
	}

	c.logger.Debug("media fetched",
		logger.Int("bytes", len(body)),
		logger.Duration("elapsed", time.Since(start)))
	return body, nil
}

func (c *Client) tooLarge(url string, size int64) error {
	return errors.New(fmt.Errorf("response of %d bytes exceeds limit of %d: %w", size, c.maxBodyBytes, ErrBodyTooLarge)).
		Component(componentHTTP).
		Category(errors.CategoryLimit).
		Context("reason", "body_too_large").
		URLContext(url).
		Build()
}

// Close releases idle connections
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
