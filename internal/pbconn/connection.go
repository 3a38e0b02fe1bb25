// Package pbconn is the authenticated request layer over a PocketBase API.
// A Connection owns exactly one HTTP client; Fork hands out another
// Connection with its own client and a copy of the auth token.
package pbconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pbembed/internal/logging"
	"pbembed/internal/retry"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = 1 << 20
)

type Options struct {
	// Transport builds the transport handle for this connection and every fork.
	Transport        TransportFactory
	Timeout          time.Duration
	MaxResponseBytes int64
	Retry            retry.Policy
	Logger           *logging.Logger
}

type Connection struct {
	baseURL  string
	factory  TransportFactory
	http     *http.Client
	policy   retry.Policy
	maxBytes int64
	logger   *logging.Logger

	mu    sync.RWMutex
	token string
}

// New builds the primary connection. baseURL is the API root, for example
// https://pb.example.com/api.
func New(baseURL string, opts Options) *Connection {
	if opts.Transport == nil {
		opts.Transport = DefaultTransportFactory(false)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = defaultMaxResponseBytes
	}
	if opts.Retry.IsZero() {
		defaults := retry.DefaultPolicy()
		opts.Retry.Retries = defaults.Retries
		opts.Retry.BaseDelay = defaults.BaseDelay
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}
	return &Connection{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		factory:  opts.Transport,
		http:     &http.Client{Transport: opts.Transport(), Timeout: opts.Timeout},
		policy:   opts.Retry,
		maxBytes: opts.MaxResponseBytes,
		logger:   opts.Logger,
	}
}

// Fork returns a connection with the same base URL and a copy of the current
// token, backed by a newly built transport. Later token changes on either
// side are not shared.
func (c *Connection) Fork() *Connection {
	return &Connection{
		baseURL:  c.baseURL,
		factory:  c.factory,
		http:     &http.Client{Transport: c.factory(), Timeout: c.http.Timeout},
		policy:   c.policy,
		maxBytes: c.maxBytes,
		logger:   c.logger,
		token:    c.AuthToken(),
	}
}

func (c *Connection) BaseURL() string { return c.baseURL }

func (c *Connection) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Connection) SetAuthToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// HTTPClient exposes the owned client for long-lived requests such as the
// realtime stream.
func (c *Connection) HTTPClient() *http.Client { return c.http }

func (c *Connection) Logger() *logging.Logger { return c.logger }

// RetryPolicy is the policy applied to every request on this connection.
func (c *Connection) RetryPolicy() retry.Policy { return c.policy }

// Endpoint joins path segments onto the base URL, escaping each segment.
func (c *Connection) Endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// Close drops idle sockets held by this connection's transport.
func (c *Connection) Close() {
	c.http.CloseIdleConnections()
}

func (c *Connection) Get(ctx context.Context, endpoint string) (Result, error) {
	return c.send(ctx, http.MethodGet, endpoint, nil, requestMode{auth: true, keepAlive: true})
}

func (c *Connection) Post(ctx context.Context, endpoint string, body []byte) (Result, error) {
	return c.send(ctx, http.MethodPost, endpoint, body, requestMode{auth: true, keepAlive: true})
}

func (c *Connection) Patch(ctx context.Context, endpoint string, body []byte) (Result, error) {
	return c.send(ctx, http.MethodPatch, endpoint, body, requestMode{auth: true, keepAlive: true})
}

func (c *Connection) Delete(ctx context.Context, endpoint string) (Result, error) {
	return c.send(ctx, http.MethodDelete, endpoint, nil, requestMode{auth: true, keepAlive: true})
}

type requestMode struct {
	auth      bool
	keepAlive bool
}

func (c *Connection) send(ctx context.Context, method, endpoint string, body []byte, mode requestMode) (Result, error) {
	if err := checkScheme(endpoint); err != nil {
		return Result{}, err
	}
	template, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return Result{}, err
	}
	if mode.auth {
		if token := c.AuthToken(); token != "" {
			// PocketBase accepts the raw token without a Bearer prefix.
			template.Header.Set("Authorization", token)
		}
	}
	if mode.keepAlive {
		template.Header.Set("Connection", "keep-alive")
	} else {
		template.Header.Set("Connection", "close")
		template.Close = true
	}
	if body != nil {
		template.Header.Set("Content-Type", "application/json")
	}

	op := method + " " + endpoint
	resp, err := c.policy.Do(ctx, op, func(ctx context.Context) (*http.Response, error) {
		req := template.Clone(ctx)
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
			req.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
		}
		return c.http.Do(req)
	})
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	tooLarge := int64(len(data)) > c.maxBytes
	if tooLarge {
		data = data[:c.maxBytes]
	}
	result := Result{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	c.logger.Debugf("%s %s -> %s", method, endpoint, resp.Status)
	if readErr != nil {
		return result, fmt.Errorf("%s: read response: %w", op, readErr)
	}
	if tooLarge {
		c.logger.Warn("response body over limit",
			logging.Field("method", method),
			logging.Field("url", endpoint),
			logging.Field("limit", c.maxBytes),
		)
		return result, fmt.Errorf("%s: %w (limit %d bytes)", op, ErrResponseTooLarge, c.maxBytes)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("request rejected",
			logging.Field("method", method),
			logging.Field("url", endpoint),
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return result, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}
	}
	return result, nil
}

func checkScheme(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, endpoint)
	}
	return nil
}
