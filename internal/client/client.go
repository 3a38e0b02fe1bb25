// Package client is the embedding-facing PocketBase client: authentication,
// record operations on collections, and the realtime subscription registry
// behind one value.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"pbembed/internal/logging"
	"pbembed/internal/pbconn"
	"pbembed/internal/retry"
	"pbembed/internal/subscription"
)

var ErrEmptyID = errors.New("record id is required")

type Options struct {
	Transport     pbconn.TransportFactory
	Timeout       time.Duration
	Retry         retry.Policy
	Subscriptions subscription.Options
	Logger        *logging.Logger
}

type Client struct {
	conn     *pbconn.Connection
	registry *subscription.Registry
	opts     Options
	logger   *logging.Logger

	mu   sync.RWMutex
	auth pbconn.AuthResult
}

// New builds a client against the PocketBase API root, e.g.
// https://pb.example.com/api.
func New(baseURL string, opts Options) *Client {
	conn := pbconn.New(baseURL, pbconn.Options{
		Transport: opts.Transport,
		Timeout:   opts.Timeout,
		Retry:     opts.Retry,
		Logger:    opts.Logger,
	})
	return newWithConnection(conn, opts)
}

func newWithConnection(conn *pbconn.Connection, opts Options) *Client {
	if opts.Subscriptions.Logger == nil {
		opts.Subscriptions.Logger = opts.Logger
	}
	return &Client{
		conn:     conn,
		registry: subscription.New(conn, opts.Subscriptions),
		opts:     opts,
		logger:   opts.Logger,
	}
}

func (c *Client) Connection() *pbconn.Connection { return c.conn }

// LoginPassword authenticates and keeps the result. A failed login leaves
// the previous token and auth record in place.
func (c *Client) LoginPassword(ctx context.Context, identity, password, collection string) (pbconn.AuthResult, error) {
	auth, err := c.conn.LoginPassword(ctx, identity, password, collection)
	if err != nil {
		return pbconn.AuthResult{}, err
	}
	c.mu.Lock()
	c.auth = auth
	c.mu.Unlock()
	return auth, nil
}

func (c *Client) AuthRecord() pbconn.AuthResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

func (c *Client) AuthToken() string { return c.conn.AuthToken() }

// PropagateAuth copies the primary token onto every subscription connection.
// Without it, existing subscriptions keep the token they were forked with.
func (c *Client) PropagateAuth() {
	c.registry.SetAuthToken(c.conn.AuthToken())
}

// Health checks that the server answers on /health.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.conn.Get(ctx, c.conn.Endpoint("health"))
	if err != nil {
		return err
	}
	c.logger.Debug("health check passed")
	return nil
}

// Batch posts a transactional batch request. body is sent as-is when it is
// []byte or json.RawMessage and JSON-encoded otherwise.
func (c *Client) Batch(ctx context.Context, body any) (pbconn.Result, error) {
	payload, err := marshalBody(body)
	if err != nil {
		return pbconn.Result{}, err
	}
	return c.conn.Post(ctx, c.conn.Endpoint("batch"), payload)
}

func (c *Client) Subscribe(ctx context.Context, collection, recordID string, cb subscription.Callback, userCtx any) (subscription.Handle, error) {
	return c.registry.Subscribe(ctx, collection, recordID, cb, userCtx)
}

func (c *Client) Unsubscribe(collection, recordID string) bool {
	return c.registry.Unsubscribe(collection, recordID)
}

// UpdateSubscriptions polls every active subscription once. Nothing calls it
// internally; the embedding application schedules it.
func (c *Client) UpdateSubscriptions(ctx context.Context) int {
	return c.registry.Update(ctx)
}

func (c *Client) Slots() []subscription.SlotInfo { return c.registry.Slots() }

func (c *Client) SubscriptionCapacity() int { return c.registry.Capacity() }

// Fork returns an independent client with its own transport and its own
// empty subscription table. It starts with this client's token and auth record.
func (c *Client) Fork() *Client {
	fork := newWithConnection(c.conn.Fork(), c.opts)
	fork.auth = c.AuthRecord()
	return fork
}

// Close drops every subscription and idle socket.
func (c *Client) Close() {
	c.registry.Close()
	c.conn.Close()
}

func isNoContent(result pbconn.Result) bool {
	return result.StatusCode == http.StatusNoContent
}
