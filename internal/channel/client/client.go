package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blobworks/mediavault/internal/channel"
	"github.com/blobworks/mediavault/internal/models"
	"github.com/blobworks/mediavault/pkg/logger"
)

// State describes the connection lifecycle. Error is terminal for one dial
// attempt, not for the client: the run loop keeps reconnecting until its
// context is cancelled.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
	defaultRequestTimeout = 15 * time.Second
)

// ErrNotConnected is returned for requests issued while the channel is down.
var ErrNotConnected = errors.New("channel client: not connected")

// ServerError is a message-level failure relayed by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("channel client: server error %s: %s", e.Code, e.Message)
}

// Config configures a channel client.
type Config struct {
	// URL is the ws:// or wss:// channel endpoint.
	URL string
	// Token is appended as the `token` query parameter when set.
	Token string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RequestTimeout time.Duration

	// OnState is invoked on every lifecycle transition.
	OnState func(State)
	// OnEvent receives broadcasts and any response no request is waiting
	// for (welcome, connection_status, the post-reconnect listing).
	OnEvent func(channel.Envelope)
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Client maintains one persistent channel connection with automatic
// reconnect. Responses are routed back to the issuing call by correlation id.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	pending map[string]chan channel.Envelope
}

// New constructs a client. Run must be called to open the connection.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("channel client: URL is required")
	}
	return &Client{
		cfg:     cfg.withDefaults(),
		dialer:  websocket.DefaultDialer,
		log:     logger.WithModule("channel-client"),
		state:   StateDisconnected,
		pending: make(map[string]chan channel.Envelope),
	}, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run dials the channel and keeps it alive until ctx is cancelled,
// reconnecting with exponential backoff. After every successful (re)connect
// a listing request is issued so subscribers see a fresh snapshot.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateError)
			attempt++
			if waitErr := c.backoff(ctx, attempt); waitErr != nil {
				return waitErr
			}
			continue
		}

		attempt = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)

		// Listings fetched before the outage are stale snapshots.
		c.requestListingRefresh()

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.failPendingLocked()
		c.mu.Unlock()
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		if waitErr := c.backoff(ctx, attempt); waitErr != nil {
			return waitErr
		}
	}
}

// List fetches a page of blob metadata.
func (c *Client) List(ctx context.Context, limit, offset int) (channel.BlobListPayload, error) {
	var out channel.BlobListPayload
	env, err := c.request(ctx, channel.KindListBlobs, channel.ListBlobsRequest{Limit: limit, Offset: offset}, channel.KindBlobList)
	if err != nil {
		return out, err
	}
	return out, env.DecodePayload(&out)
}

// Get fetches one blob's metadata.
func (c *Client) Get(ctx context.Context, id string) (models.MediaBlob, error) {
	var out models.MediaBlob
	env, err := c.request(ctx, channel.KindGetBlob, channel.GetBlobRequest{ID: id}, channel.KindBlob)
	if err != nil {
		return out, err
	}
	return out, env.DecodePayload(&out)
}

// GetData fetches the bytes of an inline-tier blob.
func (c *Client) GetData(ctx context.Context, id string) (channel.BlobDataPayload, error) {
	var out channel.BlobDataPayload
	env, err := c.request(ctx, channel.KindGetBlobData, channel.GetBlobDataRequest{ID: id}, channel.KindBlobData)
	if err != nil {
		return out, err
	}
	return out, env.DecodePayload(&out)
}

// Upload submits an inline-tier payload and returns the stored metadata.
func (c *Client) Upload(ctx context.Context, req channel.UploadBlobRequest) (models.MediaBlob, error) {
	var out models.MediaBlob
	env, err := c.request(ctx, channel.KindUploadBlob, req, channel.KindBlob)
	if err != nil {
		return out, err
	}
	return out, env.DecodePayload(&out)
}

// Ping round-trips a keepalive through the server.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, channel.KindPing, nil, channel.KindPong)
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.cfg.URL
	if c.cfg.Token != "" {
		sep := "?"
		for _, r := range url {
			if r == '?' {
				sep = "&"
				break
			}
		}
		url += sep + "token=" + c.cfg.Token
	}
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.log.Warn("dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
		return nil, err
	}
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env channel.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		if env.CorrelationID != "" {
			c.mu.Lock()
			waiter, ok := c.pending[env.CorrelationID]
			if ok {
				delete(c.pending, env.CorrelationID)
			}
			c.mu.Unlock()
			if ok {
				waiter <- env
				continue
			}
		}

		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(env)
		}
	}
}

// request writes one envelope and waits for the correlated response. An
// error envelope for the same correlation id becomes a *ServerError.
func (c *Client) request(ctx context.Context, kind channel.Kind, payload any, want channel.Kind) (channel.Envelope, error) {
	correlationID := uuid.NewString()
	env, err := channel.NewEnvelope(kind, correlationID, payload)
	if err != nil {
		return channel.Envelope{}, err
	}

	waiter := make(chan channel.Envelope, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return channel.Envelope{}, ErrNotConnected
	}
	c.pending[correlationID] = waiter
	writeErr := conn.WriteJSON(env)
	c.mu.Unlock()

	if writeErr != nil {
		c.dropPending(correlationID)
		return channel.Envelope{}, writeErr
	}

	timeout := c.cfg.RequestTimeout
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		c.dropPending(correlationID)
		return channel.Envelope{}, ctx.Err()
	case reply, ok := <-waiter:
		if !ok {
			return channel.Envelope{}, ErrNotConnected
		}
		if reply.Kind == channel.KindError {
			var failure channel.ErrorPayload
			if err := reply.DecodePayload(&failure); err != nil {
				return channel.Envelope{}, err
			}
			return channel.Envelope{}, &ServerError{Code: failure.Code, Message: failure.Message}
		}
		if reply.Kind != want {
			return channel.Envelope{}, fmt.Errorf("channel client: expected %s, got %s", want, reply.Kind)
		}
		return reply, nil
	}
}

// requestListingRefresh fires a listing request with no correlation waiter;
// the response is delivered through OnEvent like any broadcast.
func (c *Client) requestListingRefresh() {
	env, err := channel.NewEnvelope(channel.KindListBlobs, "", channel.ListBlobsRequest{})
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteJSON(env)
	}
}

func (c *Client) dropPending(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

func (c *Client) failPendingLocked() {
	for id, waiter := range c.pending {
		close(waiter)
		delete(c.pending, id)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.cfg.OnState != nil {
		c.cfg.OnState(s)
	}
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	wait := c.cfg.InitialBackoff << uint(attempt-1)
	if wait > c.cfg.MaxBackoff || wait <= 0 {
		wait = c.cfg.MaxBackoff
	}
	// Jitter spreads reconnect storms out.
	wait += time.Duration(rand.Int63n(int64(wait)/5 + 1))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
