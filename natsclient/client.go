// Package natsclient manages the broker connection shared by the bridge
// and processor binaries: bounded connect, reconnect bookkeeping while the
// pipeline runs, drain on close.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// ConnectionStatus represents the state of the broker connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected reports an operation attempted without a live connection.
var ErrNotConnected = stderrors.New("not connected to NATS")

// Client wraps a NATS connection for run-to-completion pipeline binaries.
// It is safe for concurrent use once connected.
type Client struct {
	url    string
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	consumers   []jetstream.ConsumeContext
	consumersMu sync.Mutex

	status     atomic.Value // ConnectionStatus
	reconnects atomic.Int32

	// Connection options, set before Connect.
	name          string
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	username      string
	password      string
	token         string
	tlsCAFile     string

	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient builds an unconnected client for url.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Client", "NewClient", "url check")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1, // keep trying while the pipeline runs
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")
	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the broker URL.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	v := c.status.Load()
	if v == nil {
		return StatusDisconnected
	}
	return v.(ConnectionStatus)
}

// IsConnected reports whether the underlying connection is live.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Reconnects returns how many times the connection dropped and recovered.
func (c *Client) Reconnects() int32 { return c.reconnects.Load() }

// Conn exposes the raw connection for request/reply callers.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// buildConnectionOptions assembles nats.Options from the client configuration.
func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsCAFile != "" {
		opts = append(opts, nats.RootCAs(c.tlsCAFile))
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	return opts
}

// Connect establishes the connection, honoring ctx for the dial.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown,
			"Client", "Connect", "closed client check")
	}

	c.status.Store(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	done := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.buildConnectionOptions()...)
		if err != nil {
			done <- err
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			done <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			c.status.Store(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection wait")
	}

	c.status.Store(StatusConnected)
	c.logger.Info("connected to NATS", "url", c.url)
	return nil
}

// Publish sends data to subject on the core transport.
func (c *Client) Publish(subject string, data []byte) error {
	conn := c.Conn()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// PublishMsg sends a prebuilt message, headers included.
func (c *Client) PublishMsg(msg *nats.Msg) error {
	conn := c.Conn()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.PublishMsg(msg)
}

// Flush waits until the server has processed everything sent so far.
func (c *Client) Flush() error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Flush()
}

// Subscribe registers handler for subject. The subscription is tracked and
// torn down at Close; callers may also unsubscribe earlier themselves.
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Subscribe",
			fmt.Sprintf("subscribe %s", subject))
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// QueueSubscribe spreads subject across a queue group: each message goes to
// exactly one member, so processors can scale out.
func (c *Client) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "QueueSubscribe",
			fmt.Sprintf("subscribe %s queue %s", subject, queue))
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// JetStream returns the handle created at Connect.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// EnsureStream creates or updates a JetStream stream.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "EnsureStream",
			fmt.Sprintf("stream %s", cfg.Name))
	}
	return stream, nil
}

// PublishToStream publishes msg through JetStream and waits for the ack.
func (c *Client) PublishToStream(ctx context.Context, msg *nats.Msg) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.PublishMsg(ctx, msg); err != nil {
		return errors.Wrap(err, "Client", "PublishToStream",
			fmt.Sprintf("publish %s", msg.Subject))
	}
	return nil
}

// ConsumeStream attaches handler to a consumer on streamName filtered by
// subject. Messages are acked after the handler returns. The returned stop
// function halts delivery; Close also stops every open consumer.
func (c *Client) ConsumeStream(ctx context.Context, streamName, subject string, handler func(jetstream.Msg)) (func(), error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "ConsumeStream",
			fmt.Sprintf("consumer on %s", streamName))
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(msg)
		_ = msg.Ack()
	})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "ConsumeStream",
			fmt.Sprintf("consume %s", subject))
	}

	c.consumersMu.Lock()
	c.consumers = append(c.consumers, cc)
	c.consumersMu.Unlock()
	return cc.Stop, nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.status.Store(StatusReconnecting)
	if err != nil {
		c.logger.Warn("NATS connection lost", "error", err)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	n := c.reconnects.Add(1)
	c.status.Store(StatusConnected)
	c.logger.Info("NATS connection restored", "url", conn.ConnectedUrl(), "reconnects", n)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if !c.closed.Load() {
		c.logger.Warn("NATS connection closed unexpectedly")
		c.status.Store(StatusDisconnected)
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS async error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS async error", "error", err)
}

// Close stops consumers, unsubscribes, and drains the connection. Calling
// it more than once is a no-op.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.consumersMu.Lock()
	for _, cc := range c.consumers {
		cc.Stop()
	}
	c.consumers = nil
	c.consumersMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.status.Store(StatusClosed)
		return nil
	}

	var errs []error
	for _, sub := range c.subs {
		if sub.IsValid() {
			if err := sub.Unsubscribe(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	c.subs = nil

	if c.conn.IsConnected() {
		// Drain finishes in the background, bounded by the drain timeout.
		if err := c.conn.Drain(); err != nil {
			errs = append(errs, err)
			c.conn.Close()
		}
	} else {
		c.conn.Close()
	}
	c.conn = nil
	c.js = nil
	c.status.Store(StatusClosed)

	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Client", "Close", "connection teardown")
	}
	return nil
}
