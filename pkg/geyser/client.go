package geyser

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// Client errors.
var (
	ErrAlreadySubscribed = errors.New("geyser client already subscribed")
	ErrClosed            = errors.New("geyser client closed")
	ErrStreamClosed      = errors.New("geyser stream closed")
	ErrMaxReconnects     = errors.New("max reconnection attempts reached")
	ErrBadHandshake      = errors.New("geyser stream did not start with a subscription id")
)

// Client consumes a Geyser subscription.
//
// Updates are delivered on a buffered channel. The client reconnects with
// exponential backoff when the stream fails with a retryable status and
// resubscribes with the same request.
type Client struct {
	config ClientConfig

	conn    *grpc.ClientConn
	updates chan *Update

	mu             sync.Mutex
	req            *SubscribeRequest
	cancelFunc     context.CancelFunc
	subscribed     bool
	subscriptionID atomic.Value
	wg             sync.WaitGroup

	connected      atomic.Bool
	closed         atomic.Bool
	lastSlot       atomic.Uint64
	lastUpdate     atomic.Int64 // Unix nano timestamp
	reconnectCount atomic.Int32

	lastError   error
	lastErrorMu sync.RWMutex
}

// NewClient creates a Geyser client. The connection is established lazily by
// Subscribe.
func NewClient(config ClientConfig) (*Client, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	kacp := keepalive.ClientParameters{
		Time:                config.KeepaliveTime,
		Timeout:             config.KeepaliveTimeout,
		PermitWithoutStream: true,
	}
	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			grpc.CallContentSubtype(codecName),
		),
	}
	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      expandEnvVars(config.Token),
			requireTLS: config.UseTLS,
		}))
	}
	opts = append(opts, config.DialOptions...)

	//nolint:staticcheck // Dial keeps the passthrough resolver for bare host:port targets.
	conn, err := grpc.Dial(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}

	c := &Client{
		config:  config,
		conn:    conn,
		updates: make(chan *Update, config.UpdateChannelSize),
	}
	c.subscriptionID.Store("")
	return c, nil
}

// Subscribe opens the subscription and returns once the server has
// acknowledged it. Filter and authentication errors are returned here as
// gRPC status errors.
func (c *Client) Subscribe(ctx context.Context, req *SubscribeRequest) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return ErrAlreadySubscribed
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.open(ctx, req)
	if err != nil {
		cancel()
		return err
	}
	c.req = req
	c.cancelFunc = cancel
	c.subscribed = true

	c.wg.Add(1)
	go c.run(ctx, stream)
	return nil
}

// open starts a stream, sends req and waits for the handshake update.
func (c *Client) open(ctx context.Context, req *SubscribeRequest) (grpc.ClientStream, error) {
	streamCtx := metadata.NewOutgoingContext(ctx, metadata.New(c.config.Headers))
	stream, err := c.conn.NewStream(streamCtx, &serviceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	hello := new(Update)
	if err := stream.RecvMsg(hello); err != nil {
		return nil, err
	}
	if hello.SubscriptionID == "" {
		return nil, ErrBadHandshake
	}
	c.subscriptionID.Store(hello.SubscriptionID)
	if hello.Slot != nil {
		c.lastSlot.Store(hello.Slot.Slot)
	}
	c.connected.Store(true)
	c.lastUpdate.Store(time.Now().UnixNano())
	klog.V(1).InfoS("Geyser subscription started", "endpoint", c.config.Endpoint, "id", hello.SubscriptionID)
	return stream, nil
}

// run receives until ctx is done, reconnecting on retryable failures.
func (c *Client) run(ctx context.Context, stream grpc.ClientStream) {
	defer c.wg.Done()

	for {
		err := c.receive(stream)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		c.setLastError(err)
		if c.config.OnDisconnect != nil {
			c.config.OnDisconnect(err)
		}
		if !isRetryableError(err) {
			klog.ErrorS(err, "Geyser subscription ended", "endpoint", c.config.Endpoint)
			return
		}

		stream = c.reconnect(ctx)
		if stream == nil {
			return
		}
	}
}

func (c *Client) receive(stream grpc.ClientStream) error {
	for {
		update := new(Update)
		if err := stream.RecvMsg(update); err != nil {
			if err == io.EOF {
				return ErrStreamClosed
			}
			return err
		}
		c.lastUpdate.Store(time.Now().UnixNano())
		c.processUpdate(update)
	}
}

func (c *Client) processUpdate(update *Update) {
	if update.Slot != nil {
		c.lastSlot.Store(update.Slot.Slot)
	}
	if c.config.OnUpdate != nil {
		c.config.OnUpdate(update)
	}

	// Non-blocking send; drop the oldest update when the channel is full.
	select {
	case c.updates <- update:
	default:
		select {
		case <-c.updates:
		default:
		}
		c.updates <- update
	}
}

// reconnect resubscribes with exponential backoff. It returns nil when ctx
// is done or reconnection is given up.
func (c *Client) reconnect(ctx context.Context) grpc.ClientStream {
	backoff := c.config.ReconnectMinDelay
	for attempt := 1; ; attempt++ {
		c.reconnectCount.Add(1)
		if c.config.MaxReconnects > 0 && attempt > c.config.MaxReconnects {
			c.setLastError(ErrMaxReconnects)
			klog.ErrorS(ErrMaxReconnects, "Giving up on geyser subscription", "endpoint", c.config.Endpoint)
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		stream, err := c.open(ctx, c.req)
		if err == nil {
			if c.config.OnReconnect != nil {
				c.config.OnReconnect(attempt)
			}
			return stream
		}
		c.setLastError(err)
		if !isRetryableError(err) {
			klog.ErrorS(err, "Geyser resubscribe rejected", "endpoint", c.config.Endpoint)
			return nil
		}
		klog.V(2).InfoS("Geyser reconnect failed", "attempt", attempt, "err", err)
		backoff = minDuration(backoff*2, c.config.ReconnectMaxDelay)
	}
}

// Updates returns the channel of received updates. It is closed by Close.
func (c *Client) Updates() <-chan *Update {
	return c.updates
}

// Health returns the current health status of the client.
func (c *Client) Health() ClientHealth {
	return ClientHealth{
		Connected:      c.connected.Load(),
		SubscriptionID: c.subscriptionID.Load().(string),
		LastSlot:       c.lastSlot.Load(),
		LastUpdate:     time.Unix(0, c.lastUpdate.Load()),
		Endpoint:       c.config.Endpoint,
		ReconnectCount: int(c.reconnectCount.Load()),
		LastError:      c.getLastError(),
	}
}

// Close closes the client and releases all resources.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}

	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.mu.Unlock()

	c.wg.Wait()
	err := c.conn.Close()
	close(c.updates)
	return err
}

// setLastError safely sets the last error.
func (c *Client) setLastError(err error) {
	c.lastErrorMu.Lock()
	c.lastError = err
	c.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (c *Client) getLastError() error {
	c.lastErrorMu.RLock()
	defer c.lastErrorMu.RUnlock()
	return c.lastError
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"x-token": t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}

// minDuration returns the minimum of two durations.
func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// isRetryableError returns true if the error should trigger a retry.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal, codes.ResourceExhausted:
			return true
		}
	}

	return errors.Is(err, io.EOF) || errors.Is(err, ErrStreamClosed)
}
