package geyser

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
)

// Default configuration values.
const (
	// DefaultKeepaliveTime is the default interval for keepalive pings.
	DefaultKeepaliveTime = 10 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultMinPingInterval is the shortest client ping interval the server
	// tolerates.
	DefaultMinPingInterval = 5 * time.Second

	// DefaultReconnectMinDelay is the minimum delay before reconnecting.
	DefaultReconnectMinDelay = 1 * time.Second

	// DefaultReconnectMaxDelay is the maximum delay before reconnecting.
	DefaultReconnectMaxDelay = 60 * time.Second

	// DefaultUpdateChannelSize is the default buffer size for update channels.
	DefaultUpdateChannelSize = 1024

	// DefaultMaxMessageSize is the default maximum gRPC message size. An
	// account update carries at most one 10 MiB account.
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// DefaultMaxSubscribers bounds concurrent subscriptions.
	DefaultMaxSubscribers = 256

	// DefaultMaxFilterKeys bounds the keys in one subscription filter.
	DefaultMaxFilterKeys = 1024
)

// Configuration errors.
var (
	ErrNoEndpoint    = errors.New("geyser endpoint is required")
	ErrInvalidConfig = errors.New("invalid geyser configuration")
)

// ServerConfig holds the configuration for the Geyser server.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string

	// Token, when set, must be presented by clients in the x-token header.
	// Can use environment variable expansion with ${VAR_NAME}.
	Token string

	MaxSubscribers int
	MaxFilterKeys  int

	// BufferSize is the per-subscriber queue length. A subscriber whose
	// queue is full is disconnected with ResourceExhausted.
	BufferSize int

	MaxMessageSize int

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	MinPingInterval  time.Duration
}

// DefaultServerConfig returns a server configuration with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":10000",
		MaxSubscribers:   DefaultMaxSubscribers,
		MaxFilterKeys:    DefaultMaxFilterKeys,
		BufferSize:       DefaultUpdateChannelSize,
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		MinPingInterval:  DefaultMinPingInterval,
	}
}

// Validate checks if the configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.MaxSubscribers <= 0 {
		return fmt.Errorf("%w: max subscribers must be positive", ErrInvalidConfig)
	}
	if c.MaxFilterKeys <= 0 {
		return fmt.Errorf("%w: max filter keys must be positive", ErrInvalidConfig)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTime <= 0 || c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive time and timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// ClientConfig holds the configuration for the Geyser client.
type ClientConfig struct {
	// Endpoint is the gRPC endpoint (e.g., "localhost:10000"). Required.
	Endpoint string

	// Token is sent in the x-token header.
	// Can use environment variable expansion with ${VAR_NAME}.
	Token string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// Reconnection configuration.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	MaxReconnects     int // 0 = unlimited

	// UpdateChannelSize is the buffer of the Updates channel. When it is
	// full the oldest update is dropped.
	UpdateChannelSize int

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// Headers are additional headers to send with gRPC requests.
	Headers map[string]string

	// DialOptions are appended to the options the client builds itself.
	DialOptions []grpc.DialOption

	// OnUpdate is called for each received update (optional).
	// Called synchronously - should not block.
	OnUpdate func(*Update)

	// OnDisconnect is called when the stream is lost (optional).
	OnDisconnect func(error)

	// OnReconnect is called when reconnection succeeds (optional).
	OnReconnect func(attempt int)
}

// DefaultClientConfig returns a client configuration with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		KeepaliveTime:     DefaultKeepaliveTime,
		KeepaliveTimeout:  DefaultKeepaliveTimeout,
		ReconnectMinDelay: DefaultReconnectMinDelay,
		ReconnectMaxDelay: DefaultReconnectMaxDelay,
		UpdateChannelSize: DefaultUpdateChannelSize,
		MaxMessageSize:    DefaultMaxMessageSize,
		Headers:           make(map[string]string),
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}

	if c.UpdateChannelSize <= 0 {
		return fmt.Errorf("%w: update channel size must be positive", ErrInvalidConfig)
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}

	if c.KeepaliveTime <= 0 {
		return fmt.Errorf("%w: keepalive time must be positive", ErrInvalidConfig)
	}

	if c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive timeout must be positive", ErrInvalidConfig)
	}

	if c.ReconnectMinDelay <= 0 {
		return fmt.Errorf("%w: reconnect min delay must be positive", ErrInvalidConfig)
	}

	if c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("%w: reconnect max delay must be >= min delay", ErrInvalidConfig)
	}

	return nil
}

// WithDefaults returns a new config with default values applied for any
// zero values in the original config.
func (c ClientConfig) WithDefaults() ClientConfig {
	defaults := DefaultClientConfig()

	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.ReconnectMinDelay == 0 {
		c.ReconnectMinDelay = defaults.ReconnectMinDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if c.UpdateChannelSize == 0 {
		c.UpdateChannelSize = defaults.UpdateChannelSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.Headers == nil {
		c.Headers = defaults.Headers
	}

	return c
}

// expandEnvVars expands ${VAR} references in a string.
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := result[start+2 : end]
		result = result[:start] + os.Getenv(varName) + result[end+1:]
	}
	return result
}
