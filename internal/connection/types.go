package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no inbound traffic)")
	ErrShuttingDown    = errors.New("connection manager shutting down")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the socket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket transport client.
type ClientConfig struct {
	URL               string        // Venue streaming endpoint
	APIKey            string        // Bearer credential, never logged
	HeartbeatInterval time.Duration // Ping send period
	HeartbeatTimeout  time.Duration // Max silence before the connection is stale
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Inbound message channel capacity
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL                  string
	APIKey               string
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	ReconnectBaseDelay   time.Duration // First reconnect wait
	ReconnectMaxDelay    time.Duration // Backoff cap
	ReconnectMaxAttempts int           // Consecutive failures before giving up; 0 = unbounded
	WriteTimeout         time.Duration
	SendBufferSize       int // Offline send queue capacity, oldest dropped first
	MessageBufferSize    int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HeartbeatInterval:  15 * time.Second,
		HeartbeatTimeout:   45 * time.Second,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		WriteTimeout:       5 * time.Second,
		SendBufferSize:     256,
		MessageBufferSize:  10000,
	}
}

// clientConfig derives the transport config for one dial attempt.
func (c ManagerConfig) clientConfig() ClientConfig {
	return ClientConfig{
		URL:               c.URL,
		APIKey:            c.APIKey,
		HeartbeatInterval: c.HeartbeatInterval,
		HeartbeatTimeout:  c.HeartbeatTimeout,
		WriteTimeout:      c.WriteTimeout,
		BufferSize:        c.MessageBufferSize,
	}
}
