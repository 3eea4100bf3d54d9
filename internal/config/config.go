package config

import "time"

// Config is the root configuration for the connectivity core. All components
// receive their settings from here at construction; nothing reads the
// environment after startup.
type Config struct {
	Venue      VenueConfig      `yaml:"venue"`
	Connection ConnectionConfig `yaml:"connection"`
	Feed       FeedConfig       `yaml:"feed"`
	Broker     BrokerConfig     `yaml:"broker"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Retry      RetryConfig      `yaml:"retry"`
}

// VenueConfig holds the remote venue endpoints and credentials.
// Credentials are supplied out of band (env expansion) and never logged.
type VenueConfig struct {
	RestURL   string        `yaml:"rest_url"`
	WSURL     string        `yaml:"ws_url"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ConnectionConfig holds streaming connection manager settings.
type ConnectionConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"` // 0 = unbounded
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	SendBufferSize       int           `yaml:"send_buffer_size"`
	MessageBufferSize    int           `yaml:"message_buffer_size"`
}

// FeedConfig holds live data feed settings.
type FeedConfig struct {
	Instruments         []string      `yaml:"instruments"`
	BarInterval         time.Duration `yaml:"bar_interval"`
	GapTolerance        int           `yaml:"gap_tolerance"` // Intervals beyond expected before a gap event
	PollInterval        time.Duration `yaml:"poll_interval"` // Consumer wait poll bound
	HistoryWindow       time.Duration `yaml:"history_window"`
	BackfillOnReconnect bool          `yaml:"backfill_on_reconnect"`
}

// BrokerConfig holds order tracker settings.
type BrokerConfig struct {
	SubmitQueueSize   int           `yaml:"submit_queue_size"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	OrderTimeout      time.Duration `yaml:"order_timeout"`
}

// RateLimitConfig bounds outbound REST request rate.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// RetryConfig holds retry policy settings for transient REST failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}
