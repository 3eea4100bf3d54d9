package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout           = 30 * time.Second
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultHeartbeatTimeout     = 45 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultSendBufferSize       = 256
	DefaultMessageBufferSize    = 10000
	DefaultBarInterval          = 1 * time.Minute
	DefaultGapTolerance         = 1
	DefaultFeedPollInterval     = 100 * time.Millisecond
	DefaultHistoryWindow        = 24 * time.Hour
	DefaultSubmitQueueSize      = 128
	DefaultReconcileInterval    = 30 * time.Second
	DefaultOrderTimeout         = 60 * time.Second
	DefaultRateLimitRequests    = 10
	DefaultRateLimitWindow      = 1 * time.Second
	DefaultRetryMaxAttempts     = 3
	DefaultRetryBaseDelay       = 500 * time.Millisecond
	DefaultRetryMaxDelay        = 10 * time.Second
)

func (c *Config) applyDefaults() {
	// Venue defaults
	if c.Venue.Timeout == 0 {
		c.Venue.Timeout = DefaultAPITimeout
	}

	// Connection defaults
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.HeartbeatTimeout == 0 {
		c.Connection.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.SendBufferSize == 0 {
		c.Connection.SendBufferSize = DefaultSendBufferSize
	}
	if c.Connection.MessageBufferSize == 0 {
		c.Connection.MessageBufferSize = DefaultMessageBufferSize
	}

	// Feed defaults
	if c.Feed.BarInterval == 0 {
		c.Feed.BarInterval = DefaultBarInterval
	}
	if c.Feed.GapTolerance == 0 {
		c.Feed.GapTolerance = DefaultGapTolerance
	}
	if c.Feed.PollInterval == 0 {
		c.Feed.PollInterval = DefaultFeedPollInterval
	}
	if c.Feed.HistoryWindow == 0 {
		c.Feed.HistoryWindow = DefaultHistoryWindow
	}

	// Broker defaults
	if c.Broker.SubmitQueueSize == 0 {
		c.Broker.SubmitQueueSize = DefaultSubmitQueueSize
	}
	if c.Broker.ReconcileInterval == 0 {
		c.Broker.ReconcileInterval = DefaultReconcileInterval
	}
	if c.Broker.OrderTimeout == 0 {
		c.Broker.OrderTimeout = DefaultOrderTimeout
	}

	// Rate limit defaults
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = DefaultRateLimitRequests
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateLimitWindow
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultRetryMaxDelay
	}
}
